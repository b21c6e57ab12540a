package jwtx

import (
	"fmt"
	"math/rand"
	"sync"
)

// KeyManagerOptions configure an ephemeral KeyManager.
type KeyManagerOptions struct {
	// NumKeys is how many signing keys to generate. Defaults to 3 so key
	// rotation can retire one key without emptying the set.
	NumKeys int

	// Issuer and Audience are baked into the manager's Verifier.
	Issuer   string
	Audience []string
}

// KeyManager owns the signing keys for the service. Keys are generated at
// startup and never persisted; restarting the process invalidates all
// outstanding tokens, which is the intended trade-off for a system whose
// refresh flow can mint replacements.
type KeyManager struct {
	Verifier Verifier
	KeySet   *KeySet

	mu      sync.RWMutex
	signers []Signer
}

// NewEphemeralKeyManager generates opts.NumKeys Ed25519 keypairs in memory
// and wires them into a shared KeySet and Verifier.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	n := opts.NumKeys
	if n <= 0 {
		n = 3
	}

	ks := NewKeySet()
	signers := make([]Signer, 0, n)

	for i := 0; i < n; i++ {
		s, err := GenerateSignerEdDSA(fmt.Sprintf("ed25519-%d", i))
		if err != nil {
			return nil, err
		}
		if err := ks.AddSigner(s); err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}

	return &KeyManager{
		Verifier: NewVerifierEdDSA(ks, opts.Issuer, opts.Audience),
		KeySet:   ks,
		signers:  signers,
	}, nil
}

// GetSigner returns a random signer from the pool, spreading signatures
// across the key set. NewEphemeralKeyManager guarantees at least one signer
// exists.
func (m *KeyManager) GetSigner() Signer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.signers[rand.Intn(len(m.signers))]
}
