package store

import (
	"context"
	"errors"
	"time"

	"github.com/quollsec/warden/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrVersionConflict is returned when an optimistic write loses to a
	// concurrent update. The caller retries the whole read-decide-write
	// sequence, not just the write.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrIntegrity signals a referential-integrity violation, e.g. a grant
	// whose registered client no longer exists. This is a configuration
	// defect, not a normal not-found.
	ErrIntegrity = errors.New("store: referential integrity violation")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable, and to stop callers from accidentally nesting
// transactions.
type Store interface {
	Accounts() Accounts
	Clients() Clients
	Roles() Roles
	Grants() Grants

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed. This is the
	// recommended way to handle transactions.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetAccountByID returns an account by id, including its MFA state.
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByUsername is used during the password grant.
	GetAccountByUsername(ctx context.Context, username string) (domain.Account, error)

	// CreateAccount inserts a new account (id is provided by app via ULID).
	CreateAccount(ctx context.Context, a domain.Account) error

	// UpdateAccount persists every mutable field guarded by the optimistic
	// version counter: the write succeeds only if the stored version still
	// equals a.Version, and bumps it by one. Returns ErrVersionConflict
	// when a concurrent writer won.
	UpdateAccount(ctx context.Context, a domain.Account) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error

	// SoftDeleteAccount marks the account deleted; rows are never removed.
	SoftDeleteAccount(ctx context.Context, accountID string) error

	// IsEmpty returns true if there are no accounts.
	IsEmpty(ctx context.Context) (bool, error)
}

type Clients interface {
	// GetClientByID fetches a client (for password/client_credentials grants).
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients ordered by creation date (newest first).
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client (id is ULID; secret_hash may be empty for public clients).
	CreateClient(ctx context.Context, c domain.Client) error

	UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error
	UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error

	// DeleteClient removes a client. Grants referencing it become integrity
	// violations on load, so revoke them first.
	DeleteClient(ctx context.Context, clientID string) error

	// IsEmpty returns true if there are no clients.
	IsEmpty(ctx context.Context) (bool, error)
}

type Roles interface {
	// GetRoleByID fetches a role by its ID
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)

	// GetRoleByName fetches a role by its name (for bootstrap)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)

	// GetRolesByIDs fetches the named roles, used for authority resolution.
	GetRolesByIDs(ctx context.Context, ids []string) ([]domain.Role, error)

	// ListAll returns all roles in the system
	ListAll(ctx context.Context) ([]domain.Role, error)

	// CreateRole inserts a new role (id is ULID)
	CreateRole(ctx context.Context, r domain.Role) error

	// DeleteRole removes a role (should fail if accounts still reference it)
	DeleteRole(ctx context.Context, roleID string) error

	// IsEmpty returns true if there are no roles
	IsEmpty(ctx context.Context) (bool, error)
}

type Grants interface {
	// SaveGrant upserts the parent grant row and every token child present
	// on the in-memory grant, atomically.
	SaveGrant(ctx context.Context, g domain.AuthorizationGrant) error

	// GetGrantByID loads a grant with its full token family. Returns
	// ErrIntegrity when the referenced client is missing.
	GetGrantByID(ctx context.Context, id string) (domain.AuthorizationGrant, error)

	// GetGrantByToken looks a grant up by a token value. A zero kind
	// searches across all kinds plus the state correlation column; token
	// values are globally unique so the first match wins.
	GetGrantByToken(ctx context.Context, value string, kind domain.TokenKind) (domain.AuthorizationGrant, error)

	// RemoveGrant deletes the parent row; children cascade.
	RemoveGrant(ctx context.Context, id string) error

	// DeleteExpiredGrants removes grants whose every token has expired
	// before the cutoff (housekeeping).
	DeleteExpiredGrants(ctx context.Context, cutoff time.Time) error
}
