package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
)

// grantsRepo persists authorization grants as one parent row plus one
// grant_tokens row per token kind present on the in-memory grant.
//
// beginner is set only when the repo is backed by the raw *sql.DB; SaveGrant
// uses it to wrap the parent+children writes in their own transaction. When
// the repo lives inside a Tx-scoped store, beginner is nil and the
// surrounding transaction provides atomicity.
type grantsRepo struct {
	db       dbtx
	beginner *sql.DB
}

func (r *grantsRepo) SaveGrant(ctx context.Context, g domain.AuthorizationGrant) error {
	if r.beginner != nil {
		tx, err := r.beginner.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := saveGrantIn(ctx, tx, g); err != nil {
			return err
		}
		return tx.Commit()
	}
	return saveGrantIn(ctx, r.db, g)
}

func saveGrantIn(ctx context.Context, db dbtx, g domain.AuthorizationGrant) error {
	attrs, err := json.Marshal(orEmptyMap(g.Attributes))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO authorization_grants (id, client_id, principal_name, grant_type, scopes, attributes, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			principal_name = excluded.principal_name,
			grant_type = excluded.grant_type,
			scopes = excluded.scopes,
			attributes = excluded.attributes,
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		g.ID, g.ClientID, g.PrincipalName, string(g.GrantType),
		joinFields(g.Scopes), string(attrs), mapStringNull(g.State),
	)
	if err != nil {
		return err
	}

	for _, kind := range domain.TokenKinds {
		tok := g.Token(kind)
		if tok == nil {
			continue
		}

		meta, err := json.Marshal(orEmptyMap(tok.Metadata))
		if err != nil {
			return err
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO grant_tokens (grant_id, kind, value, issued_at, expires_at, scopes, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(grant_id, kind) DO UPDATE SET
				value = excluded.value,
				issued_at = excluded.issued_at,
				expires_at = excluded.expires_at,
				scopes = excluded.scopes,
				metadata = excluded.metadata`,
			g.ID, string(kind), tok.Value, tok.IssuedAt.UTC(), tok.ExpiresAt.UTC(),
			joinFields(tok.Scopes), string(meta),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *grantsRepo) GetGrantByID(ctx context.Context, id string) (domain.AuthorizationGrant, error) {
	return r.loadGrant(ctx, `WHERE g.id = ?`, id)
}

func (r *grantsRepo) GetGrantByToken(ctx context.Context, value string, kind domain.TokenKind) (domain.AuthorizationGrant, error) {
	var (
		grantID string
		err     error
	)

	if kind != "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT grant_id FROM grant_tokens WHERE value = ? AND kind = ?`,
			value, string(kind)).Scan(&grantID)
	} else {
		// Token values are globally unique across kinds, so a single probe
		// of the child table suffices; the state correlation column on the
		// parent is the fallback.
		err = r.db.QueryRowContext(ctx, `
			SELECT grant_id FROM grant_tokens WHERE value = ?
			UNION ALL
			SELECT id FROM authorization_grants WHERE state = ?
			LIMIT 1`,
			value, value).Scan(&grantID)
	}
	if err != nil {
		return domain.AuthorizationGrant{}, mapNotFound(err)
	}

	return r.loadGrant(ctx, `WHERE g.id = ?`, grantID)
}

func (r *grantsRepo) RemoveGrant(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM authorization_grants WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *grantsRepo) DeleteExpiredGrants(ctx context.Context, cutoff time.Time) error {
	// A grant is dead once every token it owns expired before the cutoff.
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM authorization_grants
		WHERE id IN (SELECT grant_id FROM grant_tokens GROUP BY grant_id HAVING MAX(expires_at) < ?)`,
		cutoff.UTC(),
	)
	return err
}

func (r *grantsRepo) loadGrant(ctx context.Context, where string, args ...any) (domain.AuthorizationGrant, error) {
	var (
		g     domain.AuthorizationGrant
		gt    string
		scope string
		attrs string
		state sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT g.id, g.client_id, g.principal_name, g.grant_type, g.scopes, g.attributes, g.state,
		       g.created_at, g.updated_at
		FROM authorization_grants g `+where, args...).Scan(
		&g.ID, &g.ClientID, &g.PrincipalName, &gt, &scope, &attrs, &state,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.AuthorizationGrant{}, mapNotFound(err)
	}

	g.GrantType = domain.GrantType(gt)
	g.Scopes = splitAndFilter(scope)
	g.State = mapNullString(state)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(attrs), &g.Attributes); err != nil {
		return domain.AuthorizationGrant{}, err
	}

	// A grant without its registered client is a referential-integrity
	// violation, not a normal miss; refuse to reconstruct it.
	var clientExists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM clients WHERE id = ?)`, g.ClientID).Scan(&clientExists)
	if err != nil {
		return domain.AuthorizationGrant{}, err
	}
	if !clientExists {
		return domain.AuthorizationGrant{}, store.ErrIntegrity
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, value, issued_at, expires_at, scopes, metadata
		FROM grant_tokens WHERE grant_id = ?`, g.ID)
	if err != nil {
		return domain.AuthorizationGrant{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind   string
			tok    domain.Token
			scopes string
			meta   string
		)
		if err := rows.Scan(&kind, &tok.Value, &tok.IssuedAt, &tok.ExpiresAt, &scopes, &meta); err != nil {
			return domain.AuthorizationGrant{}, err
		}
		tok.IssuedAt = tok.IssuedAt.UTC()
		tok.ExpiresAt = tok.ExpiresAt.UTC()
		tok.Scopes = splitAndFilter(scopes)
		if err := json.Unmarshal([]byte(meta), &tok.Metadata); err != nil {
			return domain.AuthorizationGrant{}, err
		}
		if err := g.SetToken(domain.TokenKind(kind), &tok); err != nil {
			return domain.AuthorizationGrant{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.AuthorizationGrant{}, err
	}

	return g, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
