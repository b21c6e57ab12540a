package sqlite

import (
	"context"
	"database/sql"

	"github.com/quollsec/warden/internal/auth/domain"
)

type clientsRepo struct {
	db dbtx
}

const clientColumns = `id, name, secret_hash, grant_types, scopes, protected, created_at, updated_at`

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClientRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	grantTypes := make([]string, len(c.GrantTypes))
	for i, gt := range c.GrantTypes {
		grantTypes[i] = string(gt)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, secret_hash, grant_types, scopes, protected)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, mapStringNull(c.SecretHash),
		joinFields(grantTypes), joinFields(c.Scopes), c.Protected,
	)
	return err
}

func (r *clientsRepo) UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clients SET secret_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		mapStringNull(secretHash), clientID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *clientsRepo) UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clients SET scopes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		joinFields(scopes), clientID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM clients WHERE id = ? AND protected = 0`, clientID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *clientsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row *sql.Row) (domain.Client, error) {
	c, err := scanClientFrom(row)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	return c, nil
}

func scanClientRows(rows *sql.Rows) (domain.Client, error) {
	return scanClientFrom(rows)
}

func scanClientFrom(s rowScanner) (domain.Client, error) {
	var (
		c          domain.Client
		secretHash sql.NullString
		grantTypes string
		scopes     string
	)

	err := s.Scan(&c.ID, &c.Name, &secretHash, &grantTypes, &scopes,
		&c.Protected, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Client{}, err
	}

	c.SecretHash = mapNullString(secretHash)
	for _, gt := range splitAndFilter(grantTypes) {
		c.GrantTypes = append(c.GrantTypes, domain.GrantType(gt))
	}
	c.Scopes = splitAndFilter(scopes)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
