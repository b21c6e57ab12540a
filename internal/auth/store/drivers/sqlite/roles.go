package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
)

type rolesRepo struct {
	db dbtx
}

const roleColumns = `id, name, scopes, created_at, updated_at`

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = ?`, id)
	return scanRole(row)
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE name = ?`, name)
	return scanRole(row)
}

func (r *rolesRepo) GetRolesByIDs(ctx context.Context, ids []string) ([]domain.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id IN (`+placeholders+`) ORDER BY name`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRoles(rows)
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRoles(rows)
}

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, scopes) VALUES (?, ?, ?)`,
		role.ID, role.Name, joinFields(role.Scopes),
	)
	return err
}

func (r *rolesRepo) DeleteRole(ctx context.Context, roleID string) error {
	// Accounts store role ids space-delimited, so referencing accounts are
	// found with a delimiter-padded LIKE.
	var inUse bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM accounts
			WHERE ' ' || role_ids || ' ' LIKE '% ' || ? || ' %'
		)`, roleID).Scan(&inUse)
	if err != nil {
		return err
	}
	if inUse {
		return store.ErrIntegrity
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, roleID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *rolesRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func scanRole(row *sql.Row) (domain.Role, error) {
	var (
		role   domain.Role
		scopes string
	)
	err := row.Scan(&role.ID, &role.Name, &scopes, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	role.Scopes = splitAndFilter(scopes)
	role.CreatedAt = role.CreatedAt.UTC()
	role.UpdatedAt = role.UpdatedAt.UTC()
	return role, nil
}

func collectRoles(rows *sql.Rows) ([]domain.Role, error) {
	var out []domain.Role
	for rows.Next() {
		var (
			role   domain.Role
			scopes string
		)
		if err := rows.Scan(&role.ID, &role.Name, &scopes, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Scopes = splitAndFilter(scopes)
		role.CreatedAt = role.CreatedAt.UTC()
		role.UpdatedAt = role.UpdatedAt.UTC()
		out = append(out, role)
	}
	return out, rows.Err()
}
