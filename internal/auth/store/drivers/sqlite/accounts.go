package sqlite

import (
	"context"
	"database/sql"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `id, username, email, password_hash, role_ids,
	email_verified, deleted,
	mfa_id, mfa_enabled, mfa_device_verified, mfa_factor_verified,
	mfa_secret, mfa_device_label, mfa_factor_type, mfa_valid_until,
	version, created_at, updated_at`

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	return scanAccount(row)
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	var factorType sql.NullString
	if a.MFA.FactorType != nil {
		factorType = sql.NullString{String: string(*a.MFA.FactorType), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, role_ids,
			email_verified, deleted,
			mfa_id, mfa_enabled, mfa_device_verified, mfa_factor_verified,
			mfa_secret, mfa_device_label, mfa_factor_type, mfa_valid_until,
			version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		a.ID, a.Username, a.Email, a.PasswordHash, joinFields(a.RoleIDs),
		a.EmailVerified, a.Deleted,
		a.MFA.ID, a.MFA.Enabled, a.MFA.DeviceVerified, a.MFA.FactorVerified,
		mapOptionalString(a.MFA.Secret), mapOptionalString(a.MFA.DeviceLabel),
		factorType, mapOptionalTime(a.MFA.ValidUntil),
	)
	return err
}

// UpdateAccount writes every mutable field guarded by the version counter.
// A concurrent writer that committed first makes the WHERE clause miss,
// which surfaces as ErrVersionConflict so the caller can re-read and retry.
func (r *accountsRepo) UpdateAccount(ctx context.Context, a domain.Account) error {
	var factorType sql.NullString
	if a.MFA.FactorType != nil {
		factorType = sql.NullString{String: string(*a.MFA.FactorType), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			username = ?, email = ?, password_hash = ?, role_ids = ?,
			email_verified = ?, deleted = ?,
			mfa_enabled = ?, mfa_device_verified = ?, mfa_factor_verified = ?,
			mfa_secret = ?, mfa_device_label = ?, mfa_factor_type = ?, mfa_valid_until = ?,
			version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`,
		a.Username, a.Email, a.PasswordHash, joinFields(a.RoleIDs),
		a.EmailVerified, a.Deleted,
		a.MFA.Enabled, a.MFA.DeviceVerified, a.MFA.FactorVerified,
		mapOptionalString(a.MFA.Secret), mapOptionalString(a.MFA.DeviceLabel),
		factorType, mapOptionalTime(a.MFA.ValidUntil),
		a.ID, a.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or someone else won the write.
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, a.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}
	return nil
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		newHash, accountID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *accountsRepo) SoftDeleteAccount(ctx context.Context, accountID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET deleted = 1, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		accountID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *accountsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func scanAccount(row *sql.Row) (domain.Account, error) {
	var (
		a          domain.Account
		roleIDs    string
		secret     sql.NullString
		label      sql.NullString
		factorType sql.NullString
		validUntil sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &roleIDs,
		&a.EmailVerified, &a.Deleted,
		&a.MFA.ID, &a.MFA.Enabled, &a.MFA.DeviceVerified, &a.MFA.FactorVerified,
		&secret, &label, &factorType, &validUntil,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.RoleIDs = splitAndFilter(roleIDs)
	a.MFA.Secret = mapNullStringPtr(secret)
	a.MFA.DeviceLabel = mapNullStringPtr(label)
	if factorType.Valid {
		ft := domain.FactorType(factorType.String)
		a.MFA.FactorType = &ft
	}
	a.MFA.ValidUntil = mapNullTimePtr(validUntil)
	if a.MFA.ValidUntil != nil {
		utc := a.MFA.ValidUntil.UTC()
		a.MFA.ValidUntil = &utc
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return a, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
