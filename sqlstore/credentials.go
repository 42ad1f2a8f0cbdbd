package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/google/uuid"
)

const userColumns = `id, email, display_name, password_hash, is_active, is_email_verified,
	two_factor_enabled, role_name, role_permissions, last_login_at, created_at`

// CredentialStore persists users. Emails are stored lower-cased.
type CredentialStore struct {
	db *sql.DB
}

func (c *CredentialStore) FindByEmail(ctx context.Context, email string) (*authcore.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (c *CredentialStore) FindByID(ctx context.Context, id string) (*authcore.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (c *CredentialStore) Create(ctx context.Context, u *authcore.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	perms, err := json.Marshal(nonNil(u.Role.Permissions))
	if err != nil {
		return fmt.Errorf("sqlstore: encode permissions: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.IsActive, u.IsEmailVerified,
		u.TwoFactorEnabled, u.Role.Name, string(perms), nullMillis(u.LastLoginAt), u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.ErrDuplicateEmail
		}
		return fmt.Errorf("sqlstore: insert user: %w", err)
	}
	return nil
}

func (c *CredentialStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return c.update(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
}

func (c *CredentialStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return c.update(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at.UnixMilli(), userID)
}

func (c *CredentialStore) EnableTwoFactor(ctx context.Context, userID string) error {
	return c.update(ctx, `UPDATE users SET two_factor_enabled = $1 WHERE id = $2`, true, userID)
}

func (c *CredentialStore) DisableTwoFactor(ctx context.Context, userID string) error {
	return c.update(ctx, `UPDATE users SET two_factor_enabled = $1 WHERE id = $2`, false, userID)
}

// SetActive and MarkEmailVerified back account administration outside the
// login engine.
func (c *CredentialStore) SetActive(ctx context.Context, userID string, active bool) error {
	return c.update(ctx, `UPDATE users SET is_active = $1 WHERE id = $2`, active, userID)
}

func (c *CredentialStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return c.update(ctx, `UPDATE users SET is_email_verified = $1 WHERE id = $2`, true, userID)
}

func (c *CredentialStore) update(ctx context.Context, query string, args ...any) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update user: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanUser(row *sql.Row) (*authcore.User, error) {
	var (
		u         authcore.User
		perms     string
		lastLogin sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.IsActive, &u.IsEmailVerified,
		&u.TwoFactorEnabled, &u.Role.Name, &perms, &lastLogin, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &u.Role.Permissions); err != nil {
		return nil, fmt.Errorf("sqlstore: decode permissions: %w", err)
	}
	u.LastLoginAt = timePtr(lastLogin)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
