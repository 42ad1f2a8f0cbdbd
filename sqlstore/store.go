package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names the SQL backend. Its value is also the database/sql driver
// name registered by lib/pq and modernc.org/sqlite.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store groups the SQL-backed stores over one *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New returns a Store. Run Migrate first.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Credentials() *CredentialStore {
	return &CredentialStore{db: s.db}
}

func (s *Store) Sessions() *SessionStore {
	return &SessionStore{db: s.db}
}

func (s *Store) RefreshTokens() *RefreshTokenStore {
	return &RefreshTokenStore{db: s.db}
}

func (s *Store) OneTime() *OneTimeStore {
	return &OneTimeStore{db: s.db}
}

func (s *Store) Ledger() *LoginAttemptLedger {
	return &LoginAttemptLedger{db: s.db}
}

var (
	_ authcore.CredentialStore        = (*CredentialStore)(nil)
	_ authcore.SessionStore           = (*SessionStore)(nil)
	_ authcore.RefreshTokenStore      = (*RefreshTokenStore)(nil)
	_ authcore.OneTimeCredentialStore = (*OneTimeStore)(nil)
	_ authcore.LoginAttemptLedger     = (*LoginAttemptLedger)(nil)
	_ authcore.CascadeRevoker         = (*Store)(nil)
	_ authcore.SessionCounter         = (*SessionStore)(nil)
)

// RevokeUserCredentials deactivates sessions and revokes refresh tokens of
// userID in one transaction.
func (s *Store) RevokeUserCredentials(ctx context.Context, userID string, at time.Time) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin cascade: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, deactivateUserSessionsSQL, false, userID); err != nil {
		return fmt.Errorf("sqlstore: deactivate sessions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, revokeUserRefreshSQL, at.UnixMilli(), userID); err != nil {
		return fmt.Errorf("sqlstore: revoke refresh tokens: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit cascade: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
