package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
)

// OneTimeStore keeps one pending credential per (kind, email). An empty email
// on lookup matches by hash alone.
type OneTimeStore struct {
	db *sql.DB
}

func (o *OneTimeStore) Create(ctx context.Context, c *authcore.OneTimeCredential) error {
	_, err := o.db.ExecContext(ctx, `INSERT INTO one_time_credentials
		(kind, email, code_hash, ip_address, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, email) DO UPDATE SET
			code_hash = excluded.code_hash,
			ip_address = excluded.ip_address,
			user_agent = excluded.user_agent,
			expires_at = excluded.expires_at,
			attempts = 0,
			created_at = excluded.created_at`,
		string(c.Kind), c.Email, c.CodeHash, c.IPAddress, c.UserAgent,
		c.ExpiresAt.UnixMilli(), c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert one-time credential: %w", err)
	}
	return nil
}

func (o *OneTimeStore) FindValid(ctx context.Context, kind authcore.CredentialKind, email, codeHash string, now time.Time) (*authcore.OneTimeCredential, error) {
	query, args := matchClause(`SELECT kind, email, code_hash, ip_address, user_agent, expires_at, attempts, created_at
		FROM one_time_credentials`, kind, email, codeHash, now)

	var (
		c                  authcore.OneTimeCredential
		k                  string
		expiresAt, created int64
	)
	err := o.db.QueryRowContext(ctx, query, args...).
		Scan(&k, &c.Email, &c.CodeHash, &c.IPAddress, &c.UserAgent, &expiresAt, &c.Attempts, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: find one-time credential: %w", err)
	}
	c.Kind = authcore.CredentialKind(k)
	c.ExpiresAt = fromMillis(expiresAt)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// Consume deletes the matching row. The DELETE is the arbiter between
// concurrent callers: at most one sees a row affected.
func (o *OneTimeStore) Consume(ctx context.Context, kind authcore.CredentialKind, email, codeHash string, now time.Time) (bool, error) {
	query, args := matchClause(`DELETE FROM one_time_credentials`, kind, email, codeHash, now)
	res, err := o.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlstore: consume one-time credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: consume one-time credential: %w", err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter of the pending credential and
// deletes it in the same transaction once maxAttempts is reached.
func (o *OneTimeStore) RecordFailure(ctx context.Context, kind authcore.CredentialKind, email string, maxAttempts int, now time.Time) (removed bool, err error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlstore: begin one-time failure: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE one_time_credentials SET attempts = attempts + 1
		WHERE kind = $1 AND email = $2 AND expires_at > $3`, string(kind), email, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("sqlstore: count one-time failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: count one-time failure: %w", err)
	}

	if n > 0 {
		res, err = tx.ExecContext(ctx, `DELETE FROM one_time_credentials
			WHERE kind = $1 AND email = $2 AND attempts >= $3`, string(kind), email, maxAttempts)
		if err != nil {
			return false, fmt.Errorf("sqlstore: drop exhausted one-time credential: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return false, fmt.Errorf("sqlstore: drop exhausted one-time credential: %w", err)
		}
		removed = n > 0
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlstore: commit one-time failure: %w", err)
	}
	return removed, nil
}

// PurgeExpired deletes credentials that expired before cutoff.
func (o *OneTimeStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := o.db.ExecContext(ctx, `DELETE FROM one_time_credentials WHERE expires_at <= $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge one-time credentials: %w", err)
	}
	return res.RowsAffected()
}

func matchClause(head string, kind authcore.CredentialKind, email, codeHash string, now time.Time) (string, []any) {
	query := head + ` WHERE kind = $1 AND code_hash = $2 AND expires_at > $3`
	args := []any{string(kind), codeHash, now.UnixMilli()}
	if email != "" {
		query += ` AND email = $4`
		args = append(args, email)
	}
	return query, args
}
