package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
)

type RefreshTokenStore struct {
	db *sql.DB
}

func (r *RefreshTokenStore) Create(ctx context.Context, t *authcore.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO refresh_tokens
		(id, token_hash, user_id, session_id, remember_me, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.TokenHash, t.UserID, t.SessionID, t.RememberMe,
		t.ExpiresAt.UnixMilli(), nullMillis(t.RevokedAt), t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*authcore.RefreshToken, error) {
	var (
		t                  authcore.RefreshToken
		expiresAt, created int64
		revokedAt          sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, token_hash, user_id, session_id, remember_me,
		expires_at, revoked_at, created_at FROM refresh_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.ID, &t.TokenHash, &t.UserID, &t.SessionID, &t.RememberMe, &expiresAt, &revokedAt, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: find refresh token: %w", err)
	}
	t.ExpiresAt = fromMillis(expiresAt)
	t.RevokedAt = timePtr(revokedAt)
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

// Revoke is a conditional update; only the caller whose UPDATE touched the
// row gets true.
func (r *RefreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("sqlstore: revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: revoke refresh token: %w", err)
	}
	return n == 1, nil
}

func (r *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, revokeUserRefreshSQL, at.UnixMilli(), userID); err != nil {
		return fmt.Errorf("sqlstore: revoke user refresh tokens: %w", err)
	}
	return nil
}

func (r *RefreshTokenStore) RevokeAllForSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE session_id = $2 AND revoked_at IS NULL`, at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlstore: revoke session refresh tokens: %w", err)
	}
	return nil
}

// PurgeExpired deletes refresh tokens that expired before cutoff.
func (r *RefreshTokenStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
