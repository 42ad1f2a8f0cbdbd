package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
)

const (
	deactivateUserSessionsSQL = `UPDATE sessions SET active = $1 WHERE user_id = $2`
	revokeUserRefreshSQL      = `UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`
)

type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Create(ctx context.Context, sess *authcore.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, user_id, session_token, ip_address, user_agent, expires_at, remember_me, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.UserID, sess.SessionToken, sess.IPAddress, sess.UserAgent,
		sess.ExpiresAt.UnixMilli(), sess.RememberMe, sess.Active, sess.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*authcore.Session, error) {
	var (
		sess               authcore.Session
		expiresAt, created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, session_token, ip_address, user_agent,
		expires_at, remember_me, active, created_at FROM sessions WHERE id = $1`, sessionID).
		Scan(&sess.ID, &sess.UserID, &sess.SessionToken, &sess.IPAddress, &sess.UserAgent,
			&expiresAt, &sess.RememberMe, &sess.Active, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: get session: %w", err)
	}
	sess.ExpiresAt = fromMillis(expiresAt)
	sess.CreatedAt = fromMillis(created)
	return &sess, nil
}

func (s *SessionStore) Deactivate(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = $1 WHERE id = $2`, false, sessionID); err != nil {
		return fmt.Errorf("sqlstore: deactivate session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeactivateAllForUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, deactivateUserSessionsSQL, false, userID); err != nil {
		return fmt.Errorf("sqlstore: deactivate user sessions: %w", err)
	}
	return nil
}

// ActiveCount returns the number of active, unexpired sessions of userID.
func (s *SessionStore) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND active = $2 AND expires_at > $3`, userID, true, now.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count sessions: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes sessions that expired before cutoff.
func (s *SessionStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge sessions: %w", err)
	}
	return res.RowsAffected()
}
