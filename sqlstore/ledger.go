package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/google/uuid"
)

// LoginAttemptLedger appends rows to login_attempts.
type LoginAttemptLedger struct {
	db *sql.DB
}

func (l *LoginAttemptLedger) Append(ctx context.Context, a authcore.LoginAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO login_attempts
		(id, email, ip_address, user_agent, success, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Email, a.IPAddress, a.UserAgent, a.Success, a.FailureReason, a.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: append login attempt: %w", err)
	}
	return nil
}

// RecentFailures counts failed attempts for email at or after since.
func (l *LoginAttemptLedger) RecentFailures(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND success = $2 AND created_at >= $3`, email, false, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count login failures: %w", err)
	}
	return n, nil
}
