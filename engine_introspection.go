package authcore

import (
	"context"
	"errors"
	"time"
)

// ErrCountUnsupported is returned by ActiveSessionCount when the session store
// does not implement SessionCounter.
var ErrCountUnsupported = errors.New("session store cannot count sessions")

// SessionCounter is implemented by session stores that can count a user's
// live sessions. Both bundled backends do.
type SessionCounter interface {
	ActiveCount(ctx context.Context, userID string, now time.Time) (int, error)
}

// ActiveSessionCount returns the number of active, unexpired sessions of userID.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (n int, err error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	ctx, span := e.startSpan(ctx, "ActiveSessionCount")
	defer func() { finishSpan(span, err) }()

	if userID == "" {
		return 0, NotFound(msgUserNotFound)
	}
	counter, ok := e.sessions.(SessionCounter)
	if !ok {
		return 0, ErrCountUnsupported
	}
	return counter.ActiveCount(ctx, userID, e.now())
}
