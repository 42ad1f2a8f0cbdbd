package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Register creates an active account. The returned user has no password hash.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (user *User, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { finishSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role.Name == "" {
		role.Name = "user"
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		IsActive:     true,
		Role:         role,
		CreatedAt:    e.now(),
	}
	if err := e.credentials.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metrics.Inc(MetricAccountDuplicate)
			return nil, Conflict(msgEmailTaken)
		}
		return nil, fmt.Errorf("authcore: create user: %w", err)
	}

	e.metrics.Inc(MetricAccountCreated)
	e.logger.Info("account created", zap.String("user_id", u.ID))

	out := *u
	out.PasswordHash = ""
	return &out, nil
}
