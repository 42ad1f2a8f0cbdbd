package notify

import (
	"context"

	"github.com/MrEthical07/authcore"
	"go.uber.org/zap"
)

// LogGateway writes notifications to a zap logger instead of delivering
// them. Codes and tokens are logged in clear; use it only in development.
type LogGateway struct {
	logger *zap.Logger
}

var _ authcore.NotificationGateway = (*LogGateway)(nil)

func NewLogGateway(logger *zap.Logger) *LogGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogGateway{logger: logger.Named("notify")}
}

func (g *LogGateway) SendTwoFactorToken(_ context.Context, email, code, displayName string) error {
	g.logger.Info("two-factor code",
		zap.String("email", email),
		zap.String("name", displayName),
		zap.String("code", code),
	)
	return nil
}

func (g *LogGateway) SendPasswordResetEmail(_ context.Context, email, token, displayName string) error {
	g.logger.Info("password reset token",
		zap.String("email", email),
		zap.String("name", displayName),
		zap.String("token", token),
	)
	return nil
}

func (g *LogGateway) SendPasswordResetSuccessEmail(_ context.Context, email, displayName string) error {
	g.logger.Info("password reset completed",
		zap.String("email", email),
		zap.String("name", displayName),
	)
	return nil
}
