// Package notify provides authcore.NotificationGateway implementations: an
// SMTP sender for production and a zap-backed gateway for development.
package notify
