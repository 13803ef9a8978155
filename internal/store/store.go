// Package store persists per-agent channel authorization material.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no credential or session row exists for
// the requested agent.
var ErrNotFound = errors.New("not found")

// TelegramCredential is the persisted authorization record for an
// agent's Telegram bot. Rows are soft-deactivated on disconnect so the
// token survives for a later redeploy.
type TelegramCredential struct {
	AgentID    string
	BotToken   string
	WebhookURL string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WhatsAppSession marks that an agent has a previously paired WhatsApp
// device. The cryptographic session material itself lives in the
// whatsmeow device store; this row only records which device belongs to
// which agent. Rows are hard-deleted on disconnect.
type WhatsAppSession struct {
	AgentID   string
	DeviceJID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CredentialStore persists channel credentials and sessions. At most
// one row exists per (agent, channel).
type CredentialStore interface {
	GetTelegram(ctx context.Context, agentID string) (*TelegramCredential, error)
	UpsertTelegram(ctx context.Context, cred *TelegramCredential) error
	DeactivateTelegram(ctx context.Context, agentID string) error
	ListActiveTelegram(ctx context.Context) ([]*TelegramCredential, error)

	GetWhatsApp(ctx context.Context, agentID string) (*WhatsAppSession, error)
	UpsertWhatsApp(ctx context.Context, sess *WhatsAppSession) error
	DeleteWhatsApp(ctx context.Context, agentID string) error
	ListWhatsApp(ctx context.Context) ([]*WhatsAppSession, error)

	Close() error
}
