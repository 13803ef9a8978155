// Package channels implements the per-agent channel connection
// lifecycle: live provider connections, the deploy/restart/disconnect
// state machine, reconnection with backoff, and the inbound-message to
// outbound-reply pipeline.
package channels

import (
	"context"
	"fmt"
)

// Kind identifies a messaging channel integration.
type Kind string

const (
	// KindTelegram is the webhook-style Telegram bot integration.
	KindTelegram Kind = "telegram"

	// KindWhatsApp is the persistent-session WhatsApp Web integration.
	KindWhatsApp Kind = "whatsapp"
)

// ParseKind parses a channel name from a request path.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTelegram:
		return KindTelegram, nil
	case KindWhatsApp:
		return KindWhatsApp, nil
	default:
		return "", ErrBadRequest(fmt.Sprintf("unknown channel %q", s), nil)
	}
}

// ConnState is the state of a live connection handle.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// StatusNotDeployed is the derived status reported when neither a live
// connection nor persisted authorization exists for the agent.
const StatusNotDeployed = "not_deployed"

// Connection is a live (agent, channel) connection handle. Exactly one
// exists per pair at a time; the Registry owns all handles.
type Connection interface {
	AgentID() string
	Kind() Kind
	State() ConnState

	// Send delivers text to a chat on the provider.
	Send(ctx context.Context, chatID, text string) error

	// Close tears down the handle. It does not touch provider-side
	// registrations or persisted authorization.
	Close(ctx context.Context) error
}

// WebhookConnection is a webhook-style connection: the provider pushes
// events to a registered URL and no standing connection is held.
type WebhookConnection interface {
	Connection

	// Unregister deletes the provider-side webhook registration.
	Unregister(ctx context.Context) error

	// AcknowledgeCallback answers a callback query so the provider
	// clears its loading state.
	AcknowledgeCallback(ctx context.Context, callbackID string) error
}

// SessionConnection is a persistent-session connection: this process
// holds a long-lived authenticated client object.
type SessionConnection interface {
	Connection

	// LastQR returns the most recent pairing code as a PNG data URL,
	// or "" when no pairing is pending.
	LastQR() string

	// Logout invalidates the provider-side pairing in addition to
	// closing the handle. Used on explicit disconnect.
	Logout(ctx context.Context) error
}

// Inbound is a provider event normalized to the common shape: either a
// text message or a callback (button click).
type Inbound struct {
	ChatID       string
	Text         string
	CallbackID   string
	CallbackData string
}

// IsCallback reports whether the event is a callback acknowledgement
// rather than a text message.
func (in Inbound) IsCallback() bool {
	return in.CallbackID != ""
}

// Material is the channel-appropriate credential supplied on deploy: a
// bot token for webhook-style channels, nothing for session-style ones
// (a fresh handshake is initiated instead).
type Material struct {
	BotToken string
}

// Deploy result statuses. Session-style deploys may return pending with
// a pairing code; the final connected state arrives out-of-band via
// SessionEvents and is observable through Status.
const (
	DeployStatusConnected = "connected"
	DeployStatusPending   = "pending"
)

// DeployResult is the channel-shape-dependent outcome of a deploy.
type DeployResult struct {
	Status      string `json:"status"`
	QR          string `json:"qr,omitempty"`
	BotUsername string `json:"botUsername,omitempty"`
	WebhookURL  string `json:"webhookUrl,omitempty"`
}

// StatusResult combines persisted authorization state with the live
// registry state for an agent's channel.
type StatusResult struct {
	Deployed   bool   `json:"deployed"`
	Status     string `json:"status"`
	QR         string `json:"qr,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

// SessionEvents receives state transitions from a session-style
// adapter. The Manager implements it; the adapter invokes each method
// exactly once per underlying client transition.
type SessionEvents interface {
	// OnQR fires when the client issues a pairing code.
	OnQR(agentID, qrDataURL string)

	// OnAuthenticated fires when pairing completes; the session is now
	// persisted in the provider SDK's own store.
	OnAuthenticated(agentID, deviceJID string)

	// OnReady fires when the client is fully connected.
	OnReady(agentID, deviceJID string)

	// OnDisconnected fires on unexpected drops only, never for
	// explicit Close/Logout.
	OnDisconnected(agentID, reason string)

	// OnInbound fires for each inbound text message.
	OnInbound(agentID string, in Inbound)
}

// WebhookDriver constructs webhook-style connections.
type WebhookDriver interface {
	// Validate performs the provider's lightweight identity check and
	// returns the bot username.
	Validate(ctx context.Context, botToken string) (string, error)

	// Connect builds the provider client and registers the webhook.
	Connect(ctx context.Context, agentID, botToken, webhookURL string) (WebhookConnection, error)
}

// SessionDriver constructs session-style connections. An empty
// deviceJID starts a fresh pairing handshake; otherwise the previously
// paired device is reused.
type SessionDriver interface {
	Connect(ctx context.Context, agentID, deviceJID string, events SessionEvents) (SessionConnection, *DeployResult, error)
}
