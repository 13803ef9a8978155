package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentline/agentline/internal/ask"
	"github.com/agentline/agentline/internal/retry"
	"github.com/agentline/agentline/internal/store"
)

// ManagerConfig holds Connection Manager settings.
type ManagerConfig struct {
	// PublicBaseURL is the externally reachable base URL used to derive
	// webhook URLs, e.g. "https://bots.example.com".
	PublicBaseURL string

	// DeployTimeout bounds a single deploy attempt, including the wait
	// for a session-style handshake to produce a pairing code.
	DeployTimeout time.Duration

	// AskTimeout bounds each ask-gateway call made from the inbound
	// pipeline.
	AskTimeout time.Duration

	// Reconnect configures the backoff supervisor.
	Reconnect SupervisorConfig
}

func (c *ManagerConfig) validate() error {
	if strings.TrimSpace(c.PublicBaseURL) == "" {
		return fmt.Errorf("public base URL is required")
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	if c.DeployTimeout <= 0 {
		c.DeployTimeout = time.Minute
	}
	if c.AskTimeout <= 0 {
		c.AskTimeout = 30 * time.Second
	}
	return nil
}

// Manager owns the channel connection lifecycle for all agents. It is
// the only component that mutates the Registry, and it serializes
// lifecycle operations per agent so overlapping deploy/disconnect
// calls cannot leave the registry and the credential store
// inconsistent.
type Manager struct {
	cfg      ManagerConfig
	registry *Registry
	store    store.CredentialStore
	ask      *ask.Client
	telegram WebhookDriver
	whatsapp SessionDriver
	sup      *Supervisor
	logger   *slog.Logger
	metrics  map[Kind]*Metrics

	lockMu     sync.Mutex
	agentLocks map[registryKey]*sync.Mutex
}

// NewManager creates a Connection Manager. The registry is injected so
// tests can observe and seed live-connection state.
func NewManager(cfg ManagerConfig, registry *Registry, credStore store.CredentialStore,
	askClient *ask.Client, telegram WebhookDriver, whatsapp SessionDriver,
	logger *slog.Logger) (*Manager, error) {

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		store:    credStore,
		ask:      askClient,
		telegram: telegram,
		whatsapp: whatsapp,
		logger:   logger.With("component", "channels"),
		metrics: map[Kind]*Metrics{
			KindTelegram: NewMetrics(KindTelegram),
			KindWhatsApp: NewMetrics(KindWhatsApp),
		},
		agentLocks: make(map[registryKey]*sync.Mutex),
	}
	m.sup = NewSupervisor(cfg.Reconnect, m.redeployForReconnect, logger)
	return m, nil
}

// lockAgent serializes lifecycle operations for one (agent, channel)
// pair and returns the unlock func.
func (m *Manager) lockAgent(kind Kind, agentID string) func() {
	key := registryKey{kind, agentID}
	m.lockMu.Lock()
	mu, ok := m.agentLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.agentLocks[key] = mu
	}
	m.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// WebhookURL derives the provider push URL for an agent's channel.
func (m *Manager) WebhookURL(kind Kind, agentID string) string {
	return fmt.Sprintf("%s/agents/%s/%s/webhook", m.cfg.PublicBaseURL, agentID, kind)
}

// Metrics returns the metrics snapshot for a channel kind.
func (m *Manager) Metrics(kind Kind) MetricsSnapshot {
	return m.metrics[kind].Snapshot()
}

// Deploy creates and registers a live connection for the agent's
// channel, persisting the credential or session row on success.
func (m *Manager) Deploy(ctx context.Context, kind Kind, agentID string, material Material) (*DeployResult, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrBadRequest("agent id is required", nil)
	}

	unlock := m.lockAgent(kind, agentID)
	defer unlock()

	switch kind {
	case KindTelegram:
		return m.deployTelegram(ctx, agentID, material.BotToken)
	case KindWhatsApp:
		return m.deployWhatsApp(ctx, agentID)
	default:
		return nil, ErrBadRequest(fmt.Sprintf("unknown channel %q", kind), nil)
	}
}

func (m *Manager) deployTelegram(ctx context.Context, agentID, botToken string) (*DeployResult, error) {
	metrics := m.metrics[KindTelegram]

	if strings.TrimSpace(botToken) == "" {
		return nil, ErrBadRequest("bot token is required", nil)
	}

	// Lightweight identity check against the provider before touching
	// any state.
	username, err := m.telegram.Validate(ctx, botToken)
	if err != nil {
		metrics.RecordError(ErrCodeInvalidCredential)
		return nil, ErrInvalidCredential("invalid bot token", err)
	}
	m.logger.Info("bot token validated", "channel", KindTelegram, "agent_id", agentID, "bot", username)

	// A webhook-style redeploy over an active deployment is a conflict.
	existing, err := m.store.GetTelegram(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, ErrInternal("loading telegram credential", err)
	}
	if existing != nil && existing.IsActive {
		if _, live := m.registry.Get(KindTelegram, agentID); live {
			return nil, ErrAlreadyDeployed("bot is already deployed for this agent")
		}
	}

	webhookURL := m.WebhookURL(KindTelegram, agentID)
	conn, err := m.telegram.Connect(ctx, agentID, botToken, webhookURL)
	if err != nil {
		metrics.RecordError(ErrCodeProviderTransport)
		return nil, ErrProviderTransport("failed to set webhook", err)
	}

	cred := &store.TelegramCredential{
		AgentID:    agentID,
		BotToken:   botToken,
		WebhookURL: webhookURL,
		IsActive:   true,
	}
	if err := m.store.UpsertTelegram(ctx, cred); err != nil {
		// Keep provider and store consistent: undo the registration.
		if uerr := conn.Unregister(ctx); uerr != nil {
			m.logger.Warn("failed to roll back webhook registration",
				"agent_id", agentID, "error", uerr)
		}
		_ = conn.Close(ctx)
		return nil, ErrInternal("persisting telegram credential", err)
	}

	m.replaceConnection(ctx, conn)
	m.sup.Reset(KindTelegram, agentID)
	metrics.RecordDeploy()
	m.logger.Info("bot deployed", "channel", KindTelegram, "agent_id", agentID, "webhook_url", webhookURL)

	return &DeployResult{
		Status:      DeployStatusConnected,
		BotUsername: username,
		WebhookURL:  webhookURL,
	}, nil
}

func (m *Manager) deployWhatsApp(ctx context.Context, agentID string) (*DeployResult, error) {
	metrics := m.metrics[KindWhatsApp]

	// Session-style redeploy is an accepted recovery path: tear down
	// any prior handle and recreate.
	if old, ok := m.registry.Remove(KindWhatsApp, agentID); ok {
		if err := old.Close(ctx); err != nil {
			m.logger.Warn("failed to close prior connection", "agent_id", agentID, "error", err)
		}
	}

	deviceJID := ""
	sess, err := m.store.GetWhatsApp(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, ErrInternal("loading whatsapp session", err)
	}
	if sess != nil {
		deviceJID = sess.DeviceJID
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.DeployTimeout)
	defer cancel()

	conn, result, err := m.whatsapp.Connect(connectCtx, agentID, deviceJID, m)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordError(ErrCodeTimeout)
			return nil, ErrTimeout("deploy attempt timed out", err)
		}
		metrics.RecordError(ErrCodeProviderTransport)
		return nil, ErrProviderTransport("failed to start whatsapp client", err)
	}

	m.replaceConnection(ctx, conn)
	m.sup.Reset(KindWhatsApp, agentID)
	metrics.RecordDeploy()
	m.logger.Info("client deployed", "channel", KindWhatsApp, "agent_id", agentID, "status", result.Status)
	return result, nil
}

// replaceConnection installs a new handle, closing any prior one for
// the same key so duplicate provider registrations cannot accumulate.
func (m *Manager) replaceConnection(ctx context.Context, conn Connection) {
	if old, ok := m.registry.Remove(conn.Kind(), conn.AgentID()); ok && old != conn {
		if err := old.Close(ctx); err != nil {
			m.logger.Warn("failed to close replaced connection",
				"channel", conn.Kind(), "agent_id", conn.AgentID(), "error", err)
		}
	}
	m.registry.Put(conn)
}

// Restart tears down any existing live handle and re-runs the deploy
// sequence reusing persisted credential or session material.
func (m *Manager) Restart(ctx context.Context, kind Kind, agentID string) (*DeployResult, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrBadRequest("agent id is required", nil)
	}

	unlock := m.lockAgent(kind, agentID)
	defer unlock()

	switch kind {
	case KindTelegram:
		cred, err := m.store.GetTelegram(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("no telegram bot found for this agent", nil)
		}
		if err != nil {
			return nil, ErrInternal("loading telegram credential", err)
		}
		if !cred.IsActive {
			return nil, ErrNotFound("no active telegram bot found for this agent", nil)
		}

		// Drop the live handle; the webhook registration is simply
		// overwritten by the new connect.
		if old, ok := m.registry.Remove(KindTelegram, agentID); ok {
			_ = old.Close(ctx)
		}
		return m.deployTelegram(ctx, agentID, cred.BotToken)

	case KindWhatsApp:
		return m.deployWhatsApp(ctx, agentID)

	default:
		return nil, ErrBadRequest(fmt.Sprintf("unknown channel %q", kind), nil)
	}
}

// Disconnect tears down the live handle, deregisters provider-side
// state where the channel has any, and deactivates or deletes the
// persisted row. Disconnecting an already-disconnected agent succeeds
// silently.
func (m *Manager) Disconnect(ctx context.Context, kind Kind, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return ErrBadRequest("agent id is required", nil)
	}

	unlock := m.lockAgent(kind, agentID)
	defer unlock()

	// Abort any pending reconnect attempt before touching state.
	m.sup.Cancel(kind, agentID)

	conn, _ := m.registry.Remove(kind, agentID)

	switch kind {
	case KindTelegram:
		if wc, ok := conn.(WebhookConnection); ok {
			if err := wc.Unregister(ctx); err != nil {
				m.logger.Warn("failed to delete webhook", "agent_id", agentID, "error", err)
			}
			_ = wc.Close(ctx)
		}
		if err := m.store.DeactivateTelegram(ctx, agentID); err != nil {
			return ErrInternal("deactivating telegram credential", err)
		}

	case KindWhatsApp:
		if sc, ok := conn.(SessionConnection); ok {
			if err := sc.Logout(ctx); err != nil {
				m.logger.Warn("failed to log out client", "agent_id", agentID, "error", err)
			}
		}
		if err := m.store.DeleteWhatsApp(ctx, agentID); err != nil {
			return ErrInternal("deleting whatsapp session", err)
		}

	default:
		return ErrBadRequest(fmt.Sprintf("unknown channel %q", kind), nil)
	}

	m.metrics[kind].RecordDisconnect()
	m.logger.Info("disconnected", "channel", kind, "agent_id", agentID)
	return nil
}

// Status reports the combined persisted and live state for the agent's
// channel. It never mutates state.
func (m *Manager) Status(ctx context.Context, kind Kind, agentID string) (*StatusResult, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrBadRequest("agent id is required", nil)
	}

	conn, live := m.registry.Get(kind, agentID)

	switch kind {
	case KindTelegram:
		cred, err := m.store.GetTelegram(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) {
			return &StatusResult{Deployed: false, Status: StatusNotDeployed}, nil
		}
		if err != nil {
			return nil, ErrInternal("loading telegram credential", err)
		}
		result := &StatusResult{Deployed: cred.IsActive, WebhookURL: cred.WebhookURL}
		switch {
		case live:
			result.Status = string(conn.State())
		case cred.IsActive:
			// Persisted as active but no live handle: the process has
			// restarted since the deploy. An explicit restart is
			// required unless rehydration is enabled.
			result.Status = string(StateDisconnected)
		default:
			result.Status = StatusNotDeployed
		}
		return result, nil

	case KindWhatsApp:
		_, err := m.store.GetWhatsApp(ctx, agentID)
		hasSession := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, ErrInternal("loading whatsapp session", err)
		}

		result := &StatusResult{Deployed: hasSession || live}
		switch {
		case live:
			result.Status = string(conn.State())
			if sc, ok := conn.(SessionConnection); ok {
				result.QR = sc.LastQR()
			}
		case hasSession:
			result.Status = string(StateDisconnected)
		default:
			result.Status = StatusNotDeployed
		}
		return result, nil

	default:
		return nil, ErrBadRequest(fmt.Sprintf("unknown channel %q", kind), nil)
	}
}

// HandleInbound routes one normalized provider event through the ask
// pipeline and sends the reply back through the agent's connection.
// Errors are reported to the caller for logging, but the transport is
// expected to acknowledge the provider regardless.
func (m *Manager) HandleInbound(ctx context.Context, kind Kind, agentID string, in Inbound) error {
	metrics := m.metrics[kind]
	metrics.RecordMessageReceived()

	// Reject events for agents with no active authorization.
	switch kind {
	case KindTelegram:
		cred, err := m.store.GetTelegram(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !cred.IsActive) {
			return ErrNotFound("bot not found or inactive", nil)
		}
		if err != nil {
			return ErrInternal("loading telegram credential", err)
		}
	case KindWhatsApp:
		if _, err := m.store.GetWhatsApp(ctx, agentID); errors.Is(err, store.ErrNotFound) {
			return ErrNotFound("session not found", nil)
		} else if err != nil {
			return ErrInternal("loading whatsapp session", err)
		}
	default:
		return ErrBadRequest(fmt.Sprintf("unknown channel %q", kind), nil)
	}

	conn, ok := m.registry.Get(kind, agentID)
	if !ok {
		return ErrNotFound("bot instance not found", nil)
	}

	if in.IsCallback() {
		if wc, ok := conn.(WebhookConnection); ok {
			if err := wc.AcknowledgeCallback(ctx, in.CallbackID); err != nil {
				m.logger.Warn("failed to answer callback query",
					"channel", kind, "agent_id", agentID, "error", err)
			}
		}
		return nil
	}

	if in.Text == "" {
		return nil
	}

	m.respond(ctx, conn, agentID, in.ChatID, in.Text)
	return nil
}

// respond runs the ask call and sends the composed reply. Ask failures
// are mapped to the generic fallback message.
func (m *Manager) respond(ctx context.Context, conn Connection, agentID, chatID, question string) {
	metrics := m.metrics[conn.Kind()]

	askCtx, cancel := context.WithTimeout(ctx, m.cfg.AskTimeout)
	defer cancel()

	var reply string
	answer, err := m.ask.Ask(askCtx, agentID, question)
	if err != nil {
		m.logger.Error("ask gateway call failed",
			"channel", conn.Kind(), "agent_id", agentID, "error", err)
		metrics.RecordError(ErrCodeAskGateway)
		reply = FallbackReply
	} else {
		reply = ComposeReply(answer)
	}

	if err := conn.Send(ctx, chatID, reply); err != nil {
		m.logger.Error("failed to send reply",
			"channel", conn.Kind(), "agent_id", agentID, "chat_id", chatID, "error", err)
		metrics.RecordMessageFailed()
		metrics.RecordError(ErrCodeProviderTransport)
		return
	}
	metrics.RecordMessageSent()
}

// redeployForReconnect is invoked by the Supervisor; it re-runs the
// session-style deploy sequence under the per-agent lock.
func (m *Manager) redeployForReconnect(ctx context.Context, kind Kind, agentID string) error {
	unlock := m.lockAgent(kind, agentID)
	defer unlock()

	// An explicit disconnect may have cancelled this attempt while it
	// waited for the lock; redeploying now would reinstall a handle the
	// operator just tore down.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reconnect aborted: %w", err)
	}

	m.metrics[kind].RecordReconnectAttempt()

	switch kind {
	case KindWhatsApp:
		_, err := m.deployWhatsApp(ctx, agentID)
		return err
	default:
		return ErrInternal(fmt.Sprintf("reconnect not supported for channel %q", kind), nil)
	}
}

// rehydrateRetry bounds per-agent retries during a rehydration pass;
// transient provider failures at startup are common when the network
// is still coming up.
var rehydrateRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 2 * time.Second,
	MaxDelay:     10 * time.Second,
	Factor:       2,
}

// Rehydrate recreates live connections from persisted credentials after
// a process restart. Failures are logged per agent and do not abort the
// pass.
func (m *Manager) Rehydrate(ctx context.Context) error {
	creds, err := m.store.ListActiveTelegram(ctx)
	if err != nil {
		return ErrInternal("listing telegram credentials", err)
	}
	for _, cred := range creds {
		err := retry.Do(ctx, rehydrateRetry, func() error {
			unlock := m.lockAgent(KindTelegram, cred.AgentID)
			defer unlock()
			_, err := m.deployTelegram(ctx, cred.AgentID, cred.BotToken)
			if err != nil && !IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			m.logger.Error("failed to rehydrate bot",
				"channel", KindTelegram, "agent_id", cred.AgentID, "error", err)
		}
	}

	sessions, err := m.store.ListWhatsApp(ctx)
	if err != nil {
		return ErrInternal("listing whatsapp sessions", err)
	}
	for _, sess := range sessions {
		err := retry.Do(ctx, rehydrateRetry, func() error {
			unlock := m.lockAgent(KindWhatsApp, sess.AgentID)
			defer unlock()
			_, err := m.deployWhatsApp(ctx, sess.AgentID)
			if err != nil && !IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			m.logger.Error("failed to rehydrate client",
				"channel", KindWhatsApp, "agent_id", sess.AgentID, "error", err)
		}
	}
	return nil
}

// Shutdown stops the reconnect supervisor and closes all live
// connections. Persisted rows are left untouched.
func (m *Manager) Shutdown(ctx context.Context) {
	m.sup.Stop()
	for _, conn := range m.registry.All() {
		if err := conn.Close(ctx); err != nil {
			m.logger.Warn("failed to close connection on shutdown",
				"channel", conn.Kind(), "agent_id", conn.AgentID(), "error", err)
		}
		m.registry.Remove(conn.Kind(), conn.AgentID())
	}
}

// SessionEvents implementation: the session-style adapter drives these
// from its event subscription.

// OnQR records that a pairing code was issued. The code itself is held
// by the connection and surfaced through Status.
func (m *Manager) OnQR(agentID, qrDataURL string) {
	m.logger.Info("pairing code issued", "channel", KindWhatsApp, "agent_id", agentID)
}

// OnAuthenticated persists the session marker as soon as pairing
// completes.
func (m *Manager) OnAuthenticated(agentID, deviceJID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.UpsertWhatsApp(ctx, &store.WhatsAppSession{AgentID: agentID, DeviceJID: deviceJID}); err != nil {
		m.logger.Error("failed to persist session", "agent_id", agentID, "error", err)
		return
	}
	m.logger.Info("client authenticated", "channel", KindWhatsApp, "agent_id", agentID)
}

// OnReady upserts the session row if the authenticated event was
// missed and clears the reconnect counter.
func (m *Manager) OnReady(agentID, deviceJID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.store.GetWhatsApp(ctx, agentID); errors.Is(err, store.ErrNotFound) {
		if err := m.store.UpsertWhatsApp(ctx, &store.WhatsAppSession{AgentID: agentID, DeviceJID: deviceJID}); err != nil {
			m.logger.Error("failed to persist session", "agent_id", agentID, "error", err)
		}
	}
	m.sup.Reset(KindWhatsApp, agentID)
	m.logger.Info("client ready", "channel", KindWhatsApp, "agent_id", agentID)
}

// OnDisconnected purges the session row and registry entry, then hands
// the agent to the reconnect supervisor. Fired only for unexpected
// drops.
func (m *Manager) OnDisconnected(agentID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.logger.Warn("client disconnected", "channel", KindWhatsApp, "agent_id", agentID, "reason", reason)

	if conn, ok := m.registry.Remove(KindWhatsApp, agentID); ok {
		_ = conn.Close(ctx)
	}
	if err := m.store.DeleteWhatsApp(ctx, agentID); err != nil {
		m.logger.Error("failed to purge session", "agent_id", agentID, "error", err)
	}
	m.metrics[KindWhatsApp].RecordDisconnect()
	m.sup.Trigger(KindWhatsApp, agentID)
}

// OnInbound routes an inbound session-style message through the ask
// pipeline. Fire-and-forget from the adapter's perspective.
func (m *Manager) OnInbound(agentID string, in Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AskTimeout+10*time.Second)
	defer cancel()
	if err := m.HandleInbound(ctx, KindWhatsApp, agentID, in); err != nil {
		m.logger.Warn("inbound message rejected",
			"channel", KindWhatsApp, "agent_id", agentID, "error", err)
	}
}
