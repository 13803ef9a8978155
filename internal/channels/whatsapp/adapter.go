// Package whatsapp implements the session-style WhatsApp integration
// on whatsmeow: QR pairing, the long-lived client per agent, and
// inbound message delivery.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the whatsmeow device store

	"github.com/agentline/agentline/internal/channels"
)

// Driver creates WhatsApp connections. All agents share one whatsmeow
// device store; each agent gets its own device row and client.
type Driver struct {
	container *sqlstore.Container
	logger    *slog.Logger
}

// NewDriver opens the whatsmeow device store at dbPath and returns a
// driver.
func NewDriver(ctx context.Context, dbPath string, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &Driver{container: container, logger: logger.With("adapter", "whatsapp")}, nil
}

// Close releases the device store.
func (d *Driver) Close() error {
	return d.container.Close()
}

// device returns the stored device for the JID, or a fresh one when
// the JID is empty or no longer present in the store.
func (d *Driver) device(ctx context.Context, deviceJID string) (*wastore.Device, error) {
	if deviceJID == "" {
		return d.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(deviceJID)
	if err != nil {
		return nil, fmt.Errorf("invalid device jid %q: %w", deviceJID, err)
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		// The pairing was deleted out from under us; start fresh.
		return d.container.NewDevice(), nil
	}
	return device, nil
}

// Connect builds the client for the agent and connects it. A fresh
// pairing returns a pending result carrying the first QR code; a
// stored device returns once the client reports connected. The ctx
// deadline bounds the whole wait.
func (d *Driver) Connect(ctx context.Context, agentID, deviceJID string, ev channels.SessionEvents) (channels.SessionConnection, *channels.DeployResult, error) {
	device, err := d.device(ctx, deviceJID)
	if err != nil {
		return nil, nil, err
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	// The reconnect supervisor owns recovery; the client must not
	// race it with its own reconnect loop.
	client.EnableAutoReconnect = false

	conn := &Conn{
		agentID: agentID,
		client:  client,
		events:  ev,
		logger:  d.logger.With("agent_id", agentID),
		state:   channels.StateConnecting,
		ready:   make(chan struct{}),
	}
	client.AddEventHandler(conn.handleEvent)

	if client.Store.ID == nil {
		return d.connectFresh(ctx, conn)
	}
	return d.connectStored(ctx, conn)
}

// connectFresh starts a pairing handshake and waits for the first QR
// code.
func (d *Driver) connectFresh(ctx context.Context, conn *Conn) (channels.SessionConnection, *channels.DeployResult, error) {
	qrChan, err := conn.client.GetQRChannel(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get qr channel: %w", err)
	}
	if err := conn.client.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	firstQR := make(chan string, 1)
	go conn.consumeQR(qrChan, firstQR)

	select {
	case qr := <-firstQR:
		return conn, &channels.DeployResult{Status: channels.DeployStatusPending, QR: qr}, nil
	case <-conn.ready:
		// Pairing completed before we saw a code (rare, but the QR
		// channel closes on success).
		return conn, &channels.DeployResult{Status: channels.DeployStatusConnected}, nil
	case <-ctx.Done():
		conn.client.Disconnect()
		return nil, nil, ctx.Err()
	}
}

// connectStored connects an already-paired device and waits for the
// connected event.
func (d *Driver) connectStored(ctx context.Context, conn *Conn) (channels.SessionConnection, *channels.DeployResult, error) {
	if err := conn.client.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	select {
	case <-conn.ready:
		return conn, &channels.DeployResult{Status: channels.DeployStatusConnected}, nil
	case <-ctx.Done():
		conn.client.Disconnect()
		return nil, nil, ctx.Err()
	}
}

// Conn is a live WhatsApp connection: one whatsmeow client bound to
// one agent.
type Conn struct {
	agentID string
	client  *whatsmeow.Client
	events  channels.SessionEvents
	logger  *slog.Logger

	mu      sync.Mutex
	state   channels.ConnState
	lastQR  string
	closing bool

	ready     chan struct{}
	readyOnce sync.Once
}

func (c *Conn) AgentID() string { return c.agentID }

func (c *Conn) Kind() channels.Kind { return channels.KindWhatsApp }

func (c *Conn) State() channels.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastQR returns the most recent pairing code as a PNG data URL, or ""
// once paired.
func (c *Conn) LastQR() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastQR
}

// Send delivers text to a chat. Chat IDs are full JIDs as reported on
// inbound events.
func (c *Conn) Send(ctx context.Context, chatID, text string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat jid %q: %w", chatID, err)
	}
	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Logout invalidates the pairing on the provider side and deletes the
// device row. Used on explicit disconnect only.
func (c *Conn) Logout(ctx context.Context) error {
	c.setClosing()
	if c.client.Store.ID == nil {
		// Never paired; nothing to invalidate.
		c.client.Disconnect()
		return nil
	}
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Close disconnects the client without touching the pairing.
func (c *Conn) Close(ctx context.Context) error {
	c.setClosing()
	c.client.Disconnect()
	return nil
}

func (c *Conn) setClosing() {
	c.mu.Lock()
	c.closing = true
	c.state = channels.StateDisconnected
	c.mu.Unlock()
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// consumeQR forwards pairing codes for the whole handshake; codes
// refresh every ~20s until scanned.
func (c *Conn) consumeQR(qrChan <-chan whatsmeow.QRChannelItem, firstQR chan<- string) {
	first := true
	for item := range qrChan {
		if item.Event != "code" {
			// success, timeout, or error: terminal either way, the
			// connection events carry the outcome.
			continue
		}
		dataURL, err := qrDataURL(item.Code)
		if err != nil {
			c.logger.Error("failed to render pairing code", "error", err)
			continue
		}
		c.mu.Lock()
		c.lastQR = dataURL
		c.mu.Unlock()
		c.events.OnQR(c.agentID, dataURL)
		if first {
			first = false
			select {
			case firstQR <- dataURL:
			default:
			}
		}
	}
}

// handleEvent maps whatsmeow events onto the session event contract.
func (c *Conn) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.logger.Info("pairing succeeded", "jid", v.ID.String())
		c.events.OnAuthenticated(c.agentID, v.ID.String())

	case *events.Connected:
		c.mu.Lock()
		c.state = channels.StateConnected
		c.lastQR = ""
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })

		jid := ""
		if c.client.Store.ID != nil {
			jid = c.client.Store.ID.String()
		}
		c.events.OnReady(c.agentID, jid)

	case *events.Disconnected:
		if c.isClosing() {
			return
		}
		c.mu.Lock()
		c.state = channels.StateDisconnected
		c.mu.Unlock()
		c.events.OnDisconnected(c.agentID, "connection lost")

	case *events.LoggedOut:
		if c.isClosing() {
			return
		}
		c.mu.Lock()
		c.state = channels.StateDisconnected
		c.mu.Unlock()
		c.events.OnDisconnected(c.agentID, fmt.Sprintf("logged out: %s", v.Reason))

	case *events.StreamReplaced:
		if c.isClosing() {
			return
		}
		c.mu.Lock()
		c.state = channels.StateDisconnected
		c.mu.Unlock()
		c.events.OnDisconnected(c.agentID, "stream replaced by another client")

	case *events.Message:
		c.handleMessage(v)
	}
}

// handleMessage forwards inbound text messages. Status broadcasts,
// own messages, and non-text payloads are dropped.
func (c *Conn) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return
	}

	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}

	c.events.OnInbound(c.agentID, channels.Inbound{
		ChatID: evt.Info.Chat.String(),
		Text:   text,
	})
}
