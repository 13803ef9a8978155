// Package telegram implements the webhook-style Telegram integration:
// token validation, webhook registration, update parsing, and outbound
// sends through the Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/agentline/agentline/internal/channels"
)

// allowedUpdates limits webhook payloads to the update types the
// pipeline handles.
var allowedUpdates = []string{"message", "edited_message", "callback_query"}

// Driver creates Telegram connections. It holds no per-agent state;
// each Connect call builds an independent bot client.
type Driver struct {
	logger *slog.Logger
}

// NewDriver creates a Telegram driver.
func NewDriver(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger.With("adapter", "telegram")}
}

// Validate checks the bot token against the Bot API via getMe and
// returns the bot's username.
func (d *Driver) Validate(ctx context.Context, botToken string) (string, error) {
	b, err := bot.New(botToken, bot.WithSkipGetMe())
	if err != nil {
		return "", fmt.Errorf("create bot client: %w", err)
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("getMe: %w", err)
	}
	return me.Username, nil
}

// Connect builds the bot client and registers the webhook with the
// Bot API. Telegram overwrites any prior webhook for the same bot.
func (d *Driver) Connect(ctx context.Context, agentID, botToken, webhookURL string) (channels.WebhookConnection, error) {
	b, err := bot.New(botToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", err)
	}

	ok, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:            webhookURL,
		AllowedUpdates: allowedUpdates,
	})
	if err != nil {
		return nil, fmt.Errorf("setWebhook: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("setWebhook: api returned false")
	}

	d.logger.Info("webhook registered", "agent_id", agentID, "url", webhookURL)
	return &Conn{agentID: agentID, bot: b, logger: d.logger}, nil
}

// Conn is a live Telegram connection. Webhook-style: no standing
// socket is held, so the connection is connected as long as it exists.
type Conn struct {
	agentID string
	bot     *bot.Bot
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Conn) AgentID() string { return c.agentID }

func (c *Conn) Kind() channels.Kind { return channels.KindTelegram }

func (c *Conn) State() channels.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channels.StateDisconnected
	}
	return channels.StateConnected
}

// Send delivers text to a chat. HTML parse mode lets replies carry
// basic formatting; chat IDs arrive as decimal strings from the
// webhook payload.
func (c *Conn) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    id,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	return nil
}

// AcknowledgeCallback answers a callback query so the client clears
// its loading spinner.
func (c *Conn) AcknowledgeCallback(ctx context.Context, callbackID string) error {
	ok, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	if err != nil {
		return fmt.Errorf("answerCallbackQuery: %w", err)
	}
	if !ok {
		return fmt.Errorf("answerCallbackQuery: api returned false")
	}
	return nil
}

// Unregister deletes the webhook registration with the Bot API.
func (c *Conn) Unregister(ctx context.Context) error {
	ok, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{})
	if err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("deleteWebhook: api returned false")
	}
	c.logger.Info("webhook deleted", "agent_id", c.agentID)
	return nil
}

// Close marks the connection closed. Webhook registrations are not
// touched here; Unregister handles provider-side teardown.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ParseUpdate normalizes a raw webhook payload into the common inbound
// shape. Message and edited-message updates map to text events,
// callback queries map to callback events. Update types outside the
// allowed set and payloads that do not decode yield a bad-request
// error; transports are expected to acknowledge the provider
// regardless.
func ParseUpdate(payload []byte) (channels.Inbound, error) {
	var update models.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return channels.Inbound{}, channels.ErrBadRequest("malformed update payload", err)
	}

	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		in := channels.Inbound{
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}
		// The originating message may be inaccessible to the bot; the
		// chat ID is available either way.
		switch {
		case cb.Message.Message != nil:
			in.ChatID = strconv.FormatInt(cb.Message.Message.Chat.ID, 10)
		case cb.Message.InaccessibleMessage != nil:
			in.ChatID = strconv.FormatInt(cb.Message.InaccessibleMessage.Chat.ID, 10)
		}
		return in, nil
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return channels.Inbound{}, channels.ErrBadRequest("update contains no handled event", nil)
	}

	return channels.Inbound{
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   msg.Text,
	}, nil
}
