package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements CredentialStore on SQLite with automatic
// schema creation.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the credential database at the
// given path. Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("credential store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS telegram_credentials (
			agent_id TEXT PRIMARY KEY,
			bot_token TEXT NOT NULL,
			webhook_url TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS whatsapp_sessions (
			agent_id TEXT PRIMARY KEY,
			device_jid TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetTelegram(ctx context.Context, agentID string) (*TelegramCredential, error) {
	cred := &TelegramCredential{}
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, bot_token, webhook_url, is_active, created_at, updated_at
		FROM telegram_credentials WHERE agent_id = ?`, agentID,
	).Scan(&cred.AgentID, &cred.BotToken, &cred.WebhookURL, &cred.IsActive, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying telegram credential: %w", err)
	}
	return cred, nil
}

func (s *SQLiteStore) UpsertTelegram(ctx context.Context, cred *TelegramCredential) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telegram_credentials (agent_id, bot_token, webhook_url, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			bot_token = excluded.bot_token,
			webhook_url = excluded.webhook_url,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		cred.AgentID, cred.BotToken, cred.WebhookURL, cred.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("upserting telegram credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeactivateTelegram(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE telegram_credentials SET is_active = 0, updated_at = ? WHERE agent_id = ?`,
		time.Now().UTC(), agentID)
	if err != nil {
		return fmt.Errorf("deactivating telegram credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveTelegram(ctx context.Context) ([]*TelegramCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, bot_token, webhook_url, is_active, created_at, updated_at
		FROM telegram_credentials WHERE is_active = 1 ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("listing telegram credentials: %w", err)
	}
	defer rows.Close()

	var creds []*TelegramCredential
	for rows.Next() {
		cred := &TelegramCredential{}
		if err := rows.Scan(&cred.AgentID, &cred.BotToken, &cred.WebhookURL, &cred.IsActive, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning telegram credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *SQLiteStore) GetWhatsApp(ctx context.Context, agentID string) (*WhatsAppSession, error) {
	sess := &WhatsAppSession{}
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, device_jid, created_at, updated_at
		FROM whatsapp_sessions WHERE agent_id = ?`, agentID,
	).Scan(&sess.AgentID, &sess.DeviceJID, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying whatsapp session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) UpsertWhatsApp(ctx context.Context, sess *WhatsAppSession) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whatsapp_sessions (agent_id, device_jid, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			device_jid = excluded.device_jid,
			updated_at = excluded.updated_at`,
		sess.AgentID, sess.DeviceJID, now, now)
	if err != nil {
		return fmt.Errorf("upserting whatsapp session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteWhatsApp(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM whatsapp_sessions WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("deleting whatsapp session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListWhatsApp(ctx context.Context) ([]*WhatsAppSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, device_jid, created_at, updated_at
		FROM whatsapp_sessions ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("listing whatsapp sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*WhatsAppSession
	for rows.Next() {
		sess := &WhatsAppSession{}
		if err := rows.Scan(&sess.AgentID, &sess.DeviceJID, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning whatsapp session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
