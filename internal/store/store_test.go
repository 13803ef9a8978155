package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

// storeUnderTest runs the shared contract tests against both
// implementations.
func storeUnderTest(t *testing.T) map[string]CredentialStore {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "credentials.db"), slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]CredentialStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestTelegramCredentialRoundTrip(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.GetTelegram(ctx, "agent-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetTelegram(missing) error = %v, want ErrNotFound", err)
			}

			cred := &TelegramCredential{
				AgentID:    "agent-1",
				BotToken:   "123:abc",
				WebhookURL: "https://example.com/agents/agent-1/telegram/webhook",
				IsActive:   true,
			}
			if err := s.UpsertTelegram(ctx, cred); err != nil {
				t.Fatalf("UpsertTelegram() error = %v", err)
			}

			got, err := s.GetTelegram(ctx, "agent-1")
			if err != nil {
				t.Fatalf("GetTelegram() error = %v", err)
			}
			if got.BotToken != "123:abc" {
				t.Errorf("BotToken = %q, want %q", got.BotToken, "123:abc")
			}
			if !got.IsActive {
				t.Error("IsActive = false, want true")
			}

			// Upsert again must update in place, not create a second row.
			cred.BotToken = "456:def"
			if err := s.UpsertTelegram(ctx, cred); err != nil {
				t.Fatalf("UpsertTelegram(update) error = %v", err)
			}
			active, err := s.ListActiveTelegram(ctx)
			if err != nil {
				t.Fatalf("ListActiveTelegram() error = %v", err)
			}
			if len(active) != 1 {
				t.Fatalf("len(active) = %d, want 1", len(active))
			}
			if active[0].BotToken != "456:def" {
				t.Errorf("BotToken after update = %q, want %q", active[0].BotToken, "456:def")
			}
		})
	}
}

func TestDeactivateTelegramKeepsRow(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cred := &TelegramCredential{AgentID: "agent-1", BotToken: "123:abc", IsActive: true}
			if err := s.UpsertTelegram(ctx, cred); err != nil {
				t.Fatalf("UpsertTelegram() error = %v", err)
			}
			if err := s.DeactivateTelegram(ctx, "agent-1"); err != nil {
				t.Fatalf("DeactivateTelegram() error = %v", err)
			}

			// Soft-deactivated: the row survives with the token intact.
			got, err := s.GetTelegram(ctx, "agent-1")
			if err != nil {
				t.Fatalf("GetTelegram() after deactivate error = %v", err)
			}
			if got.IsActive {
				t.Error("IsActive = true after deactivate, want false")
			}
			if got.BotToken != "123:abc" {
				t.Errorf("BotToken = %q, want retained token", got.BotToken)
			}

			active, err := s.ListActiveTelegram(ctx)
			if err != nil {
				t.Fatalf("ListActiveTelegram() error = %v", err)
			}
			if len(active) != 0 {
				t.Errorf("len(active) = %d, want 0", len(active))
			}

			// Deactivating a missing agent is a silent no-op.
			if err := s.DeactivateTelegram(ctx, "missing"); err != nil {
				t.Errorf("DeactivateTelegram(missing) error = %v, want nil", err)
			}
		})
	}
}

func TestWhatsAppSessionDeleteRemovesRow(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := &WhatsAppSession{AgentID: "agent-1", DeviceJID: "1234567890@s.whatsapp.net"}
			if err := s.UpsertWhatsApp(ctx, sess); err != nil {
				t.Fatalf("UpsertWhatsApp() error = %v", err)
			}

			got, err := s.GetWhatsApp(ctx, "agent-1")
			if err != nil {
				t.Fatalf("GetWhatsApp() error = %v", err)
			}
			if got.DeviceJID != sess.DeviceJID {
				t.Errorf("DeviceJID = %q, want %q", got.DeviceJID, sess.DeviceJID)
			}

			// Hard delete: the row must be gone afterwards.
			if err := s.DeleteWhatsApp(ctx, "agent-1"); err != nil {
				t.Fatalf("DeleteWhatsApp() error = %v", err)
			}
			if _, err := s.GetWhatsApp(ctx, "agent-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetWhatsApp() after delete error = %v, want ErrNotFound", err)
			}

			// Deleting again is a silent no-op.
			if err := s.DeleteWhatsApp(ctx, "agent-1"); err != nil {
				t.Errorf("DeleteWhatsApp(missing) error = %v, want nil", err)
			}
		})
	}
}

func TestListWhatsApp(t *testing.T) {
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"b", "a"} {
				if err := s.UpsertWhatsApp(ctx, &WhatsAppSession{AgentID: id, DeviceJID: id + "@s.whatsapp.net"}); err != nil {
					t.Fatalf("UpsertWhatsApp(%q) error = %v", id, err)
				}
			}
			sessions, err := s.ListWhatsApp(ctx)
			if err != nil {
				t.Fatalf("ListWhatsApp() error = %v", err)
			}
			if len(sessions) != 2 {
				t.Fatalf("len(sessions) = %d, want 2", len(sessions))
			}
			if sessions[0].AgentID != "a" || sessions[1].AgentID != "b" {
				t.Errorf("sessions out of order: %q, %q", sessions[0].AgentID, sessions[1].AgentID)
			}
		})
	}
}
