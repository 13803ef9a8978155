package channels

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agentline/agentline/internal/ask"
	"github.com/agentline/agentline/internal/store"
)

type fakeWebhookConn struct {
	fakeConn

	mu           sync.Mutex
	unregistered bool
	acked        []string
}

func (c *fakeWebhookConn) Unregister(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unregistered = true
	return nil
}

func (c *fakeWebhookConn) AcknowledgeCallback(ctx context.Context, callbackID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, callbackID)
	return nil
}

type fakeWebhookDriver struct {
	mu          sync.Mutex
	username    string
	validateErr error
	connectErr  error
	conns       []*fakeWebhookConn
}

func (d *fakeWebhookDriver) Validate(ctx context.Context, botToken string) (string, error) {
	if d.validateErr != nil {
		return "", d.validateErr
	}
	return d.username, nil
}

func (d *fakeWebhookDriver) Connect(ctx context.Context, agentID, botToken, webhookURL string) (WebhookConnection, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	conn := &fakeWebhookConn{fakeConn: fakeConn{agentID: agentID, kind: KindTelegram, state: StateConnected}}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

type fakeSessionConn struct {
	fakeConn

	mu        sync.Mutex
	qr        string
	loggedOut bool
}

func (c *fakeSessionConn) LastQR() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qr
}

func (c *fakeSessionConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

type fakeSessionDriver struct {
	mu         sync.Mutex
	connectErr error
	qr         string
	deviceJID  string
	conns      []*fakeSessionConn
	events     SessionEvents
}

func (d *fakeSessionDriver) Connect(ctx context.Context, agentID, deviceJID string, events SessionEvents) (SessionConnection, *DeployResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, nil, d.connectErr
	}
	d.events = events

	conn := &fakeSessionConn{fakeConn: fakeConn{agentID: agentID, kind: KindWhatsApp}}
	result := &DeployResult{Status: DeployStatusConnected}
	if deviceJID == "" {
		// Fresh pairing: hand back a pending result with a QR.
		conn.state = StateConnecting
		conn.qr = d.qr
		result = &DeployResult{Status: DeployStatusPending, QR: d.qr}
	} else {
		conn.state = StateConnected
	}
	d.conns = append(d.conns, conn)
	return conn, result, nil
}

// askServer runs a stub ask gateway; handler may be nil for a canned
// answer.
func askServer(t *testing.T, handler http.HandlerFunc) *ask.Client {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"reply":"42","sources":[]}`))
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := ask.NewClient(ask.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("ask.NewClient: %v", err)
	}
	return client
}

type managerFixture struct {
	manager  *Manager
	registry *Registry
	store    *store.MemoryStore
	telegram *fakeWebhookDriver
	whatsapp *fakeSessionDriver
}

func newManagerFixture(t *testing.T, askHandler http.HandlerFunc) *managerFixture {
	t.Helper()

	f := &managerFixture{
		registry: NewRegistry(),
		store:    store.NewMemoryStore(),
		telegram: &fakeWebhookDriver{username: "support_bot"},
		whatsapp: &fakeSessionDriver{qr: "data:image/png;base64,abc"},
	}

	cfg := ManagerConfig{
		PublicBaseURL: "https://bots.example.com",
		DeployTimeout: 2 * time.Second,
		AskTimeout:    2 * time.Second,
		Reconnect: SupervisorConfig{
			BaseDelay:      10 * time.Millisecond,
			MaxAttempts:    3,
			AttemptTimeout: time.Second,
		},
	}

	m, err := NewManager(cfg, f.registry, f.store, askServer(t, askHandler),
		f.telegram, f.whatsapp, discardLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	f.manager = m
	return f
}

func TestDeployTelegram(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	result, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Status != DeployStatusConnected {
		t.Errorf("Status = %q, want connected", result.Status)
	}
	if result.BotUsername != "support_bot" {
		t.Errorf("BotUsername = %q, want support_bot", result.BotUsername)
	}
	wantURL := "https://bots.example.com/agents/a1/telegram/webhook"
	if result.WebhookURL != wantURL {
		t.Errorf("WebhookURL = %q, want %q", result.WebhookURL, wantURL)
	}

	if _, ok := f.registry.Get(KindTelegram, "a1"); !ok {
		t.Error("no live connection registered after deploy")
	}
	cred, err := f.store.GetTelegram(ctx, "a1")
	if err != nil {
		t.Fatalf("GetTelegram: %v", err)
	}
	if !cred.IsActive || cred.BotToken != "123:abc" || cred.WebhookURL != wantURL {
		t.Errorf("persisted credential = %+v", cred)
	}
}

func TestDeployTelegramInvalidToken(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.telegram.validateErr = errors.New("401 unauthorized")

	_, err := f.manager.Deploy(context.Background(), KindTelegram, "a1", Material{BotToken: "bad"})
	if GetErrorCode(err) != ErrCodeInvalidCredential {
		t.Fatalf("error code = %s, want INVALID_CREDENTIAL", GetErrorCode(err))
	}
	if _, ok := f.registry.Get(KindTelegram, "a1"); ok {
		t.Error("connection registered despite failed validation")
	}
	if _, err := f.store.GetTelegram(context.Background(), "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("credential persisted despite failed validation")
	}
}

func TestDeployTelegramConflict(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	_, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "456:def"})
	if GetErrorCode(err) != ErrCodeAlreadyDeployed {
		t.Fatalf("error code = %s, want ALREADY_DEPLOYED", GetErrorCode(err))
	}

	// The original deployment is untouched.
	cred, _ := f.store.GetTelegram(ctx, "a1")
	if cred.BotToken != "123:abc" {
		t.Errorf("credential token = %q, want original", cred.BotToken)
	}
}

func TestDeployWhatsAppFreshPairing(t *testing.T) {
	f := newManagerFixture(t, nil)

	result, err := f.manager.Deploy(context.Background(), KindWhatsApp, "a1", Material{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Status != DeployStatusPending {
		t.Errorf("Status = %q, want pending", result.Status)
	}
	if result.QR == "" {
		t.Error("fresh pairing returned no QR")
	}

	conn, ok := f.registry.Get(KindWhatsApp, "a1")
	if !ok {
		t.Fatal("no live connection registered")
	}
	if conn.State() != StateConnecting {
		t.Errorf("State = %q, want connecting", conn.State())
	}
}

func TestDeployWhatsAppReplacesPrior(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	first := f.whatsapp.conns[0]

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !first.isClosed() {
		t.Error("prior connection not closed on redeploy")
	}
	if f.registry.Len() != 1 {
		t.Errorf("registry holds %d connections, want 1", f.registry.Len())
	}
}

func TestDisconnectTelegram(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := f.manager.Disconnect(ctx, KindTelegram, "a1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if _, ok := f.registry.Get(KindTelegram, "a1"); ok {
		t.Error("connection still registered after disconnect")
	}
	conn := f.telegram.conns[0]
	if !conn.unregistered {
		t.Error("webhook not deleted on disconnect")
	}

	// Soft-deactivate: the row survives with the token retained.
	cred, err := f.store.GetTelegram(ctx, "a1")
	if err != nil {
		t.Fatalf("GetTelegram after disconnect: %v", err)
	}
	if cred.IsActive {
		t.Error("credential still active after disconnect")
	}
	if cred.BotToken != "123:abc" {
		t.Error("token not retained on deactivate")
	}
}

func TestDisconnectWhatsApp(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.manager.OnAuthenticated("a1", "12345@s.whatsapp.net")

	if err := f.manager.Disconnect(ctx, KindWhatsApp, "a1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !f.whatsapp.conns[0].loggedOut {
		t.Error("client not logged out on explicit disconnect")
	}
	// Hard delete: no residual session row.
	if _, err := f.store.GetWhatsApp(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("session row survived disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if err := f.manager.Disconnect(ctx, KindTelegram, "ghost"); err != nil {
		t.Errorf("disconnect of undeployed agent: %v", err)
	}

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := f.manager.Disconnect(ctx, KindTelegram, "a1"); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if err := f.manager.Disconnect(ctx, KindTelegram, "a1"); err != nil {
		t.Errorf("second disconnect: %v", err)
	}
}

func TestRestartTelegram(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	result, err := f.manager.Restart(ctx, KindTelegram, "a1")
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if result.Status != DeployStatusConnected {
		t.Errorf("Status = %q, want connected", result.Status)
	}
	if !f.telegram.conns[0].isClosed() {
		t.Error("prior connection not closed on restart")
	}
	if len(f.telegram.conns) != 2 {
		t.Fatalf("driver created %d connections, want 2", len(f.telegram.conns))
	}
	if f.registry.Len() != 1 {
		t.Errorf("registry holds %d connections, want 1", f.registry.Len())
	}
}

func TestRestartTelegramWithoutCredential(t *testing.T) {
	f := newManagerFixture(t, nil)
	_, err := f.manager.Restart(context.Background(), KindTelegram, "ghost")
	if GetErrorCode(err) != ErrCodeNotFound {
		t.Fatalf("error code = %s, want NOT_FOUND", GetErrorCode(err))
	}
}

func TestStatusLifecycle(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	st, err := f.manager.Status(ctx, KindTelegram, "a1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Deployed || st.Status != StatusNotDeployed {
		t.Errorf("initial status = %+v, want not_deployed", st)
	}

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	st, _ = f.manager.Status(ctx, KindTelegram, "a1")
	if !st.Deployed || st.Status != string(StateConnected) {
		t.Errorf("deployed status = %+v, want connected", st)
	}

	// Simulate a process restart: live handle gone, row still active.
	f.registry.Remove(KindTelegram, "a1")
	st, _ = f.manager.Status(ctx, KindTelegram, "a1")
	if !st.Deployed || st.Status != string(StateDisconnected) {
		t.Errorf("post-restart status = %+v, want deployed/disconnected", st)
	}

	if err := f.manager.Disconnect(ctx, KindTelegram, "a1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	st, _ = f.manager.Status(ctx, KindTelegram, "a1")
	if st.Deployed || st.Status != StatusNotDeployed {
		t.Errorf("post-disconnect status = %+v, want not_deployed", st)
	}
}

func TestStatusWhatsAppExposesQR(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	st, err := f.manager.Status(ctx, KindWhatsApp, "a1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != string(StateConnecting) {
		t.Errorf("Status = %q, want connecting", st.Status)
	}
	if st.QR == "" {
		t.Error("pending pairing exposed no QR")
	}
}

func TestHandleInboundRepliesWithAnswer(t *testing.T) {
	f := newManagerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"Open 9-5.","sources":[{"source":"faq","sourceUrl":"http://kb/faq"}]}`))
	})
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	err := f.manager.HandleInbound(ctx, KindTelegram, "a1", Inbound{ChatID: "c1", Text: "hours?"})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	sent := f.telegram.conns[0].sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	want := "Open 9-5.\n\nSources:\n- faq (http://kb/faq)"
	if sent[0] != want {
		t.Errorf("reply = %q, want %q", sent[0], want)
	}
}

func TestHandleInboundAskFailureSendsFallback(t *testing.T) {
	f := newManagerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := f.manager.HandleInbound(ctx, KindTelegram, "a1", Inbound{ChatID: "c1", Text: "hi"}); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	sent := f.telegram.conns[0].sentMessages()
	if len(sent) != 1 || sent[0] != FallbackReply {
		t.Errorf("sent = %v, want single fallback reply", sent)
	}
}

func TestHandleInboundInactiveAgent(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	err := f.manager.HandleInbound(ctx, KindTelegram, "ghost", Inbound{ChatID: "c1", Text: "hi"})
	if GetErrorCode(err) != ErrCodeNotFound {
		t.Errorf("error code = %s, want NOT_FOUND", GetErrorCode(err))
	}

	// Deactivated credential is rejected the same way.
	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := f.manager.Disconnect(ctx, KindTelegram, "a1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	err = f.manager.HandleInbound(ctx, KindTelegram, "a1", Inbound{ChatID: "c1", Text: "hi"})
	if GetErrorCode(err) != ErrCodeNotFound {
		t.Errorf("error code = %s, want NOT_FOUND", GetErrorCode(err))
	}
}

func TestHandleInboundCallbackAcknowledged(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	err := f.manager.HandleInbound(ctx, KindTelegram, "a1", Inbound{ChatID: "c1", CallbackID: "cb9", CallbackData: "next"})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	conn := f.telegram.conns[0]
	if len(conn.acked) != 1 || conn.acked[0] != "cb9" {
		t.Errorf("acked = %v, want [cb9]", conn.acked)
	}
	if len(conn.sentMessages()) != 0 {
		t.Error("callback produced an outbound message")
	}
}

func TestUnexpectedDisconnectTriggersReconnect(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.manager.OnAuthenticated("a1", "12345@s.whatsapp.net")

	f.manager.OnDisconnected("a1", "stream error")

	if _, ok := f.registry.Get(KindWhatsApp, "a1"); ok {
		t.Error("connection still registered after drop")
	}
	if _, err := f.store.GetWhatsApp(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("session row survived the drop")
	}

	// The supervisor redeploys; a fresh connection appears.
	waitFor(t, 2*time.Second, func() bool {
		_, ok := f.registry.Get(KindWhatsApp, "a1")
		return ok
	})
}

func TestExplicitDisconnectCancelsReconnect(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	// Force a pending reconnect, then disconnect explicitly.
	f.manager.sup.Trigger(KindWhatsApp, "a1")
	if err := f.manager.Disconnect(ctx, KindWhatsApp, "a1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if f.manager.sup.Pending(KindWhatsApp, "a1") {
		t.Error("reconnect still pending after explicit disconnect")
	}
}

func TestDisconnectAbortsInflightReconnect(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a1", Material{}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.manager.OnAuthenticated("a1", "12345@s.whatsapp.net")

	// Hold the per-agent lock so the reconnect attempt fired by the
	// drop cannot redeploy yet.
	unlock := f.manager.lockAgent(KindWhatsApp, "a1")
	f.manager.OnDisconnected("a1", "stream error")
	waitFor(t, time.Second, func() bool {
		return !f.manager.sup.Pending(KindWhatsApp, "a1") &&
			f.manager.sup.Attempts(KindWhatsApp, "a1") == 1
	})

	// The disconnect now queues on the same lock as the attempt.
	done := make(chan error, 1)
	go func() {
		done <- f.manager.Disconnect(ctx, KindWhatsApp, "a1")
	}()
	time.Sleep(20 * time.Millisecond)
	unlock()

	if err := <-done; err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return !f.manager.sup.Pending(KindWhatsApp, "a1") &&
			f.manager.sup.Attempts(KindWhatsApp, "a1") == 0
	})
	time.Sleep(50 * time.Millisecond)

	// Whichever side won the lock, the final state is disconnected:
	// no live handle, no persisted row, no reconnect activity.
	if _, ok := f.registry.Get(KindWhatsApp, "a1"); ok {
		t.Error("live connection reinstalled after explicit disconnect")
	}
	if _, err := f.store.GetWhatsApp(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("session row reappeared after explicit disconnect")
	}
	if f.manager.sup.Pending(KindWhatsApp, "a1") {
		t.Error("reconnect still pending after explicit disconnect")
	}
}

func TestConcurrentDeployDisconnectConverges(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	// Whatever order the two operations land in, the registry and the
	// persisted row must agree afterward.
	for i := 0; i < 25; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"})
		}()
		go func() {
			defer wg.Done()
			_ = f.manager.Disconnect(ctx, KindTelegram, "a1")
		}()
		wg.Wait()

		_, live := f.registry.Get(KindTelegram, "a1")
		cred, err := f.store.GetTelegram(ctx, "a1")
		active := err == nil && cred.IsActive
		if live != active {
			t.Fatalf("iteration %d: live handle = %v, active row = %v", i, live, active)
		}
	}
}

func TestRehydrate(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	// Seed persisted state as left behind by a previous process.
	if err := f.store.UpsertTelegram(ctx, &store.TelegramCredential{
		AgentID:    "a1",
		BotToken:   "123:abc",
		WebhookURL: "https://bots.example.com/agents/a1/telegram/webhook",
		IsActive:   true,
	}); err != nil {
		t.Fatalf("seed telegram: %v", err)
	}
	if err := f.store.UpsertWhatsApp(ctx, &store.WhatsAppSession{
		AgentID:   "a2",
		DeviceJID: "999@s.whatsapp.net",
	}); err != nil {
		t.Fatalf("seed whatsapp: %v", err)
	}

	if err := f.manager.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	if _, ok := f.registry.Get(KindTelegram, "a1"); !ok {
		t.Error("telegram connection not rehydrated")
	}
	conn, ok := f.registry.Get(KindWhatsApp, "a2")
	if !ok {
		t.Fatal("whatsapp connection not rehydrated")
	}
	if conn.State() != StateConnected {
		t.Errorf("rehydrated session state = %q, want connected (device reused)", conn.State())
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := f.manager.Deploy(ctx, KindWhatsApp, "a2", Material{}); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	f.manager.Shutdown(ctx)

	if f.registry.Len() != 0 {
		t.Errorf("registry holds %d connections after shutdown", f.registry.Len())
	}
	if !f.telegram.conns[0].isClosed() || !f.whatsapp.conns[0].isClosed() {
		t.Error("connections not closed on shutdown")
	}
	// Persisted authorization survives shutdown.
	if _, err := f.store.GetTelegram(ctx, "a1"); err != nil {
		t.Error("telegram credential lost on shutdown")
	}
}

func TestMetricsRecorded(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, KindTelegram, "a1", Material{BotToken: "123:abc"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := f.manager.HandleInbound(ctx, KindTelegram, "a1", Inbound{ChatID: "c1", Text: "hi"}); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	snap := f.manager.Metrics(KindTelegram)
	if snap.Deploys != 1 {
		t.Errorf("Deploys = %d, want 1", snap.Deploys)
	}
	if snap.MessagesReceived != 1 || snap.MessagesSent != 1 {
		t.Errorf("messages received/sent = %d/%d, want 1/1", snap.MessagesReceived, snap.MessagesSent)
	}
}
