package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/appointment"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/internal/platform/events"
	"github.com/ehr/intake/internal/platform/middleware"
	"github.com/ehr/intake/internal/platform/sandbox"
	"github.com/ehr/intake/internal/platform/session"
	"github.com/ehr/intake/internal/platform/webhook"
	"github.com/ehr/intake/internal/platform/websocket"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:               "test",
		ServiceVersion:    "test",
		StoreDriver:       config.StoreMemory,
		AuthUsername:      "admin",
		AuthPassword:      "admin",
		SessionTTL:        time.Hour,
		LoginRateLimit:    "3/min",
		OTelSamplingRatio: 1,
		CORSOrigins:       []string{"http://localhost:5173"},
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
		BodyLimit:         "1M",
		ReadTimeout:       5 * time.Second,
	}
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	return newServer(newTestApp(t, nil))
}

// newTestApp wires an in-memory app. hooks, when set, also receives events.
func newTestApp(t *testing.T, hooks *webhook.Publisher) *app {
	t.Helper()
	cfg := testConfig()
	store := appointment.NewMemoryStore(appointment.WithLatency(appointment.NoLatency))
	if _, err := sandbox.SeedDemo(context.Background(), store); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	auth, err := session.NewAuthenticator("admin", "admin", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	manager, err := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), cfg.SessionTTL, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	hub := websocket.NewHub(zerolog.Nop())
	publishers := events.Multi{hub}
	if hooks != nil {
		publishers = append(publishers, hooks)
	}
	return &app{
		cfg:          cfg,
		logger:       zerolog.Nop(),
		svc:          appointment.NewService(store, publishers, zerolog.Nop()),
		hub:          hub,
		webhooks:     hooks,
		auth:         auth,
		manager:      manager,
		loginCounter: middleware.NewMemoryCounter(),
		dbHealth:     db.MemoryHealthHandler(),
	}
}

func do(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func loginToken(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec := do(e, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"admin"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.Token
}

func TestServer_Health(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = do(e, http.MethodGet, "/health/db", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "memory") {
		t.Errorf("health/db: %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_RequiresSession(t *testing.T) {
	e := newTestServer(t)
	if rec := do(e, http.MethodGet, "/api/v1/appointments", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServer_AppointmentFlow(t *testing.T) {
	e := newTestServer(t)
	token := loginToken(t, e)

	rec := do(e, http.MethodGet, "/api/v1/appointments", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 3 || len(list.Data) != 3 || list.Data[0].ID != "3" || list.Data[1].ID != "1" || list.Data[2].ID != "2" {
		t.Errorf("unexpected list %+v", list)
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments", token, `{"full_name":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("create invalid: expected 422, got %d", rec.Code)
	}

	rec = do(e, http.MethodDelete, "/api/v1/appointments/1", token, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/appointments/1", token, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rec.Code)
	}
}

func TestServer_LoginRateLimited(t *testing.T) {
	e := newTestServer(t)
	body := `{"username":"admin","password":"wrong"}`
	for i := 0; i < 3; i++ {
		if rec := do(e, http.MethodPost, "/api/v1/auth/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	rec := do(e, http.MethodPost, "/api/v1/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestAPIRateLimitConfig_EvictsIdleClients(t *testing.T) {
	cfg := testConfig()
	rl := apiRateLimitConfig(cfg)

	if rl.IdleTTL <= 0 {
		t.Fatalf("expected idle buckets to be evicted, got IdleTTL %v", rl.IdleTTL)
	}
	if rl.IdleTTL != middleware.DefaultRateLimitConfig().IdleTTL {
		t.Errorf("expected default IdleTTL, got %v", rl.IdleTTL)
	}
	if rl.RequestsPerSecond != cfg.RateLimitRPS || rl.BurstSize != cfg.RateLimitBurst {
		t.Errorf("unexpected limits %+v", rl)
	}
}

func TestServer_WebSocketRouteRequiresSession(t *testing.T) {
	e := newTestServer(t)
	found := false
	for _, r := range e.Routes() {
		if r.Method == http.MethodGet && r.Path == "/api/v1/ws" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /api/v1/ws")
	}
	if rec := do(e, http.MethodGet, "/api/v1/ws", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without session, got %d", rec.Code)
	}
}

func TestServer_WebhookDelivery(t *testing.T) {
	received := make(chan events.Event, 4)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !webhook.VerifySignature(body, "hook-secret", r.Header.Get(webhook.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var ev events.Event
		json.Unmarshal(body, &ev)
		received <- ev
	}))
	defer target.Close()

	hooks := webhook.NewPublisher([]webhook.Endpoint{{URL: target.URL, Secret: "hook-secret", Events: []string{"*.deleted"}}}, zerolog.Nop(), webhook.WithRetryDelays())
	hooks.Start(context.Background(), 1)
	e := newServer(newTestApp(t, hooks))
	token := loginToken(t, e)

	if rec := do(e, http.MethodDelete, "/api/v1/appointments/2", token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	hooks.Close()

	select {
	case ev := <-received:
		if ev.Type != events.TypeDeleted || ev.ResourceID != "2" {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected a signed delivery")
	}

	rec := do(e, http.MethodGet, "/api/v1/webhooks/deliveries", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"success"`) {
		t.Errorf("deliveries: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStartWebhooks_DrainAfterSignal(t *testing.T) {
	unblock := make(chan struct{})
	received := make(chan string, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-unblock
		received <- r.Header.Get(webhook.HeaderEventID)
	}))
	defer target.Close()

	cfg := testConfig()
	cfg.WebhookURLs = target.URL
	cfg.WebhookWorkers = 1
	cfg.ShutdownTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	hooks, stop, err := startWebhooks(ctx, cfg, zerolog.Nop())
	if err != nil || hooks == nil {
		t.Fatalf("startWebhooks: %v", err)
	}
	ev, _ := events.New(events.TypeCreated, "5", nil)
	if err := hooks.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// The shutdown signal arrives while the delivery is in flight.
	cancel()
	close(unblock)
	stop()

	select {
	case id := <-received:
		if id != ev.ID {
			t.Errorf("received %q, want %q", id, ev.ID)
		}
	default:
		t.Fatal("queued event must be delivered after the signal")
	}
	ds := hooks.Deliveries()
	if len(ds) != 1 || ds[0].Status != "success" {
		t.Errorf("unexpected deliveries %+v", ds)
	}
}

func TestStartWebhooks_Disabled(t *testing.T) {
	hooks, stop, err := startWebhooks(context.Background(), testConfig(), zerolog.Nop())
	if err != nil || hooks != nil {
		t.Fatalf("expected no publisher, got %v %v", hooks, err)
	}
	stop()
}

// runCLI executes the root command against the in-memory store.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIWithEnv(t, nil, args...)
}

// runCLIWithEnv is runCLI with extra environment overrides.
func runCLIWithEnv(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SIMULATE_LATENCY", "false")
	t.Setenv("SEED_DEMO_DATA", "true")
	for k, v := range env {
		t.Setenv(k, v)
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_AppointmentsList(t *testing.T) {
	out, err := runCLI(t, "appointments", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	iAna := strings.Index(out, "Ana Paula Rodrigues")
	iMaria := strings.Index(out, "Maria Silva Santos")
	iCarlos := strings.Index(out, "Carlos Eduardo Lima")
	if iAna < 0 || iMaria < 0 || iCarlos < 0 || !(iAna < iMaria && iMaria < iCarlos) {
		t.Errorf("expected schedule order Ana, Maria, Carlos:\n%s", out)
	}
}

func TestCLI_AppointmentsSubmit(t *testing.T) {
	in := sandbox.NewGenerator(3, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)).Input()
	raw, _ := json.Marshal(in)
	path := filepath.Join(t.TempDir(), "form.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "appointments", "submit", "--file", path)
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, appointment.MsgCreated) || !strings.Contains(out, "id: 4") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if err := os.WriteFile(path, []byte(`{"specialty":"Cardiology"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "appointments", "submit", "--file", path, "--id", "2")
	if err != nil {
		t.Fatalf("update: %v\n%s", err, out)
	}
	if !strings.Contains(out, appointment.MsgUpdated) {
		t.Errorf("unexpected output:\n%s", out)
	}

	if err := os.WriteFile(path, []byte(`{"email":"not-an-email"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "appointments", "submit", "--file", path)
	if err == nil || !strings.Contains(out, "Invalid email address") {
		t.Errorf("expected validation errors, got %v:\n%s", err, out)
	}
}

func TestCLI_AppointmentsDelete(t *testing.T) {
	out, err := runCLI(t, "appointments", "delete", "1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, appointment.MsgDeleted) || strings.Contains(out, "Maria Silva Santos") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = runCLI(t, "appointments", "delete", "nonexistent-id")
	if err == nil || !strings.Contains(out, appointment.MsgDeleteFailed) {
		t.Errorf("expected delete failure, got %v:\n%s", err, out)
	}
}

func TestCLI_Seed(t *testing.T) {
	out, err := runCLIWithEnv(t, map[string]string{"SEED_DEMO_DATA": "false"}, "seed", "--synthetic", "4", "--rng-seed", "9")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "Seeded 3 demo appointment(s).") || !strings.Contains(out, "Created 4 synthetic appointment(s).") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestCLI_SeedSkipsStoreInUse(t *testing.T) {
	out, err := runCLI(t, "seed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "demo data skipped") {
		t.Errorf("expected seeding to be skipped on a populated store:\n%s", out)
	}
}
