package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*echo.Echo, *Manager) {
	t.Helper()
	m := newTestManager(t)
	h := NewHandler(newTestAuthenticator(t), m, zerolog.Nop(), false)

	e := echo.New()
	api := e.Group("/api/v1", Require(m, PublicSkipper))
	h.RegisterRoutes(api)
	api.GET("/appointments", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e, m
}

func login(t *testing.T, e *echo.Echo, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	e, _ := newTestServer(t)
	rec := login(t, e, `{"username":"admin","password":"admin"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Token == "" || resp.Session.User != "admin" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), CookieName+"=") {
		t.Error("expected session cookie")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	e, _ := newTestServer(t)
	rec := login(t, e, `{"username":"admin","password":"wrong"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid username or password") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), ErrInvalidCredentials.Error()) {
		t.Errorf("sentinel text leaked into body %s", rec.Body.String())
	}
}

func TestLogin_RequiredFields(t *testing.T) {
	e, _ := newTestServer(t)
	rec := login(t, e, `{}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body struct {
		Fields []fieldError `json:"fields"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Fields) != 2 || body.Fields[0].Message != "Username is required" || body.Fields[1].Message != "Password is required" {
		t.Errorf("unexpected fields %+v", body.Fields)
	}
}

func TestRequire_RejectsMissingToken(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequire_AcceptsBearerAndCookie(t *testing.T) {
	e, m := newTestServer(t)
	token, _, _ := m.Issue("admin")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("cookie: expected 200, got %d", rec.Code)
	}
}

func TestRequire_QueryTokenOnlyForWebSocket(t *testing.T) {
	e, m := newTestServer(t)
	token, _, _ := m.Issue("admin")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?token="+token, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for query token on a plain request, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments?token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for upgrade request, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e, _ := newTestServer(t)

	var resp loginResponse
	json.Unmarshal(login(t, e, `{"username":"admin","password":"admin"}`).Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session: expected 200, got %d", rec.Code)
	}
	var s Session
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.User != "admin" {
		t.Errorf("User = %q", s.User)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestPublicSkipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	if !PublicSkipper(c) {
		t.Error("expected /health to be public")
	}
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil), httptest.NewRecorder())
	if PublicSkipper(c) {
		t.Error("appointments must require a session")
	}
}
