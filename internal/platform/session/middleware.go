package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CookieName is the cookie the login endpoint sets alongside the token in
// the response body.
const CookieName = "intake_session"

// publicPaths are reachable without a session.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/api/v1/auth/login": true,
}

// PublicSkipper reports whether the request targets an endpoint that needs
// no session.
func PublicSkipper(c echo.Context) bool {
	if c.Request().Method == http.MethodOptions {
		return true
	}
	p := c.Path()
	if p == "" {
		p = c.Request().URL.Path
	}
	return publicPaths[p]
}

// Require rejects requests without a valid session with 401. On success the
// session is stored on the request context and its user under
// "session_user" in the echo context.
func Require(m *Manager, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			token := tokenFromRequest(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "login required")
			}
			s, err := m.Verify(c.Request().Context(), token)
			if errors.Is(err, ErrNoSession) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired or invalid")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session check unavailable").SetInternal(err)
			}

			c.Set("session_user", s.User)
			c.SetRequest(c.Request().WithContext(WithSession(c.Request().Context(), s)))
			return next(c)
		}
	}
}

// tokenFromRequest reads the bearer token, then the session cookie. The
// WebSocket feed may also pass it as ?token= since browsers cannot set
// headers on upgrade requests.
func tokenFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if ck, err := c.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	if websocketUpgrade(c.Request()) {
		return c.QueryParam("token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
