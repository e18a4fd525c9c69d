package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Handler struct {
	auth    *Authenticator
	manager *Manager
	logger  zerolog.Logger
	secure  bool
}

// NewHandler wires the login endpoints. secure marks the session cookie
// Secure, for deployments behind TLS.
func NewHandler(auth *Authenticator, manager *Manager, logger zerolog.Logger, secure bool) *Handler {
	return &Handler{auth: auth, manager: manager, logger: logger, secure: secure}
}

// RegisterRoutes mounts the auth endpoints. login may carry extra
// middleware such as a login rate limiter.
func (h *Handler) RegisterRoutes(api *echo.Group, login ...echo.MiddlewareFunc) {
	api.POST("/auth/login", h.Login, login...)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/session", h.Current)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type loginResponse struct {
	Token   string  `json:"token"`
	Session Session `json:"session"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err := h.auth.Authenticate(req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		h.logger.Warn().Str("username", req.Username).Str("remote_ip", c.RealIP()).Msg("login rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid username or password")
	}
	if err != nil {
		var fields []fieldError
		if errors.Is(err, ErrUsernameRequired) {
			fields = append(fields, fieldError{Field: "username", Message: "Username is required"})
		}
		if errors.Is(err, ErrPasswordRequired) {
			fields = append(fields, fieldError{Field: "password", Message: "Password is required"})
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"fields": fields,
		})
	}

	token, s, err := h.manager.Issue(req.Username)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start session").SetInternal(err)
	}
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	h.logger.Info().Str("user", s.User).Str("session_id", s.ID).Msg("session started")
	return c.JSON(http.StatusOK, loginResponse{Token: token, Session: s})
}

// Logout revokes the caller's session and clears the cookie.
func (h *Handler) Logout(c echo.Context) error {
	s, ok := FromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrNoSession.Error())
	}
	if err := h.manager.Revoke(c.Request().Context(), s); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not end session").SetInternal(err)
	}
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	h.logger.Info().Str("user", s.User).Str("session_id", s.ID).Msg("session ended")
	return c.NoContent(http.StatusNoContent)
}

// Current returns the caller's session.
func (h *Handler) Current(c echo.Context) error {
	s, ok := FromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrNoSession.Error())
	}
	return c.JSON(http.StatusOK, s)
}
