package main

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/appointment"
	"github.com/ehr/intake/internal/platform/middleware"
	"github.com/ehr/intake/internal/platform/session"
	"github.com/ehr/intake/internal/platform/telemetry"
	"github.com/ehr/intake/internal/platform/webhook"
	"github.com/ehr/intake/internal/platform/websocket"
)

// app carries the wired dependencies the HTTP server is built from.
type app struct {
	cfg          *config.Config
	logger       zerolog.Logger
	svc          *appointment.Service
	hub          *websocket.Hub
	webhooks     *webhook.Publisher
	auth         *session.Authenticator
	manager      *session.Manager
	loginCounter middleware.WindowCounter
	dbHealth     echo.HandlerFunc
}

func isWebSocket(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get("Upgrade"), "websocket")
}

func apiRateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		Skipper:           isWebSocket,
	}
}

func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(telemetry.RouteTagger())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.ReadTimeout(cfg.ReadTimeout, isWebSocket))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": cfg.ServiceVersion,
			"store":   cfg.StoreDriver,
		})
	})
	e.GET("/health/db", a.dbHealth)

	// Sessions are checked before the per-client limiter so authenticated
	// callers are limited per user rather than per address.
	apiV1 := e.Group("/api/v1", session.Require(a.manager, session.PublicSkipper))
	apiV1.Use(middleware.RateLimit(apiRateLimitConfig(cfg)))

	limit, window, _ := cfg.LoginLimit()
	loginLimiter := middleware.WindowLimit(a.loginCounter, middleware.WindowLimitConfig{
		Limit:  limit,
		Window: window,
		Prefix: "intake:login",
	}, a.logger)

	session.NewHandler(a.auth, a.manager, a.logger, cfg.IsProduction()).RegisterRoutes(apiV1, loginLimiter)
	appointment.NewHandler(a.svc).RegisterRoutes(apiV1)
	websocket.NewHandler(a.hub, websocket.HandlerConfig{AllowedOrigins: cfg.CORSOrigins}, a.logger).RegisterRoutes(apiV1)
	if a.webhooks != nil {
		webhook.NewHandler(a.webhooks).RegisterRoutes(apiV1)
	}

	return e
}
