package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/appointment"
	"github.com/ehr/intake/internal/platform/events"
	"github.com/ehr/intake/internal/platform/middleware"
	"github.com/ehr/intake/internal/platform/sandbox"
	"github.com/ehr/intake/internal/platform/session"
	"github.com/ehr/intake/internal/platform/telemetry"
	"github.com/ehr/intake/internal/platform/webhook"
	"github.com/ehr/intake/internal/platform/websocket"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "intake-server",
		Short:        "Appointment intake API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(appointmentsCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(cmd.Context(), migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving (postgres store only)")
	return cmd
}

// loadConfig loads and validates configuration and builds the process logger.
func loadConfig(w io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg, w)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "intake-server").Logger()
}

// newRedis connects when REDIS_URL is set. A nil client means Redis is not
// configured.
func newRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func newAuthenticator(cfg *config.Config) (*session.Authenticator, error) {
	if cfg.AuthPasswordHash != "" {
		return session.NewAuthenticatorWithHash(cfg.AuthUsername, []byte(cfg.AuthPasswordHash))
	}
	return session.NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword, bcrypt.DefaultCost)
}

func runServer(parent context.Context, migrate bool) error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "intake-server",
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSamplingRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	store, err := openStore(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.SeedDemoData {
		seeded, err := sandbox.SeedDemo(ctx, store.Seeder)
		if err != nil {
			return err
		}
		if seeded {
			logger.Info().Msg("demo appointments seeded")
		} else {
			logger.Debug().Msg("store already in use, demo appointments skipped")
		}
	}

	rdb, err := newRedis(ctx, cfg)
	if err != nil {
		return err
	}
	var (
		revocations  session.Revocations      = session.NewMemoryRevocations()
		loginCounter middleware.WindowCounter = middleware.NewMemoryCounter()
	)
	if rdb != nil {
		defer rdb.Close()
		revocations = session.NewRedisRevocations(rdb, "intake:session:revoked")
		loginCounter = middleware.NewRedisCounter(rdb)
		logger.Info().Msg("connected to redis")
	}

	hub := websocket.NewHub(logger)
	publishers := events.Multi{hub}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return err
		}
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("publishing appointment events to kafka")
	}
	hooks, stopHooks, err := startWebhooks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopHooks()
	if hooks != nil {
		publishers = append(publishers, hooks)
	}

	auth, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	key, generated, err := cfg.SessionKey()
	if err != nil {
		return err
	}
	if generated {
		logger.Warn().Msg("SESSION_SECRET not set; using a random key, sessions end on restart")
	}
	manager, err := session.NewManager(key, cfg.SessionTTL, revocations)
	if err != nil {
		return err
	}

	e := newServer(&app{
		cfg:          cfg,
		logger:       logger,
		svc:          appointment.NewService(store.Repo, publishers, logger),
		hub:          hub,
		webhooks:     hooks,
		auth:         auth,
		manager:      manager,
		loginCounter: loginCounter,
		dbHealth:     store.Health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           telemetry.Handler(e, "intake-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	hub.Close()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// startWebhooks starts delivery workers when WEBHOOK_URLS is set. Workers
// outlive ctx so events queued before a shutdown signal still drain; stop
// bounds that drain by SHUTDOWN_TIMEOUT.
func startWebhooks(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*webhook.Publisher, func(), error) {
	if cfg.WebhookURLs == "" {
		return nil, func() {}, nil
	}
	endpoints, err := webhook.ParseEndpoints(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookEvents)
	if err != nil {
		return nil, nil, err
	}
	hooks := webhook.NewPublisher(endpoints, logger)
	hooks.Start(context.WithoutCancel(ctx), cfg.WebhookWorkers)
	logger.Info().Int("endpoints", len(endpoints)).Msg("delivering appointment events to webhooks")

	stop := func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := hooks.Shutdown(dctx); err != nil {
			logger.Warn().Err(err).Msg("webhook queue not drained before shutdown timeout")
		}
	}
	return hooks, stop, nil
}
