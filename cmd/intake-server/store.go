package main

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/appointment"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/migrations"
)

// storeHandle is the appointment store selected by STORE_DRIVER.
type storeHandle struct {
	Repo   appointment.Repository
	Seeder appointment.Seeder
	Health echo.HandlerFunc
	close  func()
}

func (s *storeHandle) Close() {
	if s.close != nil {
		s.close()
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, migrate bool) (*storeHandle, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")

		if migrate {
			n, err := db.NewMigrator(pool, migrations.FS, db.DefaultSchema).Up(ctx)
			if err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info().Int("applied", n).Msg("migrations applied")
		}

		pg := appointment.NewPGStore(pool)
		return &storeHandle{Repo: pg, Seeder: pg, Health: db.HealthHandler(pool), close: pool.Close}, nil

	case config.StoreMemory:
		latency := appointment.NoLatency
		if cfg.SimulateLatency {
			latency = appointment.DefaultLatency
		}
		mem := appointment.NewMemoryStore(appointment.WithLatency(latency))
		return &storeHandle{Repo: mem, Seeder: mem, Health: db.MemoryHealthHandler()}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
