package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/appointment"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/internal/platform/sandbox"
	"github.com/ehr/intake/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, _, err := loadConfig(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		schema, _ := cmd.Flags().GetString("schema")

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS, schema))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
				for _, s := range statuses {
					state, at := "pending", "-"
					if s.Applied {
						state = "applied"
						at = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%03d\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
				}
				return w.Flush()
			})
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

// withStore loads configuration and opens the configured store for a
// one-shot command. The memory store starts with the demo data when
// SEED_DEMO_DATA is on, so commands against it see what a fresh server would.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, store *storeHandle) error) error {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.StoreDriver == config.StoreMemory && cfg.SeedDemoData {
		if _, err := sandbox.SeedDemo(ctx, store.Seeder); err != nil {
			return err
		}
	}
	return fn(ctx, cfg, logger, store)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo appointments, optionally followed by synthetic ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			synthetic, _ := cmd.Flags().GetInt("synthetic")
			rngSeed, _ := cmd.Flags().GetInt64("rng-seed")

			return withStore(cmd, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, store *storeHandle) error {
				seeded, err := sandbox.SeedDemo(ctx, store.Seeder)
				if err != nil {
					return err
				}
				if seeded {
					fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d demo appointment(s).\n", len(sandbox.DemoAppointments()))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Store already holds appointments; demo data skipped.")
				}

				if synthetic > 0 {
					svc := appointment.NewService(store.Repo, nil, logger)
					created, err := sandbox.NewGenerator(rngSeed, time.Now()).Populate(ctx, svc, synthetic)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created %d synthetic appointment(s).\n", len(created))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("synthetic", 0, "Number of synthetic appointments to create after the demo data")
	cmd.Flags().Int64("rng-seed", 0, "Seed for reproducible synthetic data (0 picks one)")
	return cmd
}

// cliNotifier prints form and list outcome messages for the operator.
type cliNotifier struct {
	out io.Writer
}

func (n cliNotifier) Success(msg string) { fmt.Fprintln(n.out, msg) }
func (n cliNotifier) Failure(msg string) { fmt.Fprintln(n.out, "error: "+msg) }

func appointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "Work with scheduled appointments from the command line",
	}
	cmd.AddCommand(appointmentsListCmd(), appointmentsSubmitCmd(), appointmentsDeleteCmd())
	return cmd
}

func appointmentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List appointments in schedule order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, store *storeHandle) error {
				out := cmd.OutOrStdout()
				view := appointment.NewListView(appointment.NewService(store.Repo, nil, logger), cliNotifier{out})
				if _, err := view.Load(ctx); err != nil {
					return err
				}
				printSchedule(out, view)
				return nil
			})
		},
	}
}

func printSchedule(out io.Writer, view *appointment.ListView) {
	if view.Empty() {
		fmt.Fprintln(out, appointment.MsgEmptySchedule)
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tPATIENT\tSPECIALTY\tTYPE")
	for _, a := range view.Items() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.AppointmentDate, a.AppointmentTime, a.FullName, a.Specialty, a.AppointmentType)
	}
	w.Flush()
}

func appointmentsSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the intake form from a JSON file, creating or updating an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			id, _ := cmd.Flags().GetString("id")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read form: %w", err)
			}

			return withStore(cmd, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, store *storeHandle) error {
				out := cmd.OutOrStdout()
				svc := appointment.NewService(store.Repo, nil, logger)
				form := appointment.NewForm(svc, cliNotifier{out})

				if id != "" {
					existing, found, err := svc.GetByID(ctx, id)
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("appointment %s: %w", id, appointment.ErrNotFound)
					}
					form.Edit(existing)
				}

				// Fields missing from the file keep the form's current values.
				values := form.Values()
				if err := json.Unmarshal(raw, &values); err != nil {
					return fmt.Errorf("parse form: %w", err)
				}
				form.SetValues(values)

				res, err := form.Submit(ctx)
				if len(res.Errors) > 0 {
					for _, fe := range res.Errors {
						fmt.Fprintf(out, "%s: %s\n", fe.Field, fe.Message)
					}
					return errors.New("form has validation errors")
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "id: %s\n", res.Record.ID)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "Path to a JSON document with intake form fields")
	cmd.Flags().String("id", "", "Update this appointment instead of creating one")
	return cmd
}

func appointmentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, store *storeHandle) error {
				out := cmd.OutOrStdout()
				view := appointment.NewListView(appointment.NewService(store.Repo, nil, logger), cliNotifier{out})
				if err := view.Delete(ctx, args[0]); err != nil {
					return err
				}
				printSchedule(out, view)
				return nil
			})
		},
	}
}
