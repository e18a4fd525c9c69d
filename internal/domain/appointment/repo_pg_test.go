package appointment

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/migrations"
)

func TestCanSeed(t *testing.T) {
	issued := int64(7)
	tests := []struct {
		name       string
		hasRows    bool
		lastIssued *int64
		want       bool
	}{
		{"fresh table", false, nil, true},
		{"rows present", true, nil, false},
		{"all rows deleted after use", false, &issued, false},
		{"rows and issued ids", true, &issued, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canSeed(tt.hasRows, tt.lastIssued); got != tt.want {
				t.Errorf("canSeed(%v, %v) = %v, want %v", tt.hasRows, tt.lastIssued, got, tt.want)
			}
		})
	}
}

func TestAdvanceSequenceSQL_NeverRewinds(t *testing.T) {
	if !strings.Contains(advanceSequenceSQL, "GREATEST(") {
		t.Fatal("sequence must be advanced with GREATEST")
	}
	if !strings.Contains(advanceSequenceSQL, "MAX(id)") {
		t.Error("sequence must move past the highest stored id")
	}
	if !strings.Contains(advanceSequenceSQL, "pg_sequence_last_value(") {
		t.Error("sequence must not drop below the last issued value")
	}
}

// newPGTestStore migrates a throwaway schema and returns a store bound to it.
func newPGTestStore(t *testing.T) (*PGStore, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("appt_test_%d", time.Now().UnixNano())

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		pool.Close()
	})

	if _, err := db.NewMigrator(pool, migrations.FS, schema).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPGStore(pool), pool
}

func TestPGStore_SeedNeverReusesIDs(t *testing.T) {
	store, _ := newPGTestStore(t)
	ctx := context.Background()

	seeded, err := store.Seed(ctx, &Appointment{ID: "1", FullName: "Seeded"})
	if err != nil || !seeded {
		t.Fatalf("first Seed: seeded=%v err=%v", seeded, err)
	}
	for i := 0; i < 9; i++ {
		if _, err := store.Create(ctx, validInput()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	for _, id := range []string{"1", "8", "9", "10"} {
		if removed, err := store.Delete(ctx, id); err != nil || !removed {
			t.Fatalf("Delete(%s): removed=%v err=%v", id, removed, err)
		}
	}

	// A restart seeds again; the store is in use so nothing changes.
	seeded, err = store.Seed(ctx, &Appointment{ID: "1", FullName: "Seeded"})
	if err != nil || seeded {
		t.Fatalf("second Seed: seeded=%v err=%v, want skipped", seeded, err)
	}
	if _, found, _ := store.GetByID(ctx, "1"); found {
		t.Error("deleted seed record must not come back")
	}
	a, err := store.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID != "11" {
		t.Errorf("ID after restart = %q, want 11", a.ID)
	}
}

func TestPGStore_AdvanceSequenceKeepsPosition(t *testing.T) {
	store, pool := newPGTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := store.Create(ctx, validInput()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	for _, id := range []string{"8", "9", "10"} {
		store.Delete(ctx, id)
	}
	if _, err := pool.Exec(ctx, advanceSequenceSQL); err != nil {
		t.Fatalf("advance sequence: %v", err)
	}
	a, err := store.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID != "11" {
		t.Errorf("ID = %q, want 11", a.ID)
	}
}
