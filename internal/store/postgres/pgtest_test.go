package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/store"
	"github.com/sreeharimv/auction-platform/internal/store/postgres"
)

var fixtureTime = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

// pgFixture is a migrated auction database with both repositories bound to it.
type pgFixture struct {
	db      *sqlx.DB
	players *postgres.PlayerRepo
	events  *postgres.EventStore
}

// newFixture starts a throwaway Postgres container and applies every
// migration in order. Player timestamps come from a fixed clock.
func newFixture(t *testing.T) *pgFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auction_test"),
		tcpostgres.WithUsername("auction"),
		tcpostgres.WithPassword("auction"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, path := range migrations(t) {
		sqlText, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if _, err := db.ExecContext(ctx, string(sqlText)); err != nil {
			t.Fatalf("applying %s: %v", filepath.Base(path), err)
		}
	}

	return &pgFixture{
		db:      db,
		players: postgres.NewPlayerRepo(db, clock.Mock{T: fixtureTime}),
		events:  postgres.NewEventStore(db),
	}
}

func migrations(t *testing.T) []string {
	t.Helper()
	_, thisFile, _, _ := runtime.Caller(0)
	paths, err := filepath.Glob(filepath.Join(filepath.Dir(thisFile), "migrations", "*.sql"))
	if err != nil || len(paths) == 0 {
		t.Fatalf("no migrations found: %v", err)
	}
	sort.Strings(paths)
	return paths
}

// seed inserts a roster in the given queue order, positions starting at 1.
func (f *pgFixture) seed(t *testing.T, players ...store.Player) {
	t.Helper()
	for i := range players {
		p := players[i]
		if p.QueuePos == 0 {
			p.QueuePos = i + 1
		}
		if err := f.players.Create(context.Background(), &p); err != nil {
			t.Fatalf("seeding %s: %v", p.ID, err)
		}
	}
}
