// Package testutil holds the Postgres harness shared by store tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/mevguard/migrations"
)

// PostgresImage is started when PGTEST_CONTAINER=1 and POSTGRES_URL is unset.
const PostgresImage = "postgres:16-alpine"

// PGTest connects to POSTGRES_URL, or to a throwaway container when
// PGTEST_CONTAINER=1, and brings the schema up to date. Without either the
// test is skipped. cleanup empties the tables and closes the pool.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		if os.Getenv("PGTEST_CONTAINER") != "1" {
			t.Skip("POSTGRES_URL not set, skipping integration test")
		}
		dbURL = startContainer(t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	cleanup := func() {
		truncate(ctx, db)
		_ = db.Close()
	}

	return db, cleanup
}

// startContainer runs a disposable Postgres and returns its DSN. The
// container is terminated when the test finishes.
func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("mevguard_test"),
		postgres.WithUsername("mevguard"),
		postgres.WithPassword("mevguard"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("pgtest: start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("pgtest: terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgtest: container dsn: %v", err)
	}
	return dsn
}

func migrate(ctx context.Context, db *sql.DB) error {
	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// Tables holds every table the migrations create.
var Tables = []string{"mev_threats", "risk_assessments"}

func truncate(ctx context.Context, db *sql.DB) {
	_, _ = db.ExecContext(ctx, "TRUNCATE "+strings.Join(Tables, ", ")) // #nosec G202 -- fixed table list
}
