// Command migrate applies the embedded schema migrations.
//
//	migrate up              apply pending migrations
//	migrate up-to 1         apply up to and including version 1
//	migrate down            roll back the newest migration
//	migrate down-to 0       roll back everything above version 0
//	migrate status          list migrations and when they were applied
//	migrate version         print the current schema version
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/migrations"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [-timeout d] up|up-to N|down|down-to N|status|version")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, dsn, flag.Args(), logger); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dsn string, args []string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}

	switch args[0] {
	case "up":
		res, err := p.Up(ctx)
		logResults(logger, res...)
		return err
	case "down":
		res, err := p.Down(ctx)
		if res != nil {
			logResults(logger, res)
		}
		return err
	case "up-to", "down-to":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a version", args[0])
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad version %q: %w", args[1], err)
		}
		var res []*goose.MigrationResult
		if args[0] == "up-to" {
			res, err = p.UpTo(ctx, v)
		} else {
			res, err = p.DownTo(ctx, v)
		}
		logResults(logger, res...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.Format(time.RFC3339)
			}
			logger.Info("migration", "version", st.Source.Version, "file", st.Source.Path, "applied", applied)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		logger.Info("schema version", "version", v)
		return nil
	default:
		return errors.New("unknown command " + strconv.Quote(args[0]))
	}
}

func logResults(logger *slog.Logger, results ...*goose.MigrationResult) {
	if len(results) == 0 {
		logger.Info("schema already current")
	}
	for _, r := range results {
		logger.Info("migrated",
			"version", r.Source.Version,
			"direction", r.Direction,
			"duration", r.Duration,
		)
	}
}
