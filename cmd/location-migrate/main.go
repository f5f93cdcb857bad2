// Command location-migrate manages the location schema.
//
// Usage:
//
//	location-migrate <up|down|status>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/mycobrun/cobrun-location/config"
	"github.com/mycobrun/cobrun-location/database"
	"github.com/mycobrun/cobrun-location/geometry"
	"github.com/mycobrun/cobrun-location/logging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: location-migrate <up|down|status>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(config.GetEnv("LOG_LEVEL", "info")).WithService("location-migrate")
	if err := run(ctx, os.Args[1], logger); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, logger *logging.Logger) error {
	cfg, err := config.LoadContext(ctx, "location-migrate")
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	dialect, err := geometry.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return err
	}

	db, err := database.NewSQLClient(ctx, database.DefaultSQLConfig(dialect, cfg.Database.URL))
	if err != nil {
		return err
	}
	defer db.Close()

	m := database.NewMigrator(db)
	if err := m.LoadEmbedded(dialect); err != nil {
		return err
	}

	switch command {
	case "up":
		applied, err := m.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", applied)
	case "down":
		if err := m.Down(ctx); err != nil {
			return err
		}
		logger.Info("rolled back last migration")
	case "status":
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
		for _, s := range statuses {
			applied := "-"
			if s.ExecutedAt != nil {
				applied = s.ExecutedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, s.Name, applied)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
