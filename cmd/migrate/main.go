package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory for create and validate; up/down/status use the embedded set")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
	})

	if err := run(ctx, cfg, logg, opts); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	// file-only commands never touch the database
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("%w: -name is required for create", errUsage)
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "dir", opts.dir), "migrations valid")
		return nil
	case "up", "down", "status", "version":
	default:
		return fmt.Errorf("%w: unknown -cmd %q", errUsage, opts.cmd)
	}
	if opts.cmd == "version" && opts.version == "" {
		return fmt.Errorf("%w: -version is required for version", errUsage)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	return runDatabaseCommand(ctx, logg, sqlDB, opts)
}

func runDatabaseCommand(ctx context.Context, logg *logger.Logger, sqlDB *sql.DB, opts options) error {
	switch opts.cmd {
	case "up":
		results, err := migrate.Up(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		for _, res := range results {
			fmt.Println(res)
		}
		logg.Info(logg.WithField(ctx, "applied", len(results)), "migrations applied")
	case "down":
		res, err := migrate.Down(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		fmt.Println(res)
	case "status":
		statuses, err := migrate.Status(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, st := range statuses {
			fmt.Printf("%-8s %d %s\n", st.State, st.Source.Version, st.Source.Path)
		}
	case "version":
		if err := migrate.MigrateToVersion(ctx, sqlDB, opts.version); err != nil {
			return fmt.Errorf("goose version %s: %w", opts.version, err)
		}
		logg.Info(logg.WithField(ctx, "version", opts.version), "migrated to version")
	}
	return nil
}
