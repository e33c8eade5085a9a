package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sheetwise/sheetwise/internal/bootstrap"
	catalogpostgres "github.com/sheetwise/sheetwise/internal/catalog/postgres"
	"github.com/sheetwise/sheetwise/internal/config"
	"github.com/sheetwise/sheetwise/internal/migrations"
)

func main() {
	direction := flag.String("direction", "up", "command: up|down|bootstrap")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	tenantID := flag.String("tenant", "", "tenant id for -direction=bootstrap")
	tenantName := flag.String("tenant-name", "", "tenant display name for -direction=bootstrap")
	roles := flag.String("roles", "", "roles for the bootstrap API key, e.g. upload_writer|query_reader")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sheetwise-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Catalog.DSN == "" {
		fmt.Fprintln(os.Stderr, "SHEETWISE_CATALOG_DSN is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Catalog.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "database ping error: %v\n", err)
		os.Exit(1)
	}

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		applied, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	case "bootstrap":
		repo := catalogpostgres.NewRepository(db)
		result, err := bootstrap.Tenant(ctx, repo, bootstrap.Input{
			TenantID: *tenantID,
			Name:     *tenantName,
			Roles:    *roles,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("tenant %s ready\n", result.Tenant.TenantID)
		fmt.Printf("api key (shown once): %s\n", result.PlainKey)
		fmt.Printf("SHEETWISE_AUTH_STATIC_KEYS entry: %s\n", result.StaticKeySpec)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
