package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cassiomorais/printqueue/internal/infrastructure/config"
	"github.com/cassiomorais/printqueue/internal/storage/postgres"
	"github.com/golang-migrate/migrate/v4"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "migrate",
		Usage: "Manage the printqueue database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Sources: cli.EnvVars("DATABASE_URL"),
				Usage:   "Database URL; defaults to the database.* settings of the config",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withMigrator(cmd, func(m *migrate.Migrate) error {
						if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
							return fmt.Errorf("migration up failed: %w", err)
						}
						fmt.Println("Migrations applied successfully")
						return nil
					})
				},
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Value: 1,
						Usage: "Number of migrations to roll back; 0 rolls back everything",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withMigrator(cmd, func(m *migrate.Migrate) error {
						var err error
						if steps := cmd.Int("steps"); steps > 0 {
							err = m.Steps(-int(steps))
						} else {
							err = m.Down()
						}
						if err != nil && !errors.Is(err, migrate.ErrNoChange) {
							return fmt.Errorf("migration down failed: %w", err)
						}
						fmt.Println("Migrations rolled back successfully")
						return nil
					})
				},
			},
			{
				Name:  "version",
				Usage: "Print the current schema version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withMigrator(cmd, func(m *migrate.Migrate) error {
						version, dirty, err := m.Version()
						if errors.Is(err, migrate.ErrNilVersion) {
							fmt.Println("No migrations applied")
							return nil
						}
						if err != nil {
							return fmt.Errorf("read version: %w", err)
						}
						fmt.Printf("version=%d dirty=%t\n", version, dirty)
						return nil
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withMigrator(cmd *cli.Command, fn func(m *migrate.Migrate) error) error {
	dbURL := cmd.String("db")
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := postgres.NewMigrator(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
