package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/kvx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file if needed, then initializes the database and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if cmd.Bool("rollback") {
		version, err := shared.RollbackMigration(db)
		if err != nil {
			return err
		}
		r.logger.Warn("rolled back migration", "version", version)
		r.writePlain("Rolled back migration %04d\n", version)
		return nil
	}

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	known, applied, err := shared.MigrationStatus(db)
	if err != nil {
		return err
	}

	store := "in-memory (kv.account_id not set)"
	if !config.KV.LocalDev() {
		store = "cloudflare account " + config.KV.AccountID
	}

	r.writePlainHeader("Setup complete")
	r.writePlain("Config:     %s\n", configPath)
	r.writePlain("Database:   %s\n", config.Database.Path)
	r.writePlain("Migrations: %d/%d applied\n", len(applied), known)
	r.writePlain("KV store:   %s\n", store)
	return nil
}
