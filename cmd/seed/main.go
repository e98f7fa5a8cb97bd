// Package main provides data seeding for Steward.
//
// The server does not auto-create accounts on startup; this command
// performs the initial idempotent bootstrap of the default admin.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/config"
	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/infrastructure"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	logger.Info("Starting data seeding...")

	// Schema and River migrations are expected to run before seeding
	// (server startup with database.auto_migrate, or a migration job).
	// This command only performs idempotent data bootstrap.

	if err := seedDefaultAdmin(ctx, repository.NewUserRepo(db.Pool)); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	logger.Info("Data seeding completed successfully")
	return nil
}

// defaultAdminUser is the bootstrap account fixture. The ID and username
// are stable so re-running the seed is a no-op rather than a second admin.
func defaultAdminUser(passwordHash string) *domain.User {
	return &domain.User{
		ID:           "user-default-admin",
		Username:     "admin",
		PasswordHash: passwordHash,
		DisplayName:  "Default Administrator",
		Email:        "admin@localhost",
		SystemAdmin:  true,
	}
}

// seedDefaultAdmin creates the default admin user (admin/admin). The
// password is meant to be rotated immediately after the first login.
func seedDefaultAdmin(ctx context.Context, users *repository.UserRepo) error {
	hash, err := handlers.HashPassword("admin")
	if err != nil {
		return fmt.Errorf("hash default admin password: %w", err)
	}

	admin := defaultAdminUser(hash)

	if err := users.Create(ctx, admin); err != nil {
		if apperrors.IsCode(err, apperrors.CodeUserExists) {
			logger.Info("Default admin already exists, skipping")
			return nil
		}
		return fmt.Errorf("create default admin: %w", err)
	}

	logger.Info("Seeded default admin user", zap.String("username", admin.Username))
	return nil
}
