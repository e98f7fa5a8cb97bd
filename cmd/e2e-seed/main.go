// Package main seeds deterministic fixtures for live end-to-end tests.
//
// This command is test-environment only and is intentionally idempotent.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/config"
	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/infrastructure"
	"svc-steward.io/steward/internal/kv"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/repository"
)

const (
	defaultAdminUsername = "e2e-admin"
	defaultAdminPassword = "e2e-admin-123"
	defaultOwnerUsername = "e2e-owner"
	defaultPeerUsername  = "e2e-peer"
	defaultUserPassword  = "e2e-user-123"

	defaultOwnerTeam = "team-e2e-owners"
	defaultPeerTeam  = "team-e2e-peers"

	defaultServiceName = "e2e-billing"
	defaultOrphanName  = "e2e-orphan"

	adminUserID = "user-e2e-admin"
	ownerUserID = "user-e2e-owner"
	peerUserID  = "user-e2e-peer"
	serviceID   = "svc-e2e-billing"
	orphanID    = "svc-e2e-orphan"
	viewShareID = "shr-e2e-view"
)

type fixtureConfig struct {
	AdminUsername string
	AdminPassword string
	OwnerUsername string
	PeerUsername  string
	UserPassword  string

	OwnerTeam string
	PeerTeam  string

	ServiceName string
	OrphanName  string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "e2e-seed error: %v\n", err)
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

	fx := loadFixtureConfig()
	users := repository.NewUserRepo(db.Pool)
	services := repository.NewServiceRepo(db.Pool)
	shares := repository.NewShareRepo(db.Pool)
	store := kv.NewPostgresStore(db.Pool)

	if err := ensureUser(ctx, users, &domain.User{
		ID:          adminUserID,
		Username:    fx.AdminUsername,
		DisplayName: "E2E Administrator",
		Email:       fx.AdminUsername + "@localhost",
		SystemAdmin: true,
	}, fx.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	if err := ensureUser(ctx, users, &domain.User{
		ID:          ownerUserID,
		Username:    fx.OwnerUsername,
		DisplayName: "E2E Owner",
		Email:       fx.OwnerUsername + "@localhost",
		TeamIDs:     []string{fx.OwnerTeam},
	}, fx.UserPassword); err != nil {
		return fmt.Errorf("ensure owner user: %w", err)
	}
	if err := ensureUser(ctx, users, &domain.User{
		ID:          peerUserID,
		Username:    fx.PeerUsername,
		DisplayName: "E2E Peer",
		Email:       fx.PeerUsername + "@localhost",
		TeamIDs:     []string{fx.PeerTeam},
		ManagerID:   ownerUserID,
	}, fx.UserPassword); err != nil {
		return fmt.Errorf("ensure peer user: %w", err)
	}

	ownerTeam := fx.OwnerTeam
	if err := ensureService(ctx, services, &domain.ApplicationService{
		ID:           serviceID,
		Name:         fx.ServiceName,
		OwnerTeamID:  &ownerTeam,
		Status:       domain.ServiceStatusActive,
		Environments: []string{"test"},
		CreatedBy:    adminUserID,
		UpdatedBy:    adminUserID,
	}); err != nil {
		return fmt.Errorf("ensure service: %w", err)
	}
	if err := ensureService(ctx, services, &domain.ApplicationService{
		ID:        orphanID,
		Name:      fx.OrphanName,
		Status:    domain.ServiceStatusActive,
		CreatedBy: adminUserID,
		UpdatedBy: adminUserID,
	}); err != nil {
		return fmt.Errorf("ensure orphan service: %w", err)
	}

	if err := ensureViewShare(ctx, shares, fx.PeerTeam); err != nil {
		return fmt.Errorf("ensure view share: %w", err)
	}

	if err := seedConfig(ctx, store); err != nil {
		return fmt.Errorf("seed config entries: %w", err)
	}

	fmt.Printf("e2e fixtures ready (admin=%s owner=%s service=%s orphan=%s)\n",
		fx.AdminUsername, fx.OwnerUsername, fx.ServiceName, fx.OrphanName,
	)
	return nil
}

func loadFixtureConfig() fixtureConfig {
	return fixtureConfig{
		AdminUsername: envOrDefault("E2E_ADMIN_USERNAME", defaultAdminUsername),
		AdminPassword: envOrDefault("E2E_ADMIN_PASSWORD", defaultAdminPassword),
		OwnerUsername: envOrDefault("E2E_OWNER_USERNAME", defaultOwnerUsername),
		PeerUsername:  envOrDefault("E2E_PEER_USERNAME", defaultPeerUsername),
		UserPassword:  envOrDefault("E2E_USER_PASSWORD", defaultUserPassword),
		OwnerTeam:     envOrDefault("E2E_OWNER_TEAM", defaultOwnerTeam),
		PeerTeam:      envOrDefault("E2E_PEER_TEAM", defaultPeerTeam),
		ServiceName:   envOrDefault("E2E_SERVICE", defaultServiceName),
		OrphanName:    envOrDefault("E2E_ORPHAN_SERVICE", defaultOrphanName),
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// ensureUser creates the user, or refreshes its profile when it already
// exists. The password only applies on create; Update does not touch the
// stored hash, so a rotated fixture password survives re-seeding.
func ensureUser(ctx context.Context, users *repository.UserRepo, u *domain.User, password string) error {
	existing, err := users.GetByUsername(ctx, u.Username)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodeUserNotFound) {
			return err
		}
		hash, hashErr := handlers.HashPassword(password)
		if hashErr != nil {
			return fmt.Errorf("hash password: %w", hashErr)
		}
		u.PasswordHash = hash
		return users.Create(ctx, u)
	}

	existing.DisplayName = u.DisplayName
	existing.Email = u.Email
	existing.TeamIDs = u.TeamIDs
	existing.ManagerID = u.ManagerID
	existing.SystemAdmin = u.SystemAdmin
	return users.Update(ctx, existing)
}

func ensureService(ctx context.Context, services *repository.ServiceRepo, svc *domain.ApplicationService) error {
	existing, err := services.GetByID(ctx, svc.ID)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodeServiceNotFound) {
			return err
		}
		return services.Create(ctx, svc)
	}

	existing.Name = svc.Name
	existing.OwnerTeamID = svc.OwnerTeamID
	existing.Status = svc.Status
	existing.Environments = svc.Environments
	existing.UpdatedBy = svc.UpdatedBy
	return services.Update(ctx, existing)
}

// ensureViewShare grants the peer team read access to the billing service
// so cross-team visibility paths have a live grant to exercise.
func ensureViewShare(ctx context.Context, shares *repository.ShareRepo, peerTeam string) error {
	_, err := shares.GetByID(ctx, viewShareID)
	if err == nil {
		return nil
	}
	if !apperrors.IsCode(err, apperrors.CodeShareNotFound) {
		return err
	}

	return shares.Create(ctx, &domain.ServiceShare{
		ID:          viewShareID,
		Level:       domain.ResourceLevelService,
		ServiceID:   serviceID,
		GranteeType: domain.GranteeTeam,
		GranteeID:   peerTeam,
		Permissions: []domain.SharePermission{domain.PermViewInstance},
		GrantedBy:   adminUserID,
	})
}

// seedConfig writes a small deterministic configuration tree under the
// billing service. Unconditional puts keep re-runs convergent.
func seedConfig(ctx context.Context, store *kv.PostgresStore) error {
	entries := map[string]string{
		"db/host":       "db.e2e.local",
		"db/port":       "5432",
		"features/beta": "false",
	}
	for path, value := range entries {
		key, err := kv.BuildKey(serviceID, path)
		if err != nil {
			return fmt.Errorf("build key %s: %w", path, err)
		}
		if _, err := store.Put(ctx, key, []byte(value), kv.KindLeaf, nil); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
	}
	return nil
}
