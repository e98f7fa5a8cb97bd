// Package app is the composition root. Bootstrap stays orchestration-only
// (ADR-0013): modules own their wiring, this file only sequences them.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/app/modules"
	"svc-steward.io/steward/internal/config"
	"svc-steward.io/steward/internal/infrastructure"
	"svc-steward.io/steward/internal/jobs"
	"svc-steward.io/steward/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	governanceModule, err := modules.NewGovernanceModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init governance module: %w", err)
	}
	approvalModule, err := modules.NewApprovalModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init approval module: %w", err)
	}
	configStoreModule, err := modules.NewConfigStoreModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init config store module: %w", err)
	}
	adminModule, err := modules.NewAdminModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init admin module: %w", err)
	}

	allModules := []modules.Module{
		governanceModule,
		approvalModule,
		configStoreModule,
		adminModule,
	}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	// Daily maintenance: inbox retention and share-expiry sweeps, once on
	// startup to clear any backlog accumulated while the process was down.
	if infra.RiverClient != nil {
		for _, job := range jobs.PeriodicJobs() {
			infra.RiverClient.PeriodicJobs().Add(job)
		}
	}

	serverDeps := modules.NewServerDeps(cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, serverDeps.JWTCfg),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
		infra:   infra,
	}, nil
}
