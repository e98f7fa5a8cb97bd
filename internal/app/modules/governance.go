package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/notification"
	"svc-steward.io/steward/internal/permission"
	"svc-steward.io/steward/internal/registry"
	"svc-steward.io/steward/internal/repository"
)

// GovernanceModule wires the service registry and the sharing service over
// the shared pool. Sharing notifications fan out through the inbox sender.
type GovernanceModule struct {
	registry *registry.Registry
	shares   *registry.ShareService
}

// NewGovernanceModule creates the registry/sharing module.
func NewGovernanceModule(infra *Infrastructure) (*GovernanceModule, error) {
	if infra == nil || infra.Pool == nil {
		return nil, fmt.Errorf("governance module requires a pgx pool")
	}

	serviceRepo := repository.NewServiceRepo(infra.Pool)
	shareRepo := repository.NewShareRepo(infra.Pool)
	perms := permission.NewEvaluator(shareRepo)

	reg := registry.NewRegistry(serviceRepo, perms, infra.AuditLogger)
	reg.SetEventDispatcher(infra.Events)
	reg.SetWorkerPools(infra.Pools)

	shareSvc := registry.NewShareService(shareRepo, serviceRepo, perms, infra.AuditLogger)
	shareSvc.SetEventDispatcher(infra.Events)
	shareSvc.SetWorkerPools(infra.Pools)

	userRepo := repository.NewUserRepo(infra.Pool)
	inboxSender := notification.NewInboxSender(repository.NewNotificationRepo(infra.Pool))
	shareSvc.SetNotifier(notification.NewTriggers(inboxSender, userRepo))

	return &GovernanceModule{registry: reg, shares: shareSvc}, nil
}

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Registry = m.registry
	deps.Shares = m.shares
}

func (m *GovernanceModule) RegisterWorkers(_ *river.Workers) {}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }
