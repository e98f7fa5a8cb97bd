package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/kv"
	"svc-steward.io/steward/internal/permission"
	"svc-steward.io/steward/internal/repository"
)

// ConfigStoreModule wires the hierarchical configuration store: the
// PostgreSQL tree, the optional Redis read cache (ADR-0005) and the
// manager that scopes every path to its service namespace.
type ConfigStoreModule struct {
	manager *kv.Manager
}

// NewConfigStoreModule creates the configuration-store module.
func NewConfigStoreModule(infra *Infrastructure) (*ConfigStoreModule, error) {
	if infra == nil || infra.Pool == nil {
		return nil, fmt.Errorf("config store module requires a pgx pool")
	}

	var cache *kv.Cache
	if infra.Redis != nil {
		cache = kv.NewCache(infra.Redis, infra.Config.Redis.CacheTTL)
	}

	serviceRepo := repository.NewServiceRepo(infra.Pool)
	perms := permission.NewEvaluator(repository.NewShareRepo(infra.Pool))
	store := kv.NewPostgresStore(infra.Pool)

	return &ConfigStoreModule{
		manager: kv.NewManager(serviceRepo, perms, store, cache, infra.Events),
	}, nil
}

func (m *ConfigStoreModule) Name() string { return "configstore" }

func (m *ConfigStoreModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.KV = m.manager
}

func (m *ConfigStoreModule) RegisterWorkers(_ *river.Workers) {}

func (m *ConfigStoreModule) Shutdown(context.Context) error { return nil }
