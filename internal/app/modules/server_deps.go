package modules

import (
	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/api/middleware"
	"svc-steward.io/steward/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute
// explicit wiring.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Pool:  infra.Pool,
		Redis: infra.Redis,
		JWTCfg: middleware.JWTConfig{
			SigningKey: []byte(cfg.Security.JWTSecret),
			Issuer:     "steward",
			ExpiresIn:  cfg.Security.TokenTTL,
		},
		Audit: infra.AuditLogger,
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
