// Package modules contains domain-oriented dependency modules for the
// composition root (ADR-0013). Each module owns the wiring of one domain
// boundary and contributes its services to the shared HTTP server deps.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"svc-steward.io/steward/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}
