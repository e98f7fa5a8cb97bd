//go:build ignore

// Package worker sketches the goroutine pool standard.
//
// Coding Standard (ADR-0010): Naked goroutines are forbidden outside
// internal/pkg/worker. All concurrency goes through a pool submission
// API with context propagation; CI enforces the rule
// (docs/design/ci/scripts/check_naked_goroutine.go).
package worker

import (
	"context"

	"github.com/panjf2000/ants/v2"
)

// Task is a context-aware task function (ADR-0010 Rule 2).
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the collection carried through the composition root.
//
// Two pools, by workload shape:
//   - General: short request-scoped side effects (notification fan-out,
//     audit enrichment). Sized for burst absorption.
//   - Dispatch: event dispatch and longer-lived detached work. Kept
//     separate so a slow event handler cannot starve notifications.
type Pools struct {
	General  *Pool
	Dispatch *Pool

	// serviceCtx is the lifecycle context handed to detached tasks;
	// Shutdown cancels it before releasing the pools.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// Submit submits a request-scoped task. The context is checked twice:
// once before submission (fail fast on a dead request) and once inside
// the worker (the request may have been cancelled while queued).
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		task(ctx)
	})
}

// SubmitDetached runs a task on the service lifecycle context instead
// of a request context. Use it for work that must survive request
// cancellation but still respect graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == "dispatch" {
		pool = p.Dispatch
	}
	return pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Usage (ADR-0010 Rule 2):
//
// ❌ Forbidden: naked goroutine
// go func() {
//     notifyApprovers(req)
//     // No panic recovery, no cancellation, invisible to shutdown
// }()
//
// ✅ Correct: request-scoped side effect
// pools.General.Submit(ctx, func(ctx context.Context) {
//     if err := notifier.OnRequestSubmitted(ctx, req); err != nil {
//         logger.Warn("notify submit", zap.Error(err))
//     }
// })
//
// ✅ Correct: detached fan-out that outlives the HTTP request
// pools.SubmitDetached("dispatch", func(ctx context.Context) {
//     _ = events.Dispatch(ctx, event)
// })
