package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/governance/approval"
	"svc-steward.io/steward/internal/notification"
	"svc-steward.io/steward/internal/permission"
	"svc-steward.io/steward/internal/repository"
)

// ApprovalModule wires the multi-gate ownership approval engine.
type ApprovalModule struct {
	engine *approval.Engine
}

// NewApprovalModule creates the approval module. Approver and requester
// notifications flow through the inbox; resolution events go out on the
// shared dispatcher.
func NewApprovalModule(infra *Infrastructure) (*ApprovalModule, error) {
	if infra == nil || infra.Pool == nil {
		return nil, fmt.Errorf("approval module requires a pgx pool")
	}

	approvalRepo := repository.NewApprovalRepo(infra.Pool)
	serviceRepo := repository.NewServiceRepo(infra.Pool)
	perms := permission.NewEvaluator(repository.NewShareRepo(infra.Pool))

	engine := approval.NewEngine(approvalRepo, serviceRepo, perms, infra.AuditLogger)
	engine.SetEventDispatcher(infra.Events)
	engine.SetWorkerPools(infra.Pools)

	inboxSender := notification.NewInboxSender(repository.NewNotificationRepo(infra.Pool))
	engine.SetNotifier(notification.NewTriggers(inboxSender, repository.NewUserRepo(infra.Pool)))

	return &ApprovalModule{engine: engine}, nil
}

func (m *ApprovalModule) Name() string { return "approval" }

func (m *ApprovalModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Approvals = m.engine
}

func (m *ApprovalModule) RegisterWorkers(_ *river.Workers) {}

func (m *ApprovalModule) Shutdown(context.Context) error { return nil }
