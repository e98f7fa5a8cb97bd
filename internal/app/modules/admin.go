package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"svc-steward.io/steward/internal/api/handlers"
	"svc-steward.io/steward/internal/jobs"
	"svc-steward.io/steward/internal/repository"
)

// AdminModule wires the user directory, the notification inbox and the
// periodic maintenance workers that keep both tidy.
type AdminModule struct {
	users         *repository.UserRepo
	notifications *repository.NotificationRepo
	shares        *repository.ShareRepo
	infra         *Infrastructure
}

// NewAdminModule creates the directory/inbox module.
func NewAdminModule(infra *Infrastructure) (*AdminModule, error) {
	if infra == nil || infra.Pool == nil {
		return nil, fmt.Errorf("admin module requires a pgx pool")
	}
	return &AdminModule{
		users:         repository.NewUserRepo(infra.Pool),
		notifications: repository.NewNotificationRepo(infra.Pool),
		shares:        repository.NewShareRepo(infra.Pool),
		infra:         infra,
	}, nil
}

func (m *AdminModule) Name() string { return "admin" }

func (m *AdminModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Users = m.users
	deps.Notifications = m.notifications
}

func (m *AdminModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || m.infra == nil {
		return
	}
	cfg := m.infra.Config.Jobs
	river.AddWorker(workers, jobs.NewNotificationCleanupWorker(m.notifications, cfg.NotificationRetention))
	river.AddWorker(workers, jobs.NewShareExpiryWorker(m.shares, m.infra.Events, cfg.ShareExpiryGrace))
}

func (m *AdminModule) Shutdown(context.Context) error { return nil }
