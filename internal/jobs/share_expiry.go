package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/pkg/logger"
)

const (
	// DefaultShareExpiryGrace is how long an expired grant row lingers
	// before physical deletion. Permission checks already ignore expired
	// grants, so the grace window only affects what managers can still see
	// in share listings.
	DefaultShareExpiryGrace = 24 * time.Hour
)

// ShareStore is the slice of the share repository the expiry worker needs.
type ShareStore interface {
	DeleteExpired(ctx context.Context, now time.Time) ([]*domain.ServiceShare, error)
}

// ShareExpiryArgs is a periodic maintenance job that purges sharing grants
// whose expiry has lapsed beyond the grace window.
type ShareExpiryArgs struct{}

// Kind returns the job kind identifier for periodic share expiry.
func (ShareExpiryArgs) Kind() string { return "share_expiry" }

// InsertOpts ensures at most one expiry sweep is enqueued within the same day.
func (ShareExpiryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ShareExpiryWorker removes lapsed grants and publishes an expiry event for
// each removed row.
type ShareExpiryWorker struct {
	river.WorkerDefaults[ShareExpiryArgs]
	store  ShareStore
	events *domain.EventDispatcher // nil disables event publication
	grace  time.Duration
}

// NewShareExpiryWorker creates an expiry worker. Non-positive grace falls
// back to the one-day default. events may be nil.
func NewShareExpiryWorker(store ShareStore, events *domain.EventDispatcher, grace time.Duration) *ShareExpiryWorker {
	if grace <= 0 {
		grace = DefaultShareExpiryGrace
	}
	return &ShareExpiryWorker{
		store:  store,
		events: events,
		grace:  grace,
	}
}

// Work deletes grants expired longer than the grace window.
func (w *ShareExpiryWorker) Work(ctx context.Context, _ *river.Job[ShareExpiryArgs]) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("share expiry worker is not initialized")
	}

	cutoff := time.Now().UTC().Add(-w.grace)
	removed, err := w.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete expired shares before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	for _, share := range removed {
		w.emitExpired(ctx, share)
	}

	logger.Info("share expiry sweep completed",
		zap.Int("deleted_rows", len(removed)),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
	)
	return nil
}

func (w *ShareExpiryWorker) emitExpired(ctx context.Context, share *domain.ServiceShare) {
	if w.events == nil {
		return
	}
	payload, err := domain.SharePayload{
		ShareID:     share.ID,
		ServiceID:   share.ServiceID,
		GranteeType: share.GranteeType,
		GranteeID:   share.GranteeID,
		GrantedBy:   share.GrantedBy,
	}.ToJSON()
	if err != nil {
		return
	}
	_ = w.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     domain.EventShareExpired,
		AggregateType: "service_share",
		AggregateID:   share.ID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     domain.SystemActorID,
	})
}
