package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// PeriodicJobs returns the daily maintenance schedule. RunOnStart clears any
// backlog accumulated while the process was down.
func PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return NotificationCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return ShareExpiryArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("evt-%s", uuid.NewString())
	}
	return fmt.Sprintf("evt-%s", id.String())
}
