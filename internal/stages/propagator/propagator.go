// Package propagator implements the status propagator stage: it
// reports JobSpec status back to the dispatcher so the central service
// observes local lifecycle progress.
package propagator

import (
	"context"
	"errors"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// reportableStatuses are the JobSpec states the dispatcher needs to
// hear about. JobNew is excluded: a fresh fetch is not yet news to the
// side that just handed it over.
var reportableStatuses = []model.JobStatus{
	model.JobFetched, model.JobPrepared, model.JobSubmitted, model.JobRunning,
	model.JobFinished, model.JobFailed, model.JobSubmitFailed,
}

// perQueueBatch bounds how many JobSpecs one worker reports per queue
// per cycle, so a single worker can't starve its siblings' claim
// attempts.
const perQueueBatch = 50

// New constructs the status propagator stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("propagator", index)
	execute := func(ctx context.Context) error {
		client, err := deps.Comm.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.Comm.Release(client)

		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for queueName := range deps.Mapper.Snapshot() {
			for i := 0; i < perQueueBatch; i++ {
				job, err := pr.ClaimJob(ctx, queueName, reportableStatuses, lockOwner, sec.Lease())
				if errors.Is(err, dbproxy.ErrNoClaimableRow) {
					break
				}
				if err != nil {
					return err
				}
				// Keep the row claimed until this cycle ends, so the next
				// ClaimJob moves on to another JobSpec instead of
				// re-claiming this one.
				defer pr.ReleaseJob(ctx, job.PandaID)
				if err := client.ReportStatus(ctx, *job); err != nil {
					if _, ok := err.(*comm.TransientRemoteError); ok {
						continue
					}
					return err
				}
			}
		}
		return nil
	}
	return stage.NewBase("propagator", index, sec.Period(), singleShot, stop, execute)
}
