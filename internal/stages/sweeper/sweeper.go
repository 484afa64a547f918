// Package sweeper implements the sweeper stage: it kills and cleans
// WorkSpecs that are terminal and past their retention window, deletes
// the WorkSpec and its associated JobSpec rows once cleanup succeeds,
// and parks a row as unreachable for audit once the kill attempt cap
// is exhausted.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// sweepableStatuses are the WorkSpec states the sweeper will claim.
// WorkUnreachable is deliberately excluded: once a row hits the attempt
// cap it is parked for an operator to look at, not retried forever.
var sweepableStatuses = []model.WorkStatus{
	model.WorkFinished, model.WorkFailed, model.WorkCancelled, model.WorkMissed, model.WorkKillFailed,
}

// orphanJobStatuses are the JobSpec states a job can reach without ever
// being bound to a WorkSpec (submission or preparation failing before a
// worker exists). sweepOne only ever reaches JobSpecs through a
// WorkSpec's JobsForWorker, so these rows need their own reap path or
// they sit forever.
var orphanJobStatuses = []model.JobStatus{
	model.JobFailed, model.JobSubmitFailed,
}

const perQueueBatch = 50

func resolvePlugin(deps stage.Deps, queueName string) Plugin {
	qc, ok := deps.Mapper.GetQueue(queueName)
	if ok {
		if name, ok := qc.StringField("sweeper"); ok {
			if p, ok := deps.Plugins.Lookup("sweeper", name); ok {
				if plugin, ok := p.(Plugin); ok {
					return plugin
				}
			}
		}
	}
	return NoopPlugin{}
}

// New constructs the sweeper stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("sweeper", index)
	execute := func(ctx context.Context) error {
		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for queueName := range deps.Mapper.Snapshot() {
			plugin := resolvePlugin(deps, queueName)
			cutoff := time.Now().UTC().Add(-sec.Retention())
			for i := 0; i < perQueueBatch; i++ {
				ws, err := pr.ClaimSweepableWork(ctx, queueName, sweepableStatuses, cutoff, lockOwner, sec.Lease())
				if errors.Is(err, dbproxy.ErrNoClaimableRow) {
					break
				}
				if err != nil {
					return err
				}
				if err := sweepOne(ctx, pr, ws, plugin, sec.AttemptCap); err != nil {
					return err
				}
			}
			for i := 0; i < perQueueBatch; i++ {
				job, err := pr.ClaimSweepableOrphanJob(ctx, queueName, orphanJobStatuses, cutoff, lockOwner, sec.Lease())
				if errors.Is(err, dbproxy.ErrNoClaimableRow) {
					break
				}
				if err != nil {
					return err
				}
				if err := sweepOrphanJob(ctx, pr, job); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return stage.NewBase("sweeper", index, sec.Period(), singleShot, stop, execute)
}

// sweepOrphanJob retires a terminal JobSpec that never reached a
// WorkSpec: it marks the row swept for the audit trail, then deletes
// it, matching the WorkSpec-bound path's claim-then-remove shape.
func sweepOrphanJob(ctx context.Context, pr *dbproxy.Proxy, job *model.JobSpec) error {
	if err := pr.TransitionJobStatus(ctx, job.PandaID, model.JobSwept); err != nil {
		return err
	}
	return pr.DeleteJob(ctx, job.PandaID)
}

// sweepOne drives one WorkSpec through kill-then-clean. It always
// releases or deletes the row before returning, so the claim never
// outlives one cycle.
func sweepOne(ctx context.Context, pr *dbproxy.Proxy, ws *model.WorkSpec, plugin Plugin, attemptCap int) error {
	if ok, _ := plugin.KillWorker(ctx, ws); !ok {
		return failAttempt(ctx, pr, ws, attemptCap)
	}
	ok, _ := plugin.SweepWorker(ctx, ws)
	if !ok {
		return failAttempt(ctx, pr, ws, attemptCap)
	}
	jobIDs, err := pr.JobsForWorker(ctx, ws.WorkerID)
	if err != nil {
		return err
	}
	for _, id := range jobIDs {
		if err := pr.DeleteJob(ctx, id); err != nil {
			return err
		}
	}
	return pr.DeleteWork(ctx, ws.WorkerID)
}

// failAttempt records a failed kill/sweep attempt, marking the row
// unreachable once the attempt cap is exhausted and kill_failed
// otherwise, then releases the claim for the next cycle.
func failAttempt(ctx context.Context, pr *dbproxy.Proxy, ws *model.WorkSpec, attemptCap int) error {
	attempts, err := pr.IncrementKillAttempts(ctx, ws.WorkerID)
	if err != nil {
		return err
	}
	status := model.WorkKillFailed
	if attempts >= attemptCap {
		status = model.WorkUnreachable
	}
	if err := pr.TransitionWorkStatus(ctx, ws.WorkerID, status, time.Now().UTC()); err != nil {
		return err
	}
	return pr.ReleaseWork(ctx, ws.WorkerID)
}
