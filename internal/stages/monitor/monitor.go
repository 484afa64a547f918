// Package monitor implements the monitor stage: for each non-terminal
// WorkSpec, it queries the per-queue monitor plug-in and transitions
// the row's status accordingly.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

var nonTerminalStatuses = []model.WorkStatus{model.WorkSubmitted, model.WorkRunning}

const perQueueBatch = 50

func resolvePlugin(deps stage.Deps, queueName string) Plugin {
	qc, ok := deps.Mapper.GetQueue(queueName)
	if ok {
		if name, ok := qc.StringField("monitor"); ok {
			if p, ok := deps.Plugins.Lookup("monitor", name); ok {
				if plugin, ok := p.(Plugin); ok {
					return plugin
				}
			}
		}
	}
	return NoopPlugin{}
}

// jobStatusForWork maps a terminal WorkSpec status to the JobSpec
// status its bound jobs should carry, so a job's own status field
// reaches a terminal state instead of sitting at "submitted" forever
// once its worker finishes.
func jobStatusForWork(ws model.WorkStatus) model.JobStatus {
	if ws == model.WorkFinished {
		return model.JobFinished
	}
	return model.JobFailed
}

// propagateToJobs carries a WorkSpec's terminal outcome onto every
// JobSpec bound to it.
func propagateToJobs(ctx context.Context, pr *dbproxy.Proxy, workerID int64, ws model.WorkStatus) error {
	jobIDs, err := pr.JobsForWorker(ctx, workerID)
	if err != nil {
		return err
	}
	status := jobStatusForWork(ws)
	for _, id := range jobIDs {
		if err := pr.TransitionJobStatus(ctx, id, status); err != nil {
			return err
		}
	}
	return nil
}

// New constructs the monitor stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("monitor", index)
	execute := func(ctx context.Context) error {
		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for queueName := range deps.Mapper.Snapshot() {
			plugin := resolvePlugin(deps, queueName)
			for i := 0; i < perQueueBatch; i++ {
				ws, err := pr.ClaimWork(ctx, queueName, nonTerminalStatuses, lockOwner, sec.Lease())
				if errors.Is(err, dbproxy.ErrNoClaimableRow) {
					break
				}
				if err != nil {
					return err
				}
				// Keep the row claimed until this cycle ends, so the next
				// ClaimWork moves on to another WorkSpec instead of
				// re-claiming this one.
				defer pr.ReleaseWork(ctx, ws.WorkerID)
				status, _, err := plugin.CheckWorker(ctx, ws)
				if err != nil {
					continue
				}
				if err := pr.TransitionWorkStatus(ctx, ws.WorkerID, status, time.Now().UTC()); err != nil {
					return err
				}
				if status.IsTerminal() {
					if err := propagateToJobs(ctx, pr, ws.WorkerID, status); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return stage.NewBase("monitor", index, sec.Period(), singleShot, stop, execute)
}
