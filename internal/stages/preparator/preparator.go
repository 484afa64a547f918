// Package preparator implements the preparator stage: it stages a
// JobSpec's inputs via the queue's preparator plug-in and advances the
// row from fetched to prepared, or records a failure subject to an
// attempt cap.
package preparator

import (
	"context"
	"errors"

	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

const perQueueBatch = 50

func resolvePlugin(deps stage.Deps, queueName string) Plugin {
	qc, ok := deps.Mapper.GetQueue(queueName)
	if ok {
		if name, ok := qc.StringField("preparator"); ok {
			if p, ok := deps.Plugins.Lookup("preparator", name); ok {
				if plugin, ok := p.(Plugin); ok {
					return plugin
				}
			}
		}
	}
	return NoopPlugin{}
}

// New constructs the preparator stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("preparator", index)
	execute := func(ctx context.Context) error {
		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for queueName := range deps.Mapper.Snapshot() {
			plugin := resolvePlugin(deps, queueName)
			for i := 0; i < perQueueBatch; i++ {
				job, err := pr.ClaimJob(ctx, queueName, []model.JobStatus{model.JobFetched}, lockOwner, sec.Lease())
				if errors.Is(err, dbproxy.ErrNoClaimableRow) {
					break
				}
				if err != nil {
					return err
				}
				ok, _ := plugin.TriggerPreparation(ctx, job)
				if ok {
					if err := pr.TransitionJobStatus(ctx, job.PandaID, model.JobPrepared); err != nil {
						return err
					}
					if err := pr.ReleaseJob(ctx, job.PandaID); err != nil {
						return err
					}
					continue
				}
				attempts, err := pr.IncrementJobAttempts(ctx, job.PandaID)
				if err != nil {
					return err
				}
				if attempts >= sec.AttemptCap {
					if err := pr.TransitionJobStatus(ctx, job.PandaID, model.JobFailed); err != nil {
						return err
					}
				}
				if err := pr.ReleaseJob(ctx, job.PandaID); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return stage.NewBase("preparator", index, sec.Period(), singleShot, stop, execute)
}
