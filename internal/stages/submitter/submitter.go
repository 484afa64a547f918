// Package submitter implements the submitter stage: it claims ready
// JobSpecs, groups them into new WorkSpecs according to the queue's
// mapping type, submits the group via the queue's submitter plug-in,
// and persists the result.
package submitter

import (
	"context"
	"errors"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

const defaultJobsPerWorker = 1
const defaultWorkersPerJob = 1
const perQueueRounds = 20

func resolvePlugin(deps stage.Deps, queueName string) Plugin {
	qc, ok := deps.Mapper.GetQueue(queueName)
	if ok {
		if name, ok := qc.StringField("submitter"); ok {
			if p, ok := deps.Plugins.Lookup("submitter", name); ok {
				if plugin, ok := p.(Plugin); ok {
					return plugin
				}
			}
		}
	}
	return NoopPlugin{}
}

// claimReadyJobs claims up to n jobs in the Prepared state for queueName.
func claimReadyJobs(ctx context.Context, pr *dbproxy.Proxy, queueName, lockOwner string, lease time.Duration, n int) ([]*model.JobSpec, error) {
	var jobs []*model.JobSpec
	for i := 0; i < n; i++ {
		job, err := pr.ClaimJob(ctx, queueName, []model.JobStatus{model.JobPrepared}, lockOwner, lease)
		if errors.Is(err, dbproxy.ErrNoClaimableRow) {
			break
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// New constructs the submitter stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("submitter", index)
	execute := func(ctx context.Context) error {
		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for queueName, qc := range deps.Mapper.Snapshot() {
			plugin := resolvePlugin(deps, queueName)
			jobsPerWorker := defaultJobsPerWorker
			if qc.MappingType == model.MappingManyJobsPerWorker {
				jobsPerWorker = qc.IntField("nJobsPerWorker", 5)
			}
			workersPerJob := defaultWorkersPerJob
			if qc.MappingType == model.MappingManyWorkersPerJob {
				workersPerJob = qc.IntField("nWorkersPerJob", 2)
			}

			for round := 0; round < perQueueRounds; round++ {
				jobs, err := claimReadyJobs(ctx, pr, queueName, lockOwner, sec.Lease(), jobsPerWorker)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					break
				}
				workers := make([]*model.WorkSpec, 0, workersPerJob)
				for i := 0; i < workersPerJob; i++ {
					workers = append(workers, &model.WorkSpec{
						QueueName: queueName,
						Status:    model.WorkSubmitted,
						JobSpecs:  jobs,
					})
				}

				ok, _ := plugin.SubmitWorkers(ctx, workers)
				if ok {
					for _, w := range workers {
						id, err := pr.InsertWork(ctx, w)
						if err != nil {
							return err
						}
						for _, j := range w.JobSpecs {
							if err := pr.BindJobWorker(ctx, j.PandaID, id); err != nil {
								return err
							}
							if err := pr.TransitionJobStatus(ctx, j.PandaID, model.JobSubmitted); err != nil {
								return err
							}
							if err := pr.ReleaseJob(ctx, j.PandaID); err != nil {
								return err
							}
						}
					}
					continue
				}

				for _, j := range jobs {
					attempts, err := pr.IncrementJobAttempts(ctx, j.PandaID)
					if err != nil {
						return err
					}
					if attempts >= sec.AttemptCap {
						if err := pr.TransitionJobStatus(ctx, j.PandaID, model.JobSubmitFailed); err != nil {
							return err
						}
					}
					if err := pr.ReleaseJob(ctx, j.PandaID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return stage.NewBase("submitter", index, sec.Period(), singleShot, stop, execute)
}
