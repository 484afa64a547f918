// Package jobfetcher implements the job fetcher stage: for each known
// queue under its demand cap, it pulls jobs from the dispatcher and
// inserts them as new JobSpec rows.
package jobfetcher

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// DefaultDemandCap bounds in-flight JobSpecs per queue when a queue's
// property bag doesn't name one.
const DefaultDemandCap = 10

// New constructs the job fetcher stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
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

		for queueName, qc := range deps.Mapper.Snapshot() {
			demandCap := qc.IntField("nQueueLimit", DefaultDemandCap)
			inFlight, err := pr.InFlightCount(ctx, queueName)
			if err != nil {
				return err
			}
			room := demandCap - inFlight
			if room <= 0 {
				continue
			}
			jobs, err := client.FetchJobs(ctx, queueName, room)
			if err != nil {
				if _, ok := err.(*comm.TransientRemoteError); ok {
					continue
				}
				return err
			}
			if len(jobs) == 0 {
				continue
			}
			for i := range jobs {
				jobs[i].QueueName = queueName
				jobs[i].Status = model.JobFetched
				if err := pr.InsertJob(ctx, &jobs[i]); err != nil {
					return err
				}
			}
			if err := pr.MarkQueueFetched(ctx, queueName); err != nil {
				return err
			}
		}
		return nil
	}
	return stage.NewBase("jobfetcher", index, sec.Period(), singleShot, stop, execute)
}
