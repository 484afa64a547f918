// Package eventfeeder implements the event feeder stage: for queues
// configured as event-service workloads, it pushes granular event
// records for each running WorkSpec's jobs back to the dispatcher.
package eventfeeder

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

var feedableStatuses = []model.WorkStatus{model.WorkSubmitted, model.WorkRunning}

const perQueueBatch = 50

// New constructs the event feeder stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("eventfeeder", index)
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
			if qc.IntField("eventService", 0) != 1 {
				continue
			}
			for i := 0; i < perQueueBatch; i++ {
				ws, err := pr.ClaimWork(ctx, queueName, feedableStatuses, lockOwner, sec.Lease())
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
				jobIDs, err := pr.JobsForWorker(ctx, ws.WorkerID)
				if err != nil {
					return err
				}
				if len(jobIDs) == 0 {
					continue
				}
				events := make([]comm.Event, 0, len(jobIDs))
				for _, id := range jobIDs {
					events = append(events, comm.Event{
						PandaID:      id,
						EventRangeID: fmt.Sprintf("%d", ws.WorkerID),
						Status:       string(ws.Status),
					})
				}
				if err := client.PushEvents(ctx, ws.WorkerID, events); err != nil {
					if _, ok := err.(*comm.TransientRemoteError); ok {
						continue
					}
					return err
				}
				for _, ev := range events {
					if err := pr.RecordEvent(ctx, ws.WorkerID, ev.PandaID, ev.EventRangeID, ev.Status); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return stage.NewBase("eventfeeder", index, sec.Period(), singleShot, stop, execute)
}
