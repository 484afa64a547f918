// Package stager implements the stager stage: it stages output files
// for finished WorkSpecs via the queue's stager plug-in, once per
// worker.
package stager

import (
	"context"
	"errors"

	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

const perQueueBatch = 50
const transferDirection = "out"

func resolvePlugin(deps stage.Deps, queueName string) Plugin {
	qc, ok := deps.Mapper.GetQueue(queueName)
	if ok {
		if name, ok := qc.StringField("stager"); ok {
			if p, ok := deps.Plugins.Lookup("stager", name); ok {
				if plugin, ok := p.(Plugin); ok {
					return plugin
				}
			}
		}
	}
	return NoopPlugin{}
}

// New constructs the stager stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	lockOwner := stage.LockOwner("stager", index)
	execute := func(ctx context.Context) error {
		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for queueName := range deps.Mapper.Snapshot() {
			plugin := resolvePlugin(deps, queueName)
			for i := 0; i < perQueueBatch; i++ {
				ws, err := pr.ClaimWork(ctx, queueName, []model.WorkStatus{model.WorkFinished}, lockOwner, sec.Lease())
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
				already, err := pr.HasFileTransfer(ctx, ws.WorkerID, transferDirection)
				if err != nil {
					return err
				}
				if already {
					continue
				}
				ok, diag := plugin.StageOut(ctx, ws)
				status := "ok"
				if !ok {
					status = "failed: " + diag
				}
				if err := pr.RecordFileTransfer(ctx, ws.WorkerID, transferDirection, ws.AccessPoint, status); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return stage.NewBase("stager", index, sec.Period(), singleShot, stop, execute)
}
