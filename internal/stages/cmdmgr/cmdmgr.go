// Package cmdmgr implements the command manager stage: it polls the
// dispatcher for operator commands addressed to this agent, applies
// each one, acknowledges it, and records a command audit row.
package cmdmgr

import (
	"context"
	"fmt"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// Applier applies one operator command locally and reports the
// outcome. The concrete set of supported verbs (clear cache, drain a
// queue, reload credentials) belongs to the operator-facing surface
// and is an external collaborator; this stage only fixes the
// poll-apply-ack-audit cycle.
type Applier interface {
	Apply(ctx context.Context, cmd comm.Command) (result string, err error)
}

// NoopApplier records every command as applied without side effects.
// It is the default until specific verbs are wired in.
type NoopApplier struct{}

func (NoopApplier) Apply(ctx context.Context, cmd comm.Command) (string, error) {
	return fmt.Sprintf("noop:%s", cmd.Verb), nil
}

// New constructs the command manager stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	return NewWithApplier(deps, index, singleShot, stop, NoopApplier{})
}

// NewWithApplier is New with an injectable Applier, for tests and for
// wiring real operator verbs.
func NewWithApplier(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal, applier Applier) stage.Agent {
	sec := deps.Stage
	execute := func(ctx context.Context) error {
		client, err := deps.Comm.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.Comm.Release(client)

		cmds, err := client.FetchCommands(ctx)
		if err != nil {
			return err
		}
		if len(cmds) == 0 {
			return nil
		}

		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for _, cmd := range cmds {
			result, applyErr := applier.Apply(ctx, cmd)
			if applyErr != nil {
				result = "error: " + applyErr.Error()
			}
			if err := pr.RecordCommandAudit(ctx, cmd.ID, cmd.Verb, result); err != nil {
				return err
			}
			if err := client.AckCommand(ctx, cmd.ID); err != nil {
				return err
			}
		}
		return nil
	}
	return stage.NewBase("cmdmgr", index, sec.Period(), singleShot, stop, execute)
}
