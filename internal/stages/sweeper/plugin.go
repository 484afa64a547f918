package sweeper

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// Plugin kills and cleans a back-end's resources for a terminal
// WorkSpec. The real batch-system/cloud-API teardown is an external
// collaborator; this interface only fixes the two verbs the sweeper
// calls. Both must be safe to call repeatedly on the same input.
type Plugin interface {
	KillWorker(ctx context.Context, ws *model.WorkSpec) (ok bool, diag string)
	SweepWorker(ctx context.Context, ws *model.WorkSpec) (ok bool, diag string)
}

// NoopPlugin reports every kill/sweep as immediately successful. It is
// the fallback when a queue names no sweeper plug-in.
type NoopPlugin struct{}

func (NoopPlugin) KillWorker(ctx context.Context, ws *model.WorkSpec) (bool, string) {
	return true, "noop"
}

func (NoopPlugin) SweepWorker(ctx context.Context, ws *model.WorkSpec) (bool, string) {
	return true, "noop"
}
