package monitor

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// Plugin queries a back-end for a WorkSpec's current status. The real
// batch-system/cloud-API query is an external collaborator;
// this interface only fixes the verb the monitor stage calls. It
// reports the observed status directly rather than a bare
// (ok, diag) pair, since a boolean alone can't distinguish which of
// several non-terminal states a worker is in.
type Plugin interface {
	CheckWorker(ctx context.Context, ws *model.WorkSpec) (status model.WorkStatus, diag string, err error)
}

// NoopPlugin reports a WorkSpec unchanged. It is the fallback when a
// queue names no monitor plug-in, and the one used in tests.
type NoopPlugin struct{}

func (NoopPlugin) CheckWorker(ctx context.Context, ws *model.WorkSpec) (model.WorkStatus, string, error) {
	return ws.Status, "noop", nil
}
