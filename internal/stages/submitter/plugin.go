package submitter

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// Plugin submits a batch of newly created WorkSpecs to a back-end
// scheduler. The real submission protocol is an external collaborator;
// this interface only fixes the verb the submitter calls.
type Plugin interface {
	SubmitWorkers(ctx context.Context, workers []*model.WorkSpec) (ok bool, diag string)
}

// NoopPlugin reports every submission as immediately successful. It is
// the fallback when a queue names no submitter plug-in.
type NoopPlugin struct{}

func (NoopPlugin) SubmitWorkers(ctx context.Context, workers []*model.WorkSpec) (bool, string) {
	return true, "noop"
}
