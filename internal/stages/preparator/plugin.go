package preparator

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// Plugin stages a JobSpec's inputs via a back-end-specific mechanism.
// The real transfer protocol is an external collaborator; this
// interface only fixes the verb the preparator calls.
type Plugin interface {
	TriggerPreparation(ctx context.Context, job *model.JobSpec) (ok bool, diag string)
}

// NoopPlugin reports every preparation as immediately successful. It
// is the fallback when a queue names no preparator plug-in.
type NoopPlugin struct{}

func (NoopPlugin) TriggerPreparation(ctx context.Context, job *model.JobSpec) (bool, string) {
	return true, "noop"
}
