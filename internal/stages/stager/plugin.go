package stager

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// Plugin stages a finished WorkSpec's outputs to their destination. The
// real transfer mechanism is an external collaborator; this interface
// only fixes the verb.
type Plugin interface {
	StageOut(ctx context.Context, ws *model.WorkSpec) (ok bool, diag string)
}

// NoopPlugin reports every staging attempt as immediately successful.
// It is the fallback when a queue names no stager plug-in.
type NoopPlugin struct{}

func (NoopPlugin) StageOut(ctx context.Context, ws *model.WorkSpec) (bool, string) {
	return true, "noop"
}
