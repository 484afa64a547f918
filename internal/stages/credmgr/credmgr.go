// Package credmgr implements the credential manager stage: it refreshes
// X.509/token material on disk before any other stage needs it, then
// renews it periodically. It is one of the two "execute-first" stages:
// the supervisor calls Execute synchronously once before starting its
// periodic loop.
package credmgr

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// Refresher produces fresh credential material on disk. The real
// X.509/token refresh protocol is an external collaborator; this
// interface only fixes the verb the stage calls.
type Refresher interface {
	Refresh(ctx context.Context, path string) error
}

// FileTouchRefresher is the default Refresher: it rewrites the
// credential file with a placeholder payload and a fresh mtime,
// standing in for a real certificate/token renewal so the stage and
// its tests don't need a real credential back-end.
type FileTouchRefresher struct{}

func (FileTouchRefresher) Refresh(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	body := fmt.Sprintf("renewed-at=%s\n", time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(path, []byte(body), 0o600)
}

// New constructs the credential manager stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	return NewWithRefresher(deps, index, singleShot, stop, FileTouchRefresher{})
}

// NewWithRefresher is New with an injectable Refresher, for tests.
func NewWithRefresher(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal, refresher Refresher) stage.Agent {
	sec := deps.Stage
	execute := func(ctx context.Context) error {
		return refresher.Refresh(ctx, deps.CredentialPath)
	}
	return stage.NewBase("credmgr", index, sec.Period(), singleShot, stop, execute)
}
