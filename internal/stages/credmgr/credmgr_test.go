package credmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

func TestSingleShotRefreshesCredentialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.cred")
	deps := stage.Deps{
		Stage:          config.StageSection{SleepTime: 30},
		CredentialPath: path,
	}
	agent := New(deps, 0, true, stopsignal.New())
	agent.Run(context.Background())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected credential file to be written: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty credential payload")
	}
}

type failingRefresher struct{ calls int }

func (f *failingRefresher) Refresh(ctx context.Context, path string) error {
	f.calls++
	return context.DeadlineExceeded
}

func TestExecuteErrorsAreRecoveredNotPropagated(t *testing.T) {
	f := &failingRefresher{}
	deps := stage.Deps{Stage: config.StageSection{SleepTime: 30}}
	agent := NewWithRefresher(deps, 0, true, stopsignal.New(), f)
	agent.Run(context.Background())
	if f.calls != 1 {
		t.Fatalf("expected exactly one refresh attempt in single-shot mode, got %d", f.calls)
	}
}
