package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// finishingMonitor reports a WorkSpec finished as soon as it's checked,
// standing in for a real back-end confirming completion.
type finishingMonitor struct{}

func (finishingMonitor) CheckWorker(ctx context.Context, ws *model.WorkSpec) (model.WorkStatus, string, error) {
	return model.WorkFinished, "done", nil
}

// TestSingleJobHappyPath: a dispatcher with one job for Q1 drives one
// JobSpec through
// new->fetched->prepared->submitted->finished and one WorkSpec through
// submitted->finished, and both rows are gone once past the retention
// window. The monitor uses finishingMonitor; every other stage's
// default plug-in (Noop) succeeds immediately. The stages of one
// single-shot supervisor pass run concurrently in no fixed order, so a
// pass may advance the row by several lifecycle steps or by none;
// repeated passes model the independent per-stage cycling a live
// deployment would do over real wall-clock time.
func TestSingleJobHappyPath(t *testing.T) {
	dir := t.TempDir()
	qpath := filepath.Join(dir, "queues.json")
	if err := os.WriteFile(qpath, []byte(`{"Q1": {"monitor": "finisher"}}`), 0o644); err != nil {
		t.Fatalf("write queue doc: %v", err)
	}

	reg := &config.Registry{
		QConf:      config.QConfSection{ConfigFile: qpath},
		DBPath:     filepath.Join(dir, "agent.db"),
		DBPoolSize: 4,
		Stages: map[string]config.StageSection{
			// RetentionSeconds must be a positive value: StageConfig
			// replaces a zero-or-negative setting with its 1-hour
			// default, which would never let the sweeper touch a row
			// created moments ago.
			"sweeper": {NThreads: 1, SleepTime: 5, AttemptCap: 3, RetentionSeconds: 1, LeaseSeconds: 30},
		},
	}

	stub := comm.NewStubCommunicator()
	stub.Jobs["Q1"] = []model.JobSpec{{PandaID: "job-1"}}

	mapper, commPool, dbPool, err := Bootstrap(context.Background(), reg, []comm.Communicator{stub})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	sup := New(reg, mapper, commPool, dbPool)
	t.Cleanup(func() { _ = sup.Close() })
	sup.Plugins.Register("monitor", "finisher", finishingMonitor{})

	// Start is safe to call repeatedly in single-shot mode: each call's
	// WaitGroup is fully drained before it returns, so the next call's
	// Add starts from zero.
	runCycle := func() { sup.Start(context.Background(), true) }

	// fetch -> prepare -> submit -> monitor(finish): drive the
	// JobSpec/WorkSpec pair to a finished WorkSpec first.
	for i := 0; i < 8; i++ {
		runCycle()
	}

	// Let the sweeper's one-second retention window elapse, then give
	// propagate/stage-out/sweep enough independent cycles to retire
	// the row.
	time.Sleep(1100 * time.Millisecond)
	for i := 0; i < 8; i++ {
		runCycle()
	}

	pr, err := dbPool.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	defer dbPool.Release(pr)

	remainingWork, err := pr.BulkSelectSweepable(context.Background(), "Q1", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("bulk select sweepable: %v", err)
	}
	if len(remainingWork) != 0 {
		t.Fatalf("expected the WorkSpec to be swept away, still present: %+v", remainingWork)
	}
	remainingJob, err := pr.ClaimJob(context.Background(), "Q1", []model.JobStatus{
		model.JobNew, model.JobFetched, model.JobPrepared, model.JobSubmitted,
		model.JobRunning, model.JobFinished, model.JobFailed, model.JobSubmitFailed,
	}, "check", 0)
	if remainingJob != nil {
		t.Fatalf("expected the JobSpec to be deleted alongside its worker, still present: %+v", remainingJob)
	}
	if len(stub.Reported) == 0 {
		t.Fatalf("expected at least one status report back to the dispatcher")
	}
}
