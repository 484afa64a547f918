package propagator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

func TestReportsReportableJobsAndReleasesLock(t *testing.T) {
	dir := t.TempDir()
	qpath := filepath.Join(dir, "queues.json")
	if err := os.WriteFile(qpath, []byte(`{"Q1": {}}`), 0o644); err != nil {
		t.Fatalf("write queue doc: %v", err)
	}
	mapper, err := config.LoadQueueMapper(config.QConfSection{ConfigFile: qpath})
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	pool, err := dbproxy.Open(filepath.Join(dir, "agent.db"), 2)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	if err := pool.EnsureSchema(context.Background(), mapper); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	pr, _ := pool.Lease(context.Background())
	if err := pr.InsertJob(context.Background(), &model.JobSpec{PandaID: "1", QueueName: "Q1", Status: model.JobNew}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := pr.TransitionJobStatus(context.Background(), "1", model.JobSubmitted); err != nil {
		t.Fatalf("transition: %v", err)
	}
	pool.Release(pr)

	stub := comm.NewStubCommunicator()
	deps := stage.Deps{
		Comm:   comm.NewPool([]comm.Communicator{stub}),
		DB:     pool,
		Mapper: mapper,
		Stage:  config.StageSection{SleepTime: 30, LeaseSeconds: 60},
	}
	agent := New(deps, 0, true, stopsignal.New())
	agent.Run(context.Background())

	if len(stub.Reported) != 1 || stub.Reported[0].PandaID != "1" {
		t.Fatalf("expected job 1 to be reported, got %+v", stub.Reported)
	}

	pr2, _ := pool.Lease(context.Background())
	defer pool.Release(pr2)
	claimed, err := pr2.ClaimJob(context.Background(), "Q1", []model.JobStatus{model.JobSubmitted}, "other", 0)
	if err != nil || claimed.LockOwner != "other" {
		t.Fatalf("expected the job's claim to have been released for re-claim, got %v / %v", claimed, err)
	}
}
