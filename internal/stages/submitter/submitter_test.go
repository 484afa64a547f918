package submitter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

func setupPool(t *testing.T, queueDoc string) (*dbproxy.Pool, *config.QueueConfigMapper) {
	t.Helper()
	dir := t.TempDir()
	qpath := filepath.Join(dir, "queues.json")
	if err := os.WriteFile(qpath, []byte(queueDoc), 0o644); err != nil {
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
	return pool, mapper
}

func TestSubmitterCreatesWorkForReadyJob(t *testing.T) {
	pool, mapper := setupPool(t, `{"Q1": {}}`)
	pr, _ := pool.Lease(context.Background())
	if err := pr.InsertJob(context.Background(), &model.JobSpec{PandaID: "1", QueueName: "Q1", Status: model.JobNew}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := pr.TransitionJobStatus(context.Background(), "1", model.JobPrepared); err != nil {
		t.Fatalf("transition: %v", err)
	}
	pool.Release(pr)

	deps := stage.Deps{DB: pool, Mapper: mapper, Plugins: stage.NewPluginRegistry(), Stage: config.StageSection{SleepTime: 30, LeaseSeconds: 60, AttemptCap: 3}}
	agent := New(deps, 0, true, stopsignal.New())
	agent.Run(context.Background())

	pr2, _ := pool.Lease(context.Background())
	defer pool.Release(pr2)
	claimedJob, err := pr2.ClaimJob(context.Background(), "Q1", []model.JobStatus{model.JobSubmitted}, "check", 0)
	if err != nil || claimedJob.WorkerID == nil {
		t.Fatalf("expected job bound to a new worker, got %v / %v", claimedJob, err)
	}
	work, err := pr2.ClaimWork(context.Background(), "Q1", []model.WorkStatus{model.WorkSubmitted}, "check", 0)
	if err != nil || work.WorkerID != *claimedJob.WorkerID {
		t.Fatalf("expected a submitted WorkSpec matching the job's worker id, got %v / %v", work, err)
	}
}

type refusingPlugin struct{}

func (refusingPlugin) SubmitWorkers(ctx context.Context, workers []*model.WorkSpec) (bool, string) {
	return false, "quota exceeded"
}

func TestSubmitterRecordsSubmitFailedAtAttemptCap(t *testing.T) {
	pool, mapper := setupPool(t, `{"Q1": {"submitter": "fake"}}`)
	pr, _ := pool.Lease(context.Background())
	if err := pr.InsertJob(context.Background(), &model.JobSpec{PandaID: "2", QueueName: "Q1", Status: model.JobNew}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := pr.TransitionJobStatus(context.Background(), "2", model.JobPrepared); err != nil {
		t.Fatalf("transition: %v", err)
	}
	pool.Release(pr)

	plugins := stage.NewPluginRegistry()
	plugins.Register("submitter", "fake", refusingPlugin{})
	deps := stage.Deps{DB: pool, Mapper: mapper, Plugins: plugins, Stage: config.StageSection{SleepTime: 30, LeaseSeconds: 60, AttemptCap: 1}}

	agent := New(deps, 0, true, stopsignal.New())
	agent.Run(context.Background())

	pr2, _ := pool.Lease(context.Background())
	defer pool.Release(pr2)
	claimed, err := pr2.ClaimJob(context.Background(), "Q1", []model.JobStatus{model.JobSubmitFailed}, "check", 0)
	if err != nil || claimed.PandaID != "2" {
		t.Fatalf("expected job 2 marked submit_failed at attempt cap, got %v / %v", claimed, err)
	}
}
