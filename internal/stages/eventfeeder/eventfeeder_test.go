package eventfeeder

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

func TestPushesEventsOnlyForEventServiceQueues(t *testing.T) {
	dir := t.TempDir()
	qpath := filepath.Join(dir, "queues.json")
	if err := os.WriteFile(qpath, []byte(`{"Q1": {"eventService": 1}, "Q2": {}}`), 0o644); err != nil {
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
	id1, err := pr.InsertWork(context.Background(), &model.WorkSpec{QueueName: "Q1", Status: model.WorkRunning})
	if err != nil {
		t.Fatalf("insert work Q1: %v", err)
	}
	if err := pr.InsertJob(context.Background(), &model.JobSpec{PandaID: "j1", QueueName: "Q1", Status: model.JobRunning}); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if err := pr.BindJobWorker(context.Background(), "j1", id1); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := pr.InsertWork(context.Background(), &model.WorkSpec{QueueName: "Q2", Status: model.WorkRunning}); err != nil {
		t.Fatalf("insert work Q2: %v", err)
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

	if len(stub.Pushed) != 1 || stub.Pushed[0].PandaID != "j1" {
		t.Fatalf("expected exactly one event pushed for Q1's job, got %+v", stub.Pushed)
	}
}
