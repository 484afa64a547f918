package stager

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

func TestStagesFinishedWorkExactlyOnce(t *testing.T) {
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
	id, err := pr.InsertWork(context.Background(), &model.WorkSpec{QueueName: "Q1", Status: model.WorkFinished})
	if err != nil {
		t.Fatalf("insert work: %v", err)
	}
	pool.Release(pr)

	deps := stage.Deps{DB: pool, Mapper: mapper, Plugins: stage.NewPluginRegistry(), Stage: config.StageSection{SleepTime: 30, LeaseSeconds: 60}}

	agent1 := New(deps, 0, true, stopsignal.New())
	agent1.Run(context.Background())
	agent2 := New(deps, 0, true, stopsignal.New())
	agent2.Run(context.Background())

	pr2, _ := pool.Lease(context.Background())
	defer pool.Release(pr2)
	count, err := pr2.CountFileTransfers(context.Background(), id, "out")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one file_transfer row across two cycles, got %d", count)
	}
}
