package dbproxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	pool, err := Open(path, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	mapper, err := config.LoadQueueMapper(writeInlineMapper(t, `{"Q1": {}}`))
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	if err := pool.EnsureSchema(context.Background(), mapper); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return pool
}

func writeInlineMapper(t *testing.T, body string) config.QConfSection {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "queues.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write queue doc: %v", err)
	}
	return config.QConfSection{ConfigFile: path}
}

func TestClaimJobSingleWinner(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	pr, err := pool.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	defer pool.Release(pr)

	job := &model.JobSpec{PandaID: "1", QueueName: "Q1", Status: model.JobNew}
	if err := pr.InsertJob(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}

	claimed1, err1 := pr.ClaimJob(ctx, "Q1", []model.JobStatus{model.JobNew}, "worker-A", time.Minute)
	claimed2, err2 := pr.ClaimJob(ctx, "Q1", []model.JobStatus{model.JobNew}, "worker-B", time.Minute)

	if err1 != nil || claimed1 == nil {
		t.Fatalf("expected worker-A to claim the row, got %v / %v", claimed1, err1)
	}
	if err2 != ErrNoClaimableRow {
		t.Fatalf("expected worker-B to see no claimable row, got %v / %v", claimed2, err2)
	}
	if claimed1.LockOwner != "worker-A" {
		t.Fatalf("expected lock owner worker-A, got %s", claimed1.LockOwner)
	}
}

func TestClaimJobExpiredLeaseIsReclaimable(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	pr, _ := pool.Lease(ctx)
	defer pool.Release(pr)

	job := &model.JobSpec{PandaID: "2", QueueName: "Q1", Status: model.JobNew}
	if err := pr.InsertJob(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := pr.ClaimJob(ctx, "Q1", []model.JobStatus{model.JobNew}, "worker-A", -time.Second); err != nil {
		t.Fatalf("initial claim: %v", err)
	}
	claimed, err := pr.ClaimJob(ctx, "Q1", []model.JobStatus{model.JobNew}, "worker-B", time.Minute)
	if err != nil {
		t.Fatalf("expected expired lease to be reclaimable: %v", err)
	}
	if claimed.LockOwner != "worker-B" {
		t.Fatalf("expected worker-B to hold the lease, got %s", claimed.LockOwner)
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	pr, _ := pool.Lease(ctx)
	defer pool.Release(pr)

	job := &model.JobSpec{PandaID: "3", QueueName: "Q1", Status: model.JobNew}
	if err := pr.InsertJob(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sequence := []model.JobStatus{model.JobFetched, model.JobPrepared, model.JobSubmitted, model.JobFinished}
	for _, status := range sequence {
		if err := pr.TransitionJobStatus(ctx, "3", status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	claimed, err := pr.ClaimJob(ctx, "Q1", []model.JobStatus{model.JobFinished}, "sweeper-0", time.Minute)
	if err != nil || claimed.Status != model.JobFinished {
		t.Fatalf("expected job to be claimable in finished state: %v %v", claimed, err)
	}
	if err := pr.DeleteJob(ctx, "3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := pr.ClaimJob(ctx, "Q1", []model.JobStatus{model.JobFinished}, "sweeper-1", time.Minute); err != ErrNoClaimableRow {
		t.Fatalf("expected deleted row to be gone, got %v", err)
	}
}

func TestWorkSpecClaimAndSweep(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	pr, _ := pool.Lease(ctx)
	defer pool.Release(pr)

	id, err := pr.InsertWork(ctx, &model.WorkSpec{QueueName: "Q1", Status: model.WorkSubmitted})
	if err != nil {
		t.Fatalf("insert work: %v", err)
	}
	if err := pr.TransitionWorkStatus(ctx, id, model.WorkFinished, time.Now().UTC().Add(-2*time.Hour)); err != nil {
		t.Fatalf("transition: %v", err)
	}
	sweepable, err := pr.BulkSelectSweepable(ctx, "Q1", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("bulk select: %v", err)
	}
	if len(sweepable) != 1 || sweepable[0].WorkerID != id {
		t.Fatalf("expected work %d sweepable, got %+v", id, sweepable)
	}
	if err := pr.DeleteWork(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remaining, err := pr.BulkSelectSweepable(ctx, "Q1", time.Now().UTC())
	if err != nil || len(remaining) != 0 {
		t.Fatalf("expected no remaining work, got %+v err=%v", remaining, err)
	}
}
