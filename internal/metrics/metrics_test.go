package metrics

import (
	"testing"
	"time"
)

func TestObserveExecuteAccumulatesPerStage(t *testing.T) {
	Reset()
	ObserveExecute("fetcher", true, 10*time.Millisecond)
	ObserveExecute("fetcher", true, 20*time.Millisecond)
	ObserveExecute("fetcher", false, 5*time.Millisecond)
	ObserveExecute("sweeper", true, time.Millisecond)

	all := SnapshotAll()
	fetcher, ok := all["fetcher"]
	if !ok {
		t.Fatalf("expected fetcher counters, got %+v", all)
	}
	if fetcher.Succeeded != 2 || fetcher.Failed != 1 {
		t.Fatalf("expected 2 succeeded / 1 failed, got %+v", fetcher)
	}
	if fetcher.LastCycle != 5*time.Millisecond {
		t.Fatalf("expected last cycle to reflect most recent call, got %v", fetcher.LastCycle)
	}
	if _, ok := all["sweeper"]; !ok {
		t.Fatalf("expected sweeper counters present, got %+v", all)
	}
}

func TestResetClearsAllStages(t *testing.T) {
	Reset()
	ObserveExecute("monitor", true, time.Millisecond)
	Reset()
	if len(SnapshotAll()) != 0 {
		t.Fatalf("expected empty snapshot after reset")
	}
}
