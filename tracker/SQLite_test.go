package tracker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rlgopher/pporl/report"
)

func TestSQLiteTrackerRecordsHistory(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteTracker(filepath.Join(t.TempDir(), "runs.db"))
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for epoch, reward := range []float64{0.5, 0.75, 1.25} {
		rep := report.New()
		rep.Set("Average Episode Reward", reward)
		rep.Set("Policy Entropy", 0.6)
		if err := s.TrackIteration(ctx, "run-a", epoch+1, rep); err != nil {
			t.Fatal(err)
		}
	}

	history, err := s.MetricHistory(ctx, "run-a", "Average Episode Reward")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.5, 0.75, 1.25}
	if len(history) != len(want) {
		t.Fatalf("history length: want %v, have %v", len(want), len(history))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%v]: want %v, have %v", i, want[i], history[i])
		}
	}

	// Other runs stay separate
	other, err := s.MetricHistory(ctx, "run-b", "Average Episode Reward")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("unknown run should have no history, have %v values",
			len(other))
	}
}

func TestSQLiteTrackerOverwritesSameEpoch(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteTracker(filepath.Join(t.TempDir(), "runs.db"))
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rep := report.New()
	rep.Set("Policy Entropy", 0.5)
	if err := s.TrackIteration(ctx, "run-a", 1, rep); err != nil {
		t.Fatal(err)
	}
	rep.Set("Policy Entropy", 0.25)
	if err := s.TrackIteration(ctx, "run-a", 1, rep); err != nil {
		t.Fatal(err)
	}

	history, err := s.MetricHistory(ctx, "run-a", "Policy Entropy")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0] != 0.25 {
		t.Errorf("re-tracked epoch: want [0.25], have %v", history)
	}
}

func TestSQLiteTrackerRequiresInit(t *testing.T) {
	s := NewSQLiteTracker("unused.db")
	err := s.TrackIteration(context.Background(), "run-a", 1, report.New())
	if err == nil {
		t.Error("expected error from an uninitialized tracker")
	}
}
