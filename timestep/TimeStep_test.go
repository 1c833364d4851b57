package timestep

import "testing"

func step(obs, action, reward float64, done bool) TimeStep {
	return TimeStep{
		State:     []float64{obs},
		Action:    action,
		LogProb:   -0.5,
		Reward:    reward,
		NextState: []float64{obs + 1},
		Done:      done,
	}
}

func TestTrajectoryAppend(t *testing.T) {
	tr := NewTrajectory(4, 1)

	for i := 0; i < 3; i++ {
		if err := tr.Append(step(float64(i), float64(i%2), 1, false)); err != nil {
			t.Fatal(err)
		}
	}

	if tr.Size() != 3 {
		t.Fatalf("size: want 3, have %v", tr.Size())
	}
	if len(tr.States) != 3 || len(tr.NextStates) != 3 {
		t.Fatalf("flat observation columns: want length 3, have (%v, %v)",
			len(tr.States), len(tr.NextStates))
	}
	if tr.LastNextState()[0] != 3 {
		t.Errorf("last next state: want 3, have %v", tr.LastNextState()[0])
	}

	bad := step(0, 0, 1, false)
	bad.State = []float64{1, 2}
	if err := tr.Append(bad); err == nil {
		t.Error("expected error for wrong observation size")
	}
}

func TestTrajectoryConcatenationKeepsSequencesContiguous(t *testing.T) {
	first := NewTrajectory(2, 1)
	second := NewTrajectory(2, 1)
	for i := 0; i < 2; i++ {
		if err := first.Append(step(float64(i), 0, 1, false)); err != nil {
			t.Fatal(err)
		}
		if err := second.Append(step(float64(10+i), 1, 1, false)); err != nil {
			t.Fatal(err)
		}
	}

	out := NewTrajectory(4, 1)
	if err := out.AppendTrajectory(first); err != nil {
		t.Fatal(err)
	}
	if err := out.AppendTrajectory(second); err != nil {
		t.Fatal(err)
	}

	wantStates := []float64{0, 1, 10, 11}
	for i, want := range wantStates {
		if out.States[i] != want {
			t.Errorf("state[%v]: want %v, have %v", i, want, out.States[i])
		}
	}
}

func TestMarkLastTruncated(t *testing.T) {
	tr := NewTrajectory(2, 1)
	if err := tr.Append(step(0, 0, 1, false)); err != nil {
		t.Fatal(err)
	}

	tr.MarkLastTruncated()
	if tr.Truncateds[0] != 1 {
		t.Error("running episode's last step should be marked truncated")
	}

	done := NewTrajectory(2, 1)
	if err := done.Append(step(0, 0, 1, true)); err != nil {
		t.Fatal(err)
	}

	done.MarkLastTruncated()
	if done.Truncateds[0] != 0 {
		t.Error("terminal step must not be marked truncated")
	}

	// Marking an empty trajectory is a no-op
	NewTrajectory(2, 1).MarkLastTruncated()
}
