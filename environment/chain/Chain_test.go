package chain

import "testing"

func TestChainReachesGoal(t *testing.T) {
	c, err := New(4, 50)
	if err != nil {
		t.Fatal(err)
	}

	obs, err := c.Reset()
	if err != nil {
		t.Fatal(err)
	}
	if obs[0] != 0 || obs[1] != 0 {
		t.Fatalf("initial observation: want (0, 0), have %v", obs)
	}

	// Three steps right reach the goal of a 4-cell chain
	for i := 0; i < 2; i++ {
		res, err := c.Step(MoveRight)
		if err != nil {
			t.Fatal(err)
		}
		if res.Done || res.Truncated {
			t.Fatalf("episode ended early at step %v", i)
		}
		if res.Reward != -0.01 {
			t.Errorf("step reward: want -0.01, have %v", res.Reward)
		}
	}

	res, err := c.Step(MoveRight)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done {
		t.Error("goal cell should end the episode")
	}
	if res.Truncated {
		t.Error("terminal step must not be truncated")
	}
	if res.Reward != 1 {
		t.Errorf("goal reward: want 1, have %v", res.Reward)
	}
}

func TestChainTruncatesAtStepLimit(t *testing.T) {
	c, err := New(10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Reset(); err != nil {
		t.Fatal(err)
	}

	// Bounce off the left wall until the step limit hits
	for i := 0; i < 2; i++ {
		res, err := c.Step(MoveLeft)
		if err != nil {
			t.Fatal(err)
		}
		if res.Done || res.Truncated {
			t.Fatalf("episode ended early at step %v", i)
		}
	}

	res, err := c.Step(MoveLeft)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("step limit should truncate the episode")
	}
	if res.Done {
		t.Error("truncated episode is not terminal")
	}
}

func TestChainRejectsIllegalInput(t *testing.T) {
	if _, err := New(1, 50); err == nil {
		t.Error("expected error for a chain with fewer than 2 cells")
	}
	if _, err := New(10, 0); err == nil {
		t.Error("expected error for a non-positive step limit")
	}

	c := NewDefault()
	if _, err := c.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Step(7); err == nil {
		t.Error("expected error for an unknown action")
	}
}
