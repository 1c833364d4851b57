package report

import (
	"strings"
	"testing"
)

func TestSetAccumGet(t *testing.T) {
	r := New()

	if _, ok := r.Get("Policy Entropy"); ok {
		t.Error("empty report should hold no metrics")
	}

	r.Set("Policy Entropy", 0.5)
	r.Set("Policy Entropy", 0.25)
	if v, _ := r.Get("Policy Entropy"); v != 0.25 {
		t.Errorf("set should replace: want 0.25, have %v", v)
	}

	r.Accum("Collection Time", 1.5)
	r.Accum("Collection Time", 0.5)
	if v, _ := r.Get("Collection Time"); v != 2 {
		t.Errorf("accum should add: want 2, have %v", v)
	}

	r.Clear()
	if _, ok := r.Get("Policy Entropy"); ok {
		t.Error("cleared report should hold no metrics")
	}
}

func TestStringFormatsKnownMetrics(t *testing.T) {
	r := New()
	r.Set("Average Episode Reward", 12.5)
	r.Set("Cumulative Timesteps", 1234567)
	r.Set("PPO Learn Time", 0.75)

	out := r.String()
	if !strings.Contains(out, "Average Episode Reward: 12.5") {
		t.Errorf("missing episode reward line:\n%v", out)
	}
	// Integral metrics are digit-grouped
	if !strings.Contains(out, "Cumulative Timesteps: 1,234,567") {
		t.Errorf("missing grouped timestep line:\n%v", out)
	}
	// Timing metrics are indented under their section
	if !strings.Contains(out, "Timing:") {
		t.Errorf("missing timing section:\n%v", out)
	}
	if !strings.Contains(out, "      PPO Learn Time: 0.75") {
		t.Errorf("missing indented learn time line:\n%v", out)
	}
}

func TestMetricsReturnsCopy(t *testing.T) {
	r := New()
	r.Set("Policy Entropy", 0.5)

	m := r.Metrics()
	m["Policy Entropy"] = 99

	if v, _ := r.Get("Policy Entropy"); v != 0.5 {
		t.Errorf("mutating the copy changed the report: %v", v)
	}
}
