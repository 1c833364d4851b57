package checkpoint

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rlgopher/pporl/stats"
)

func testState(timesteps int) State {
	rs := stats.NewRunningStat(1)
	_ = rs.Increment([]float64{1, 2, 3}, 3)
	return State{
		CumulativeTimesteps:    timesteps,
		CumulativeModelUpdates: 42,
		Epoch:                  7,
		RunID:                  "test-run",
		RewardRunningStats:     rs,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{SaveFolder: dir, LoadFolder: dir, KeepLimit: 5}

	weights := []float64{1.5, -2.25, 3}
	artifacts := map[string]interface{}{PolicyFile: weights}
	if err := m.Save(testState(1000), artifacts); err != nil {
		t.Fatal(err)
	}

	var restoredWeights []float64
	restored := State{RewardRunningStats: stats.NewRunningStat(1)}
	found, err := m.Load(&restored,
		map[string]interface{}{PolicyFile: &restoredWeights})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("saved checkpoint not found")
	}

	if restored.CumulativeTimesteps != 1000 ||
		restored.CumulativeModelUpdates != 42 ||
		restored.Epoch != 7 || restored.RunID != "test-run" {
		t.Errorf("restored state differs: %+v", restored)
	}
	if restored.RewardRunningStats.Count() != 3 {
		t.Errorf("restored running statistic count: want 3, have %v",
			restored.RewardRunningStats.Count())
	}
	for i := range weights {
		if restoredWeights[i] != weights[i] {
			t.Errorf("weight[%v]: want %v, have %v", i, weights[i],
				restoredWeights[i])
		}
	}
}

func TestLoadPicksNewestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{SaveFolder: dir, LoadFolder: dir, KeepLimit: 5}

	for _, steps := range []int{100, 900, 500} {
		if err := m.Save(testState(steps), nil); err != nil {
			t.Fatal(err)
		}
	}

	var restored State
	found, err := m.Load(&restored, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("saved checkpoints not found")
	}
	if restored.CumulativeTimesteps != 900 {
		t.Errorf("want the checkpoint at 900 timesteps, have %v",
			restored.CumulativeTimesteps)
	}
}

func TestLoadWithoutCheckpoints(t *testing.T) {
	m := &Manager{LoadFolder: filepath.Join(t.TempDir(), "missing")}

	var state State
	found, err := m.Load(&state, nil)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("found a checkpoint in an empty folder")
	}
}

func TestLoadMissingArtifactFails(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{SaveFolder: dir, LoadFolder: dir, KeepLimit: 5}

	if err := m.Save(testState(100), nil); err != nil {
		t.Fatal(err)
	}

	var weights []float64
	var state State
	_, err := m.Load(&state, map[string]interface{}{PolicyFile: &weights})
	if err == nil {
		t.Error("expected error for a checkpoint missing an artifact")
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{SaveFolder: dir, LoadFolder: dir, KeepLimit: 2}

	for _, steps := range []int{100, 200, 300, 400} {
		if err := m.Save(testState(steps), nil); err != nil {
			t.Fatal(err)
		}
	}

	for _, steps := range []int{100, 200} {
		path := filepath.Join(dir, strconv.Itoa(steps))
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("checkpoint %v should have been pruned", steps)
		}
	}
	for _, steps := range []int{300, 400} {
		path := filepath.Join(dir, strconv.Itoa(steps))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("checkpoint %v missing: %v", steps, err)
		}
	}
}
