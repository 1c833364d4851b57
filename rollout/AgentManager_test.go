package rollout

import (
	"testing"
	"time"

	G "gorgonia.org/gorgonia"

	"github.com/rlgopher/pporl/environment"
	"github.com/rlgopher/pporl/environment/chain"
	"github.com/rlgopher/pporl/policy"
)

func chainBuilder() (environment.Environment, error) {
	return chain.NewDefault(), nil
}

func newManager(t *testing.T, numThreads, gamesPerThread int) *AgentManager {
	t.Helper()

	pol, err := policy.NewDiscrete(2, 2, numThreads*gamesPerThread,
		G.NewGraph(), []int{8}, G.GlorotU(1.0), 19)
	if err != nil {
		t.Fatal(err)
	}

	m, err := NewAgentManager(pol, numThreads, gamesPerThread, chainBuilder)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewAgentManagerValidatesBatchSize(t *testing.T) {
	pol, err := policy.NewDiscrete(2, 2, 4, G.NewGraph(), []int{8},
		G.GlorotU(1.0), 19)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewAgentManager(pol, 4, 2, chainBuilder); err == nil {
		t.Error("expected error for policy batch size not matching the " +
			"instance count")
	}
}

func TestCollectTimesteps(t *testing.T) {
	m := newManager(t, 4, 2)
	m.StartAgents()
	defer m.Stop()

	traj, err := m.CollectTimesteps(100)
	if err != nil {
		t.Fatal(err)
	}

	if traj.Size() < 100 {
		t.Fatalf("collected %v timesteps, want at least 100", traj.Size())
	}
	if traj.ObsSize() != 2 {
		t.Fatalf("observation size: want 2, have %v", traj.ObsSize())
	}
	if len(traj.States) != traj.Size()*2 {
		t.Errorf("flat states length %v does not match %v timesteps",
			len(traj.States), traj.Size())
	}

	// Every recorded sequence ends in a terminal or truncated step
	last := traj.Size() - 1
	if traj.Dones[last] == 0 && traj.Truncateds[last] == 0 {
		t.Error("final collected step neither terminal nor truncated")
	}

	stepReward, _, _ := m.GetMetrics()
	if stepReward == 0 {
		t.Error("step reward metric never updated during collection")
	}

	m.ResetMetrics()
	stepReward, epReward, epLength := m.GetMetrics()
	if stepReward != 0 || epReward != 0 || epLength != 0 {
		t.Errorf("metrics not reset: (%v, %v, %v)", stepReward, epReward,
			epLength)
	}
}

func TestCollectTimestepsDrainsTrajectories(t *testing.T) {
	m := newManager(t, 2, 2)
	m.StartAgents()
	defer m.Stop()

	if _, err := m.CollectTimesteps(50); err != nil {
		t.Fatal(err)
	}

	// A second collection only returns steps taken after the first
	traj, err := m.CollectTimesteps(50)
	if err != nil {
		t.Fatal(err)
	}
	if traj.Size() < 50 {
		t.Fatalf("second collection returned %v timesteps, want at least 50",
			traj.Size())
	}
}

func TestGateBlocksEntrants(t *testing.T) {
	var gate Gate
	gate.Pause()

	entered := make(chan struct{})
	go func() {
		gate.Enter()
		close(entered)
		gate.Leave()
	}()

	select {
	case <-entered:
		t.Fatal("entered a paused gate")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Resume()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("gate did not reopen after resume")
	}
}

func TestStopUnblocksCollection(t *testing.T) {
	m := newManager(t, 2, 2)
	m.StartAgents()

	done := make(chan error, 1)
	go func() {
		// Unreachably large target: only Stop can end this call
		_, err := m.CollectTimesteps(1 << 40)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.Stop()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error from a stopped collection")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("collection did not return after stop")
	}
}
