package policy

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
)

const (
	testFeatures   = 2
	testNumActions = 3
	testBatch      = 4
)

func newTestPolicy(t *testing.T, seed uint64) *Discrete {
	t.Helper()

	pol, err := NewDiscrete(testFeatures, testNumActions, testBatch,
		G.NewGraph(), []int{8}, G.GlorotU(1.0), seed)
	if err != nil {
		t.Fatal(err)
	}
	return pol
}

func testObs() []float64 {
	return []float64{
		0.5, -1,
		0.25, 0.75,
		-0.5, 0.1,
		1, 0,
	}
}

func TestNewDiscreteNeedsTwoActions(t *testing.T) {
	_, err := NewDiscrete(testFeatures, 1, testBatch, G.NewGraph(),
		[]int{8}, G.GlorotU(1.0), 1)
	if err == nil {
		t.Error("expected error for a single-action policy")
	}
}

func TestActionsAndLogProbs(t *testing.T) {
	pol := newTestPolicy(t, 11)

	actions, logProbs, err := pol.ActionsAndLogProbs(testObs())
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != testBatch || len(logProbs) != testBatch {
		t.Fatalf("want %v actions and log probs, have (%v, %v)", testBatch,
			len(actions), len(logProbs))
	}

	minLogProb := math.Log(minActionProb)
	for i := range actions {
		a := int(actions[i])
		if a < 0 || a >= testNumActions {
			t.Errorf("action[%v] out of range: %v", i, actions[i])
		}
		if logProbs[i] > 0 || logProbs[i] < minLogProb {
			t.Errorf("logProb[%v] out of range: %v", i, logProbs[i])
		}
	}
}

func TestDeterministicActionsAreConsistent(t *testing.T) {
	pol := newTestPolicy(t, 11)

	// Identical observation rows must select identical actions
	obs := []float64{
		0.5, -1,
		0.5, -1,
		0.5, -1,
		0.5, -1,
	}
	actions, err := pol.DeterministicActions(obs)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(actions); i++ {
		if actions[i] != actions[0] {
			t.Fatalf("identical rows selected different actions: %v", actions)
		}
	}
}

func TestSyncFrom(t *testing.T) {
	src := newTestPolicy(t, 11)
	dst := newTestPolicy(t, 97)

	if err := dst.SyncFrom(src); err != nil {
		t.Fatal(err)
	}

	srcActions, err := src.DeterministicActions(testObs())
	if err != nil {
		t.Fatal(err)
	}
	dstActions, err := dst.DeterministicActions(testObs())
	if err != nil {
		t.Fatal(err)
	}
	for i := range srcActions {
		if srcActions[i] != dstActions[i] {
			t.Errorf("action[%v] differs after sync: %v vs %v", i,
				srcActions[i], dstActions[i])
		}
	}
}

func TestSetActionsValidation(t *testing.T) {
	pol := newTestPolicy(t, 11)

	if err := pol.SetActions([]float64{0, 1}); err == nil {
		t.Error("expected error for wrong action count")
	}
	if err := pol.SetActions([]float64{0, 1, 2, 3}); err == nil {
		t.Error("expected error for out-of-range action")
	}
	if err := pol.SetActions([]float64{0, 1, 2, 0}); err != nil {
		t.Errorf("legal actions rejected: %v", err)
	}
}

func TestTrainingNodes(t *testing.T) {
	pol := newTestPolicy(t, 11)

	if err := pol.Network().SetInput(testObs()); err != nil {
		t.Fatal(err)
	}
	if err := pol.SetActions([]float64{0, 1, 2, 0}); err != nil {
		t.Fatal(err)
	}

	vm := G.NewTapeMachine(pol.Network().Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()

	logProbs := pol.LogProbsVal()
	if len(logProbs) != testBatch {
		t.Fatalf("want %v log probs, have %v", testBatch, len(logProbs))
	}
	for i, lp := range logProbs {
		if lp > 0 || math.IsNaN(lp) {
			t.Errorf("logProb[%v] out of range: %v", i, lp)
		}
	}

	entropy := pol.EntropyVal()
	maxEntropy := math.Log(float64(testNumActions))
	if entropy < 0 || entropy > maxEntropy+1e-9 {
		t.Errorf("entropy out of [0, %v]: %v", maxEntropy, entropy)
	}
}
