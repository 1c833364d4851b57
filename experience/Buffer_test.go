package experience

import (
	"testing"

	"github.com/rlgopher/pporl/timestep"
)

// makeTrajectory builds n records whose action doubles as an identity,
// numbered from first.
func makeTrajectory(t *testing.T, first, n int) (*timestep.Trajectory,
	[]float64, []float64) {
	t.Helper()

	traj := timestep.NewTrajectory(n, 1)
	targets := make([]float64, n)
	advantages := make([]float64, n)
	for i := 0; i < n; i++ {
		id := float64(first + i)
		err := traj.Append(timestep.TimeStep{
			State:     []float64{id},
			Action:    id,
			LogProb:   -1,
			Reward:    1,
			NextState: []float64{id + 1},
		})
		if err != nil {
			t.Fatal(err)
		}
		targets[i] = id
		advantages[i] = id
	}
	return traj, targets, advantages
}

// drainActions collects the action identities of one full epoch.
func drainActions(t *testing.T, b *Buffer, batchSize int) map[float64]int {
	t.Helper()

	epoch, err := b.DrawEpoch(batchSize)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[float64]int)
	for {
		batch, ok := epoch.Next()
		if !ok {
			break
		}
		for _, a := range batch.Actions {
			seen[a]++
		}
	}
	return seen
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	b, err := New(8, 1, 42)
	if err != nil {
		t.Fatal(err)
	}

	traj, targets, advantages := makeTrajectory(t, 0, 6)
	if err := b.Submit(traj, targets, advantages); err != nil {
		t.Fatal(err)
	}
	traj, targets, advantages = makeTrajectory(t, 6, 6)
	if err := b.Submit(traj, targets, advantages); err != nil {
		t.Fatal(err)
	}

	if b.Size() != 8 {
		t.Fatalf("size: want 8, have %v", b.Size())
	}

	// Records 0-3 were evicted; 4-11 remain, each exactly once.
	seen := drainActions(t, b, 3)
	for id := 4; id < 12; id++ {
		if seen[float64(id)] != 1 {
			t.Errorf("record %v drawn %v times, want once", id,
				seen[float64(id)])
		}
	}
	for id := 0; id < 4; id++ {
		if seen[float64(id)] != 0 {
			t.Errorf("evicted record %v still drawn", id)
		}
	}
}

func TestBufferOversizedSubmissionKeepsMostRecent(t *testing.T) {
	b, err := New(4, 1, 42)
	if err != nil {
		t.Fatal(err)
	}

	traj, targets, advantages := makeTrajectory(t, 0, 10)
	if err := b.Submit(traj, targets, advantages); err != nil {
		t.Fatal(err)
	}

	if b.Size() != 4 {
		t.Fatalf("size: want 4, have %v", b.Size())
	}
	seen := drainActions(t, b, 4)
	for id := 6; id < 10; id++ {
		if seen[float64(id)] != 1 {
			t.Errorf("record %v drawn %v times, want once", id,
				seen[float64(id)])
		}
	}
}

func TestBufferEmptySubmissionIsNoOp(t *testing.T) {
	b, err := New(4, 1, 42)
	if err != nil {
		t.Fatal(err)
	}

	traj := timestep.NewTrajectory(0, 1)
	if err := b.Submit(traj, nil, nil); err != nil {
		t.Fatal(err)
	}
	if b.Size() != 0 {
		t.Errorf("empty submission changed size to %v", b.Size())
	}
}

func TestEpochFinalBatchMayBeShort(t *testing.T) {
	b, err := New(8, 1, 42)
	if err != nil {
		t.Fatal(err)
	}
	traj, targets, advantages := makeTrajectory(t, 0, 8)
	if err := b.Submit(traj, targets, advantages); err != nil {
		t.Fatal(err)
	}

	epoch, err := b.DrawEpoch(3)
	if err != nil {
		t.Fatal(err)
	}

	var sizes []int
	for {
		batch, ok := epoch.Next()
		if !ok {
			break
		}
		sizes = append(sizes, batch.Size)
	}

	want := []int{3, 3, 2}
	if len(sizes) != len(want) {
		t.Fatalf("batch count: want %v, have %v", len(want), len(sizes))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %v size: want %v, have %v", i, want[i], sizes[i])
		}
	}
}

func TestBatchSlice(t *testing.T) {
	b, err := New(4, 2, 42)
	if err != nil {
		t.Fatal(err)
	}

	traj := timestep.NewTrajectory(4, 2)
	for i := 0; i < 4; i++ {
		err := traj.Append(timestep.TimeStep{
			State:     []float64{float64(i), float64(i)},
			Action:    float64(i),
			NextState: []float64{0, 0},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	err = b.Submit(traj, []float64{0, 1, 2, 3}, []float64{0, 1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}

	epoch, err := b.DrawEpoch(4)
	if err != nil {
		t.Fatal(err)
	}
	batch, ok := epoch.Next()
	if !ok {
		t.Fatal("expected one full batch")
	}

	sub := batch.Slice(1, 3, 2)
	if sub.Size != 2 {
		t.Fatalf("sub-batch size: want 2, have %v", sub.Size)
	}
	if len(sub.States) != 4 {
		t.Fatalf("sub-batch states: want length 4, have %v", len(sub.States))
	}
	if sub.Actions[0] != batch.Actions[1] || sub.Actions[1] != batch.Actions[2] {
		t.Error("sub-batch rows do not line up with the parent batch")
	}
}
