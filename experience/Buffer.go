// Package experience implements the bounded buffer of training tuples
// consumed by the PPO learner
package experience

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/rlgopher/pporl/timestep"
)

// Batch is one shuffled minibatch drawn from the buffer. Fields are
// flat, row-major copies of the stored records.
type Batch struct {
	States       []float64
	Actions      []float64
	LogProbs     []float64
	ValueTargets []float64
	Advantages   []float64
	Size         int
}

// Buffer stores up to a fixed capacity of per-timestep training tuples
// with ring semantics: when a submission would exceed capacity, the
// oldest records are evicted first.
//
// The buffer is owned by the learning goroutine for its whole lifetime.
// Submissions and epoch draws are not safe for concurrent use; the
// collection side never touches the buffer directly.
type Buffer struct {
	obsSize     int
	maxCapacity int

	// Ring storage. head is the index of the oldest record.
	states       []float64
	actions      []float64
	logProbs     []float64
	valueTargets []float64
	advantages   []float64
	head         int
	size         int

	rng *rand.Rand
}

// New creates an empty Buffer holding at most capacity records of
// obsSize-dimensional observations. The seed fixes the minibatch
// shuffling order.
func New(capacity, obsSize int, seed uint64) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("new: capacity must be >= 1")
	}
	if obsSize < 1 {
		return nil, fmt.Errorf("new: obsSize must be >= 1")
	}

	return &Buffer{
		obsSize:      obsSize,
		maxCapacity:  capacity,
		states:       make([]float64, capacity*obsSize),
		actions:      make([]float64, capacity),
		logProbs:     make([]float64, capacity),
		valueTargets: make([]float64, capacity),
		advantages:   make([]float64, capacity),
		rng:          rand.New(rand.NewSource(seed)),
	}, nil
}

// Size returns the number of records currently stored.
func (b *Buffer) Size() int { return b.size }

// MaxCapacity returns the maximum number of records the buffer holds.
func (b *Buffer) MaxCapacity() int { return b.maxCapacity }

// Submit appends the timesteps of a trajectory together with their
// computed value targets and advantages. Submitting zero records is a
// no-op. If the resulting size would exceed capacity, the oldest
// records are evicted until the buffer is exactly full.
func (b *Buffer) Submit(traj *timestep.Trajectory, valueTargets,
	advantages []float64) error {
	n := traj.Size()
	if n == 0 {
		return nil
	}
	if traj.ObsSize() != b.obsSize {
		return fmt.Errorf("submit: illegal observation size "+
			"\n\twant(%v)\n\thave(%v)", b.obsSize, traj.ObsSize())
	}
	if len(valueTargets) != n || len(advantages) != n {
		return fmt.Errorf("submit: %v timesteps but %v value targets and "+
			"%v advantages", n, len(valueTargets), len(advantages))
	}

	// If the submission alone exceeds capacity, only its most recent
	// records can survive.
	start := 0
	if n > b.maxCapacity {
		start = n - b.maxCapacity
	}

	for i := start; i < n; i++ {
		pos := (b.head + b.size) % b.maxCapacity
		copy(b.states[pos*b.obsSize:(pos+1)*b.obsSize],
			traj.States[i*b.obsSize:(i+1)*b.obsSize])
		b.actions[pos] = traj.Actions[i]
		b.logProbs[pos] = traj.LogProbs[i]
		b.valueTargets[pos] = valueTargets[i]
		b.advantages[pos] = advantages[i]

		if b.size < b.maxCapacity {
			b.size++
		} else {
			// Overwrote the oldest record.
			b.head = (b.head + 1) % b.maxCapacity
		}
	}
	return nil
}

// Epoch iterates over every stored record exactly once in a uniformly
// random order, yielding minibatches of the requested size. The final
// batch may be short when the batch size does not divide the buffer
// size.
type Epoch struct {
	buffer    *Buffer
	perm      []int
	batchSize int
	next      int
}

// DrawEpoch returns an Epoch over the current buffer contents. Each
// call reshuffles independently; no permutation state is shared between
// calls. Drawing from an empty buffer yields an empty sequence.
func (b *Buffer) DrawEpoch(batchSize int) (*Epoch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("drawepoch: batch size must be >= 1")
	}

	perm := b.rng.Perm(b.size)
	return &Epoch{
		buffer:    b,
		perm:      perm,
		batchSize: batchSize,
	}, nil
}

// Next returns the next minibatch of the epoch, or false when the
// epoch's records are exhausted.
func (e *Epoch) Next() (Batch, bool) {
	if e.next >= len(e.perm) {
		return Batch{}, false
	}

	stop := e.next + e.batchSize
	if stop > len(e.perm) {
		stop = len(e.perm)
	}
	indices := e.perm[e.next:stop]
	e.next = stop

	b := e.buffer
	batch := Batch{
		States:       make([]float64, len(indices)*b.obsSize),
		Actions:      make([]float64, len(indices)),
		LogProbs:     make([]float64, len(indices)),
		ValueTargets: make([]float64, len(indices)),
		Advantages:   make([]float64, len(indices)),
		Size:         len(indices),
	}
	for i, idx := range indices {
		pos := (b.head + idx) % b.maxCapacity
		copy(batch.States[i*b.obsSize:(i+1)*b.obsSize],
			b.states[pos*b.obsSize:(pos+1)*b.obsSize])
		batch.Actions[i] = b.actions[pos]
		batch.LogProbs[i] = b.logProbs[pos]
		batch.ValueTargets[i] = b.valueTargets[pos]
		batch.Advantages[i] = b.advantages[pos]
	}
	return batch, true
}

// Slice returns the sub-batch covering rows [start, stop) of the batch.
// The returned batch shares backing storage with the receiver.
func (b Batch) Slice(start, stop, obsSize int) Batch {
	return Batch{
		States:       b.States[start*obsSize : stop*obsSize],
		Actions:      b.Actions[start:stop],
		LogProbs:     b.LogProbs[start:stop],
		ValueTargets: b.ValueTargets[start:stop],
		Advantages:   b.Advantages[start:stop],
		Size:         stop - start,
	}
}
