// Package timestep implements timesteps of the agent-environment
// interaction and trajectories of such timesteps
package timestep

import "fmt"

// TimeStep packages together a single transition in an environment.
// A TimeStep is immutable once recorded.
type TimeStep struct {
	State     []float64
	Action    float64
	LogProb   float64
	Reward    float64
	NextState []float64
	Done      bool
	Truncated bool
}

func (t TimeStep) String() string {
	str := "TimeStep | Action: %v  |  Reward: %.2f  |  Done: %v  |  " +
		"Truncated: %v"

	return fmt.Sprintf(str, t.Action, t.Reward, t.Done, t.Truncated)
}

// Trajectory is an ordered sequence of timesteps collected during one
// iteration. Timesteps are stored column-wise in flat backing slices so
// that whole columns can be handed to the value function and the
// advantage estimator without copying.
type Trajectory struct {
	obsSize int

	States     []float64 // flattened, one row per timestep
	Actions    []float64
	LogProbs   []float64
	Rewards    []float64
	NextStates []float64 // flattened, one row per timestep
	Dones      []float64 // 1 if the episode terminated naturally at t
	Truncateds []float64 // 1 if the episode was cut artificially at t
}

// NewTrajectory returns an empty Trajectory with capacity for size
// timesteps of obsSize-dimensional observations.
func NewTrajectory(size, obsSize int) *Trajectory {
	return &Trajectory{
		obsSize:    obsSize,
		States:     make([]float64, 0, size*obsSize),
		Actions:    make([]float64, 0, size),
		LogProbs:   make([]float64, 0, size),
		Rewards:    make([]float64, 0, size),
		NextStates: make([]float64, 0, size*obsSize),
		Dones:      make([]float64, 0, size),
		Truncateds: make([]float64, 0, size),
	}
}

// ObsSize returns the observation dimensionality of stored timesteps.
func (tr *Trajectory) ObsSize() int {
	return tr.obsSize
}

// Size returns the number of timesteps recorded so far.
func (tr *Trajectory) Size() int {
	return len(tr.Rewards)
}

// Append records a single timestep at the end of the trajectory.
func (tr *Trajectory) Append(t TimeStep) error {
	if len(t.State) != tr.obsSize || len(t.NextState) != tr.obsSize {
		return fmt.Errorf("append: illegal observation length "+
			"\n\twant(%v)\n\thave(%v, %v)", tr.obsSize, len(t.State),
			len(t.NextState))
	}

	tr.States = append(tr.States, t.State...)
	tr.Actions = append(tr.Actions, t.Action)
	tr.LogProbs = append(tr.LogProbs, t.LogProb)
	tr.Rewards = append(tr.Rewards, t.Reward)
	tr.NextStates = append(tr.NextStates, t.NextState...)
	tr.Dones = append(tr.Dones, boolToFloat(t.Done))
	tr.Truncateds = append(tr.Truncateds, boolToFloat(t.Truncated))
	return nil
}

// AppendTrajectory appends all timesteps of other, preserving their
// order. The timesteps of other stay contiguous in the receiver, which
// keeps per-environment sequences intact when trajectories from many
// environment instances are concatenated.
func (tr *Trajectory) AppendTrajectory(other *Trajectory) error {
	if other.obsSize != tr.obsSize {
		return fmt.Errorf("appendtrajectory: observation size mismatch "+
			"\n\twant(%v)\n\thave(%v)", tr.obsSize, other.obsSize)
	}

	tr.States = append(tr.States, other.States...)
	tr.Actions = append(tr.Actions, other.Actions...)
	tr.LogProbs = append(tr.LogProbs, other.LogProbs...)
	tr.Rewards = append(tr.Rewards, other.Rewards...)
	tr.NextStates = append(tr.NextStates, other.NextStates...)
	tr.Dones = append(tr.Dones, other.Dones...)
	tr.Truncateds = append(tr.Truncateds, other.Truncateds...)
	return nil
}

// MarkLastTruncated flags the most recent timestep as truncated if the
// episode did not terminate naturally there. The advantage estimator
// needs to know where the recorded state sequence stops being
// continuous.
func (tr *Trajectory) MarkLastTruncated() {
	n := tr.Size()
	if n == 0 {
		return
	}
	if tr.Dones[n-1] == 0 {
		tr.Truncateds[n-1] = 1
	}
}

// Clear removes all recorded timesteps but keeps backing capacity.
func (tr *Trajectory) Clear() {
	tr.States = tr.States[:0]
	tr.Actions = tr.Actions[:0]
	tr.LogProbs = tr.LogProbs[:0]
	tr.Rewards = tr.Rewards[:0]
	tr.NextStates = tr.NextStates[:0]
	tr.Dones = tr.Dones[:0]
	tr.Truncateds = tr.Truncateds[:0]
}

// LastNextState returns the next-state observation of the final
// recorded timestep.
func (tr *Trajectory) LastNextState() []float64 {
	n := tr.Size()
	if n == 0 {
		return nil
	}
	return tr.NextStates[(n-1)*tr.obsSize : n*tr.obsSize]
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
