// Package environment describes the contract between a game
// environment and the agents collecting experience in it
package environment

// StepResult is the outcome of taking one action in an environment.
//
// Done marks a terminal state of the environment itself. Truncated
// marks an episode cut off by an external limit such as a step cap;
// a truncated episode's final state is not terminal, so bootstrapped
// value estimates remain valid across it.
type StepResult struct {
	Obs       []float64
	Reward    float64
	Done      bool
	Truncated bool
}

// Environment is a single-agent episodic environment with a fixed-size
// observation vector and a discrete action set.
//
// Implementations need not be safe for concurrent use. Each collection
// worker owns its environment instances outright.
type Environment interface {
	// Reset starts a new episode and returns its first observation.
	Reset() ([]float64, error)

	// Step takes one action, indexed in [0, ActionAmount()).
	Step(action float64) (*StepResult, error)

	// ObsSize returns the length of observation vectors.
	ObsSize() int

	// ActionAmount returns the number of discrete actions.
	ActionAmount() int
}
