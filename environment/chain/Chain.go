// Package chain implements a deterministic line world used to exercise
// the training stack end to end
package chain

import (
	"fmt"

	"github.com/rlgopher/pporl/environment"
)

// Default environment parameters
const (
	DefaultLength    = 10
	DefaultStepLimit = 50
)

// Available actions
const (
	MoveLeft float64 = iota
	MoveRight
)

// Chain is a line of cells indexed 0 through length-1. An episode
// starts in cell 0 and ends in the goal cell length-1 with a reward of
// +1. Every other step rewards -0.01, so shorter paths score higher.
// Episodes still running after stepLimit steps are truncated.
//
// The observation is a pair (position/length, steps/stepLimit), both
// in [0, 1].
type Chain struct {
	length    int
	stepLimit int

	position int
	steps    int
}

// New returns a chain of the given length with the given episode step
// limit.
func New(length, stepLimit int) (*Chain, error) {
	if length < 2 {
		return nil, fmt.Errorf("new: chain needs at least 2 cells, have %v",
			length)
	}
	if stepLimit < 1 {
		return nil, fmt.Errorf("new: step limit must be positive, have %v",
			stepLimit)
	}
	return &Chain{length: length, stepLimit: stepLimit}, nil
}

// NewDefault returns a chain with the default length and step limit.
func NewDefault() *Chain {
	c, err := New(DefaultLength, DefaultStepLimit)
	if err != nil {
		panic(err)
	}
	return c
}

// Reset starts a new episode in cell 0.
func (c *Chain) Reset() ([]float64, error) {
	c.position = 0
	c.steps = 0
	return c.obs(), nil
}

// Step moves the agent one cell left or right.
func (c *Chain) Step(action float64) (*environment.StepResult, error) {
	switch action {
	case MoveLeft:
		if c.position > 0 {
			c.position--
		}
	case MoveRight:
		c.position++
	default:
		return nil, fmt.Errorf("step: illegal action %v", action)
	}
	c.steps++

	res := &environment.StepResult{Obs: c.obs(), Reward: -0.01}
	if c.position == c.length-1 {
		res.Reward = 1
		res.Done = true
	} else if c.steps >= c.stepLimit {
		res.Truncated = true
	}
	return res, nil
}

// ObsSize returns the length of observation vectors.
func (c *Chain) ObsSize() int {
	return 2
}

// ActionAmount returns the number of discrete actions.
func (c *Chain) ActionAmount() int {
	return 2
}

func (c *Chain) obs() []float64 {
	return []float64{
		float64(c.position) / float64(c.length),
		float64(c.steps) / float64(c.stepLimit),
	}
}
