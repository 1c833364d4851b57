// Package solver implements gradient-based optimizers that step the
// learnable parameters of a computational graph
package solver

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// Adam implements the Adam optimizer with optional clipping of the
// global gradient norm before the update is applied.
//
// Gradients read during Step are zeroed afterwards, so accumulated
// gradients from several sub-batches result in exactly one parameter
// update.
type Adam struct {
	stepSize    float64
	epsilon     float64
	beta1       float64
	beta2       float64
	maxGradNorm float64 // <= 0 disables clipping

	steps int
	m     [][]float64 // first moment per learnable
	v     [][]float64 // second moment per learnable
}

// NewAdam returns a new Adam solver. maxGradNorm is the ceiling for
// the global gradient norm; pass 0 to disable clipping.
func NewAdam(stepSize, epsilon, beta1, beta2, maxGradNorm float64) *Adam {
	return &Adam{
		stepSize:    stepSize,
		epsilon:     epsilon,
		beta1:       beta1,
		beta2:       beta2,
		maxGradNorm: maxGradNorm,
	}
}

// NewDefaultAdam returns an Adam solver with default smoothing
// hyperparameters.
func NewDefaultAdam(stepSize, maxGradNorm float64) *Adam {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999, maxGradNorm)
}

// StepSize returns the solver's current learning rate.
func (a *Adam) StepSize() float64 { return a.stepSize }

// SetStepSize updates the solver's learning rate in place.
func (a *Adam) SetStepSize(stepSize float64) { a.stepSize = stepSize }

// Step applies one Adam update to the model's parameters from their
// currently bound gradients, then zeroes the gradients.
func (a *Adam) Step(model []G.ValueGrad) error {
	grads := make([][]float64, len(model))
	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("step: no gradient bound to learnable %v: %v",
				i, err)
		}
		grads[i] = grad.Data().([]float64)
	}

	if a.m == nil {
		a.m = make([][]float64, len(model))
		a.v = make([][]float64, len(model))
		for i := range grads {
			a.m[i] = make([]float64, len(grads[i]))
			a.v[i] = make([]float64, len(grads[i]))
		}
	}
	if len(a.m) != len(model) {
		return fmt.Errorf("step: solver state tracks %v learnables but "+
			"model has %v", len(a.m), len(model))
	}

	// Global norm over all parameters of the model
	scale := 1.0
	if a.maxGradNorm > 0 {
		total := 0.0
		for _, grad := range grads {
			norm := floats.Norm(grad, 2)
			total += norm * norm
		}
		norm := math.Sqrt(total)
		if norm > a.maxGradNorm {
			scale = a.maxGradNorm / (norm + 1e-6)
		}
	}

	a.steps++
	correction1 := 1 - math.Pow(a.beta1, float64(a.steps))
	correction2 := 1 - math.Pow(a.beta2, float64(a.steps))

	for i, vg := range model {
		weights := vg.Value().Data().([]float64)
		if len(weights) != len(a.m[i]) {
			return fmt.Errorf("step: learnable %v has %v parameters but "+
				"solver state has %v", i, len(weights), len(a.m[i]))
		}

		for j := range grads[i] {
			g := grads[i][j] * scale
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g*g

			mHat := a.m[i][j] / correction1
			vHat := a.v[i][j] / correction2
			weights[j] -= a.stepSize * mHat / (math.Sqrt(vHat) + a.epsilon)

			grads[i][j] = 0
		}
	}

	return nil
}

// adamState is the serialized form of an Adam solver.
type adamState struct {
	StepSize    float64
	Epsilon     float64
	Beta1       float64
	Beta2       float64
	MaxGradNorm float64
	Steps       int
	M           [][]float64
	V           [][]float64
}

// GobEncode implements the gob.GobEncoder interface
func (a *Adam) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	err := enc.Encode(adamState{
		StepSize:    a.stepSize,
		Epsilon:     a.epsilon,
		Beta1:       a.beta1,
		Beta2:       a.beta2,
		MaxGradNorm: a.maxGradNorm,
		Steps:       a.steps,
		M:           a.m,
		V:           a.v,
	})
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode solver state: %v",
			err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (a *Adam) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var state adamState
	if err := dec.Decode(&state); err != nil {
		return fmt.Errorf("gobdecode: could not decode solver state: %v", err)
	}

	a.stepSize = state.StepSize
	a.epsilon = state.Epsilon
	a.beta1 = state.Beta1
	a.beta2 = state.Beta2
	a.maxGradNorm = state.MaxGradNorm
	a.steps = state.Steps
	a.m = state.M
	a.v = state.V
	return nil
}
