package ppo

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// gradAccum sums gradients across the sub-batches of one logical batch
// so that a single optimizer step can consume them.
type gradAccum struct {
	sums [][]float64
}

// newGradAccum creates an accumulator sized for the model's learnables.
func newGradAccum(model []G.ValueGrad) *gradAccum {
	sums := make([][]float64, len(model))
	for i, vg := range model {
		sums[i] = make([]float64, len(vg.Value().Data().([]float64)))
	}
	return &gradAccum{sums: sums}
}

// add reads the model's currently bound gradients into the running
// sums and zeroes the bound gradients in place.
func (ga *gradAccum) add(model []G.ValueGrad) error {
	if len(model) != len(ga.sums) {
		return fmt.Errorf("add: accumulator tracks %v learnables but model "+
			"has %v", len(ga.sums), len(model))
	}

	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("add: no gradient bound to learnable %v: %v",
				i, err)
		}
		data := grad.Data().([]float64)
		if len(data) != len(ga.sums[i]) {
			return fmt.Errorf("add: learnable %v gradient size \n\twant(%v)"+
				"\n\thave(%v)", i, len(ga.sums[i]), len(data))
		}
		for j, g := range data {
			ga.sums[i][j] += g
			data[j] = 0
		}
	}
	return nil
}

// bind writes the accumulated sums back into the model's gradients so
// the solver sees one combined gradient.
func (ga *gradAccum) bind(model []G.ValueGrad) error {
	if len(model) != len(ga.sums) {
		return fmt.Errorf("bind: accumulator tracks %v learnables but model "+
			"has %v", len(ga.sums), len(model))
	}

	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("bind: no gradient bound to learnable %v: %v",
				i, err)
		}
		copy(grad.Data().([]float64), ga.sums[i])
	}
	return nil
}

// reset zeroes the accumulated sums.
func (ga *gradAccum) reset() {
	for i := range ga.sums {
		for j := range ga.sums[i] {
			ga.sums[i][j] = 0
		}
	}
}
