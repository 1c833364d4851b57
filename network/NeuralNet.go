// Package network implements the feedforward neural networks that back
// the policy and the value estimator
package network

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a trainable function approximator whose forward pass
// lives on a gorgonia computational graph.
type NeuralNet interface {
	Graph() *G.ExprGraph

	// CloneWithBatch clones the network onto a fresh graph with a new
	// input batch size, sharing no state with the receiver.
	CloneWithBatch(int) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the input node before a forward pass.
	SetInput([]float64) error

	// Set copies the weights of another network into the receiver.
	Set(NeuralNet) error

	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() G.Value
	Prediction() *G.Node
}

// ParamCount returns the total number of scalar parameters of a
// network.
func ParamCount(n NeuralNet) int {
	count := 0
	for _, learnable := range n.Learnables() {
		count += len(learnable.Value().Data().([]float64))
	}
	return count
}

// ParamVector copies every parameter of a network into one flat
// vector, in learnable order.
func ParamVector(n NeuralNet) []float64 {
	out := make([]float64, 0, ParamCount(n))
	for _, learnable := range n.Learnables() {
		out = append(out, learnable.Value().Data().([]float64)...)
	}
	return out
}

// SetParamVector overwrites every parameter of a network from a flat
// vector previously produced by ParamVector. The vector length must
// match the network exactly.
func SetParamVector(n NeuralNet, params []float64) error {
	if len(params) != ParamCount(n) {
		return fmt.Errorf("setparamvector: parameter size mismatch "+
			"\n\twant(%v)\n\thave(%v)", ParamCount(n), len(params))
	}

	offset := 0
	for _, learnable := range n.Learnables() {
		data := learnable.Value().Data().([]float64)
		copy(data, params[offset:offset+len(data)])
		offset += len(data)
	}
	return nil
}

// UpdateMagnitude returns the Euclidean norm of the difference between
// two parameter vectors of equal length.
func UpdateMagnitude(before, after []float64) float64 {
	diff := make([]float64, len(before))
	floats.SubTo(diff, before, after)
	return floats.Norm(diff, 2)
}
