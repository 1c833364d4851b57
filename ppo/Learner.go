// Package ppo implements Proximal Policy Optimization - the clipped
// surrogate objective policy-gradient algorithm - over an experience
// buffer. This implementation is adapted from:
//
// https://arxiv.org/abs/1707.06347
package ppo

import (
	"fmt"
	"math"
	"time"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/rlgopher/pporl/experience"
	"github.com/rlgopher/pporl/network"
	"github.com/rlgopher/pporl/policy"
	"github.com/rlgopher/pporl/report"
	"github.com/rlgopher/pporl/solver"
)

// maxGradNorm is the ceiling on the global gradient norm of each
// network, applied independently to the policy and value function
// before every optimizer step.
const maxGradNorm = 0.5

// Config holds the hyperparameters of a PPO learner.
type Config struct {
	Epochs        int `json:"epochs"`
	BatchSize     int `json:"batchSize"`
	MiniBatchSize int `json:"miniBatchSize"` // 0 means BatchSize

	ClipRange   float64 `json:"clipRange"`
	EntropyCoef float64 `json:"entropyCoef"`

	PolicyStepSize float64 `json:"policyStepSize"`
	CriticStepSize float64 `json:"criticStepSize"`

	PolicyHiddenSizes []int `json:"policyHiddenSizes"`
	CriticHiddenSizes []int `json:"criticHiddenSizes"`
}

// Validate checks the configuration and fills defaulted fields in
// place.
func (c *Config) Validate() error {
	if c.Epochs < 1 {
		return fmt.Errorf("validate: epochs must be >= 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be >= 1")
	}
	if c.MiniBatchSize == 0 {
		c.MiniBatchSize = c.BatchSize
	}
	if c.BatchSize%c.MiniBatchSize != 0 {
		return fmt.Errorf("validate: mini-batch size (%v) must divide "+
			"batch size (%v)", c.MiniBatchSize, c.BatchSize)
	}
	if c.ClipRange <= 0 {
		return fmt.Errorf("validate: clip range must be > 0")
	}
	if len(c.PolicyHiddenSizes) == 0 || len(c.CriticHiddenSizes) == 0 {
		return fmt.Errorf("validate: policy and critic need at least one " +
			"hidden layer")
	}
	return nil
}

// Learner consumes an experience buffer for several epochs of shuffled
// minibatches, updating a discrete policy and a value estimator with
// the clipped PPO objective.
//
// One batch is processed as BatchSize/MiniBatchSize gradient-accumulated
// sub-batches followed by exactly one optimizer step per network, which
// lets a memory-limited device process a logical large batch in several
// physical pieces.
type Learner struct {
	config     Config
	obsSize    int
	numActions int

	// Training policy with its PPO loss graph
	trainPolicy *policy.Discrete
	policyVM    G.VM
	oldLogProbs *G.Node
	advantages  *G.Node

	// Training value function with its MSE loss graph
	trainValueFn network.NeuralNet
	valueVM      G.VM
	valueTargets *G.Node
	valueLossVal G.Value

	// Forward-only value function clone used for batched value
	// prediction when converting trajectories to experience. Kept in
	// sync with the training value function after every Learn call.
	predValueFn network.NeuralNet
	predVM      G.VM

	policySolver *solver.Adam
	valueSolver  *solver.Adam

	policyAccum *gradAccum
	valueAccum  *gradAccum

	cumulativeModelUpdates int
}

// New creates a PPO learner for obsSize-dimensional observations and
// numActions discrete actions.
func New(obsSize, numActions int, config Config, seed uint64) (*Learner,
	error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	mb := config.MiniBatchSize

	// Training policy and its loss graph
	pg := G.NewGraph()
	trainPolicy, err := policy.NewDiscrete(obsSize, numActions, mb, pg,
		config.PolicyHiddenSizes, G.GlorotU(1.0), seed)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	oldLogProbs := G.NewVector(
		pg,
		tensor.Float64,
		G.WithShape(mb),
		G.WithName("Old Log Probs"),
		G.WithInit(G.Zeroes()),
	)
	advantages := G.NewVector(
		pg,
		tensor.Float64,
		G.WithShape(mb),
		G.WithName("Advantages"),
		G.WithInit(G.Zeroes()),
	)

	logRatio := G.Must(G.Sub(trainPolicy.LogProbsNode(), oldLogProbs))
	ratio := G.Must(G.Exp(logRatio))
	clipped := clamp(ratio, 1-config.ClipRange, 1+config.ClipRange)

	surrogate := G.Must(G.HadamardProd(ratio, advantages))
	clippedSurrogate := G.Must(G.HadamardProd(clipped, advantages))

	policyLoss := G.Must(G.Neg(G.Must(G.Mean(
		elemMin(surrogate, clippedSurrogate)))))

	// Scale each sub-batch's contribution so that the gradients
	// accumulated across sub-batches approximate the full-batch
	// gradient.
	batchSizeRatio := float64(mb) / float64(config.BatchSize)
	loss := G.Must(G.Sub(policyLoss, G.Must(G.Mul(
		G.NewConstant(config.EntropyCoef), trainPolicy.EntropyNode()))))
	loss = G.Must(G.Mul(loss, G.NewConstant(batchSizeRatio)))

	if _, err := G.Grad(loss, trainPolicy.Network().Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not construct policy gradient: %v",
			err)
	}
	policyVM := G.NewTapeMachine(pg,
		G.BindDualValues(trainPolicy.Network().Learnables()...))

	// Training value function and its loss graph
	vg := G.NewGraph()
	biases := make([]bool, len(config.CriticHiddenSizes))
	activations := make([]*network.Activation, len(config.CriticHiddenSizes))
	for i := range config.CriticHiddenSizes {
		biases[i] = true
		activations[i] = network.ReLU()
	}
	trainValueFn, err := network.NewMLP(obsSize, mb, 1, vg,
		config.CriticHiddenSizes, biases, G.GlorotU(1.0), activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create value function: %v",
			err)
	}

	valueTargets := G.NewMatrix(
		vg,
		tensor.Float64,
		G.WithShape(mb, 1),
		G.WithName("Value Function Update Target"),
		G.WithInit(G.Zeroes()),
	)
	valueLoss := G.Must(G.Sub(trainValueFn.Prediction(), valueTargets))
	valueLoss = G.Must(G.Square(valueLoss))
	valueLoss = G.Must(G.Mean(valueLoss))

	l := &Learner{
		config:       config,
		obsSize:      obsSize,
		numActions:   numActions,
		trainPolicy:  trainPolicy,
		policyVM:     policyVM,
		oldLogProbs:  oldLogProbs,
		advantages:   advantages,
		trainValueFn: trainValueFn,
		valueTargets: valueTargets,
		policySolver: solver.NewDefaultAdam(config.PolicyStepSize,
			maxGradNorm),
		valueSolver: solver.NewDefaultAdam(config.CriticStepSize,
			maxGradNorm),
	}
	G.Read(valueLoss, &l.valueLossVal)

	if _, err := G.Grad(valueLoss, trainValueFn.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not construct value gradient: %v",
			err)
	}
	l.valueVM = G.NewTapeMachine(vg,
		G.BindDualValues(trainValueFn.Learnables()...))

	l.predValueFn, err = trainValueFn.CloneWithBatch(mb)
	if err != nil {
		return nil, fmt.Errorf("new: could not clone value function for "+
			"prediction: %v", err)
	}

	l.policyAccum = newGradAccum(trainPolicy.Network().Model())
	l.valueAccum = newGradAccum(trainValueFn.Model())

	return l, nil
}

// Policy returns the learner's training policy.
func (l *Learner) Policy() *policy.Discrete {
	return l.trainPolicy
}

// PolicyNet returns the training policy's network.
func (l *Learner) PolicyNet() network.NeuralNet {
	return l.trainPolicy.Network()
}

// ValueNet returns the training value function's network.
func (l *Learner) ValueNet() network.NeuralNet {
	return l.trainValueFn
}

// PolicySolver returns the policy's optimizer.
func (l *Learner) PolicySolver() *solver.Adam {
	return l.policySolver
}

// ValueSolver returns the value function's optimizer.
func (l *Learner) ValueSolver() *solver.Adam {
	return l.valueSolver
}

// CumulativeModelUpdates returns the number of optimizer steps taken
// over the learner's lifetime, including any restored from checkpoint.
func (l *Learner) CumulativeModelUpdates() int {
	return l.cumulativeModelUpdates
}

// SetCumulativeModelUpdates restores the optimizer step count from a
// checkpoint.
func (l *Learner) SetCumulativeModelUpdates(updates int) {
	l.cumulativeModelUpdates = updates
}

// UpdateStepSizes sets the policy and value function learning rates.
func (l *Learner) UpdateStepSizes(policyStepSize, criticStepSize float64) {
	l.policySolver.SetStepSize(policyStepSize)
	l.valueSolver.SetStepSize(criticStepSize)
}

// SyncPredictionValueFn refreshes the forward-only value function from
// the trained one.
func (l *Learner) SyncPredictionValueFn() error {
	return l.predValueFn.Set(l.trainValueFn)
}

// PredictValues runs the forward-only value function over n flattened
// observations and returns one value estimate per observation. The
// observations are processed in fixed-size chunks, padding the final
// chunk with zeros.
func (l *Learner) PredictValues(obs []float64, n int) ([]float64, error) {
	if len(obs) != n*l.obsSize {
		return nil, fmt.Errorf("predictvalues: illegal observation length "+
			"\n\twant(%v)\n\thave(%v)", n*l.obsSize, len(obs))
	}

	chunk := l.predValueFn.BatchSize()
	if l.predVM == nil {
		l.predVM = G.NewTapeMachine(l.predValueFn.Graph())
	}

	out := make([]float64, 0, n)
	for start := 0; start < n; start += chunk {
		stop := start + chunk
		if stop > n {
			stop = n
		}

		// The input tensor keeps its backing slice, so every chunk gets
		// a fresh one. The final chunk is zero-padded.
		input := make([]float64, chunk*l.obsSize)
		copy(input, obs[start*l.obsSize:stop*l.obsSize])
		if err := l.predValueFn.SetInput(input); err != nil {
			return nil, fmt.Errorf("predictvalues: %v", err)
		}
		if err := l.predVM.RunAll(); err != nil {
			return nil, fmt.Errorf("predictvalues: forward pass failed: %v",
				err)
		}
		l.predVM.Reset()

		preds := l.predValueFn.Output().Data().([]float64)
		out = append(out, preds[:stop-start]...)
	}
	return out, nil
}

// Learn runs the configured number of epochs over the experience
// buffer, taking one optimizer step per network per batch, and writes
// training diagnostics into the report.
//
// Any failure during a forward or backward pass is fatal to the whole
// training iteration: the error is returned without retrying and the
// caller is expected to abort the run.
func (l *Learner) Learn(buf *experience.Buffer, rep *report.Report) error {
	mb := l.config.MiniBatchSize

	numIterations := 0
	numMinibatchIterations := 0
	meanEntropy := 0.0
	meanDivergence := 0.0
	meanValueLoss := 0.0
	meanClipFraction := 0.0

	policyBefore := network.ParamVector(l.trainPolicy.Network())
	criticBefore := network.ParamVector(l.trainValueFn)

	start := time.Now()
	for epoch := 0; epoch < l.config.Epochs; epoch++ {
		// Randomly-ordered timesteps for this pass
		epochIter, err := buf.DrawEpoch(l.config.BatchSize)
		if err != nil {
			return fmt.Errorf("learn: %v", err)
		}

		for {
			batch, ok := epochIter.Next()
			if !ok {
				break
			}
			// The loss graphs have a fixed mini-batch shape, so a
			// short final batch cannot be consumed.
			if batch.Size < mb {
				continue
			}

			l.policyAccum.reset()
			l.valueAccum.reset()

			for mbs := 0; mbs+mb <= batch.Size; mbs += mb {
				sub := batch.Slice(mbs, mbs+mb, l.obsSize)

				entropy, logProbs, valueLoss, err := l.subBatchGradients(sub)
				if err != nil {
					return fmt.Errorf("learn: %v", err)
				}

				// KL estimate and clip fraction, following the
				// stable-baselines3 formulation
				kl := 0.0
				clipped := 0
				for i, lp := range logProbs {
					logRatio := lp - sub.LogProbs[i]
					ratio := math.Exp(logRatio)
					kl += ratio - 1 - logRatio
					if math.Abs(ratio-1) > l.config.ClipRange {
						clipped++
					}
				}

				meanEntropy += entropy
				meanDivergence += kl / float64(len(logProbs))
				meanValueLoss += valueLoss
				meanClipFraction += float64(clipped) / float64(len(logProbs))
				numMinibatchIterations++
			}

			// One optimizer step per network for the accumulated
			// gradients; the solvers clip the gradient norm at 0.5.
			if err := l.policyAccum.bind(l.trainPolicy.Network().Model()); err != nil {
				return fmt.Errorf("learn: %v", err)
			}
			if err := l.valueAccum.bind(l.trainValueFn.Model()); err != nil {
				return fmt.Errorf("learn: %v", err)
			}
			if err := l.policySolver.Step(l.trainPolicy.Network().Model()); err != nil {
				return fmt.Errorf("learn: policy step failed: %v", err)
			}
			if err := l.valueSolver.Step(l.trainValueFn.Model()); err != nil {
				return fmt.Errorf("learn: value step failed: %v", err)
			}
			numIterations++
		}
	}
	learnTime := time.Since(start).Seconds()

	if numIterations < 1 {
		numIterations = 1
	}
	if numMinibatchIterations < 1 {
		numMinibatchIterations = 1
	}

	meanEntropy /= float64(numMinibatchIterations)
	meanDivergence /= float64(numMinibatchIterations)
	meanValueLoss /= float64(numMinibatchIterations)
	meanClipFraction /= float64(numMinibatchIterations)

	if err := l.SyncPredictionValueFn(); err != nil {
		return fmt.Errorf("learn: could not refresh prediction value "+
			"function: %v", err)
	}

	policyAfter := network.ParamVector(l.trainPolicy.Network())
	criticAfter := network.ParamVector(l.trainValueFn)

	l.cumulativeModelUpdates += numIterations

	rep.Set("Policy Entropy", meanEntropy)
	rep.Set("Mean KL Divergence", meanDivergence)
	rep.Set("Value Function Loss", meanValueLoss)
	rep.Set("SB3 Clip Fraction", meanClipFraction)
	rep.Set("Policy Update Magnitude",
		network.UpdateMagnitude(policyBefore, policyAfter))
	rep.Set("Value Function Update Magnitude",
		network.UpdateMagnitude(criticBefore, criticAfter))
	rep.Set("PPO Learn Time", learnTime)
	rep.Set("PPO Batch Consumption Time", learnTime/float64(numIterations))
	rep.Set("Cumulative Model Updates", float64(l.cumulativeModelUpdates))

	return nil
}

// NumOptimizerSteps returns the number of optimizer steps one Learn
// call takes for a buffer of the given size.
func (l *Learner) NumOptimizerSteps(bufferSize int) int {
	return l.config.Epochs * (bufferSize / l.config.BatchSize)
}

// subBatchGradients runs the forward and backward passes of both
// networks on one sub-batch and accumulates their gradients. It
// returns the sub-batch entropy, the new action log-probabilities and
// the value loss.
func (l *Learner) subBatchGradients(sub experience.Batch) (float64,
	[]float64, float64, error) {
	mb := l.config.MiniBatchSize

	// Value function forward/backward
	states := make([]float64, len(sub.States))
	copy(states, sub.States)
	if err := l.trainValueFn.SetInput(states); err != nil {
		return 0, nil, 0, err
	}
	targets := make([]float64, mb)
	copy(targets, sub.ValueTargets)
	targetsTensor := tensor.NewDense(
		tensor.Float64,
		[]int{mb, 1},
		tensor.WithBacking(targets),
	)
	if err := G.Let(l.valueTargets, targetsTensor); err != nil {
		return 0, nil, 0, err
	}
	if err := l.valueVM.RunAll(); err != nil {
		return 0, nil, 0, fmt.Errorf("value function backward pass "+
			"failed: %v", err)
	}
	l.valueVM.Reset()
	valueLoss := l.valueLossVal.Data().(float64)
	if err := l.valueAccum.add(l.trainValueFn.Model()); err != nil {
		return 0, nil, 0, err
	}

	// Policy forward/backward
	states = make([]float64, len(sub.States))
	copy(states, sub.States)
	if err := l.trainPolicy.Network().SetInput(states); err != nil {
		return 0, nil, 0, err
	}
	if err := l.trainPolicy.SetActions(sub.Actions); err != nil {
		return 0, nil, 0, err
	}

	oldLogProbs := make([]float64, mb)
	copy(oldLogProbs, sub.LogProbs)
	if err := G.Let(l.oldLogProbs, tensor.New(tensor.WithShape(mb),
		tensor.WithBacking(oldLogProbs))); err != nil {
		return 0, nil, 0, err
	}
	advantages := make([]float64, mb)
	copy(advantages, sub.Advantages)
	if err := G.Let(l.advantages, tensor.New(tensor.WithShape(mb),
		tensor.WithBacking(advantages))); err != nil {
		return 0, nil, 0, err
	}

	if err := l.policyVM.RunAll(); err != nil {
		return 0, nil, 0, fmt.Errorf("policy backward pass failed: %v", err)
	}
	l.policyVM.Reset()
	entropy := l.trainPolicy.EntropyVal()
	logProbs := make([]float64, mb)
	copy(logProbs, l.trainPolicy.LogProbsVal())
	if err := l.policyAccum.add(l.trainPolicy.Network().Model()); err != nil {
		return 0, nil, 0, err
	}

	return entropy, logProbs, valueLoss, nil
}

// elemMin builds the elementwise minimum of two equally-shaped nodes,
// min(a, b) = (a + b - |a - b|) / 2.
func elemMin(a, b *G.Node) *G.Node {
	sum := G.Must(G.Add(a, b))
	diff := G.Must(G.Abs(G.Must(G.Sub(a, b))))
	return G.Must(G.Mul(G.NewConstant(0.5), G.Must(G.Sub(sum, diff))))
}

// elemMaxConst builds the elementwise maximum of a node and a scalar,
// max(x, c) = (x + c + |x - c|) / 2.
func elemMaxConst(x *G.Node, c float64) *G.Node {
	shifted := G.Must(G.Add(x, G.NewConstant(c)))
	diff := G.Must(G.Abs(G.Must(G.Sub(x, G.NewConstant(c)))))
	return G.Must(G.Mul(G.NewConstant(0.5), G.Must(G.Add(shifted, diff))))
}

// elemMinConst builds the elementwise minimum of a node and a scalar.
func elemMinConst(x *G.Node, c float64) *G.Node {
	shifted := G.Must(G.Add(x, G.NewConstant(c)))
	diff := G.Must(G.Abs(G.Must(G.Sub(x, G.NewConstant(c)))))
	return G.Must(G.Mul(G.NewConstant(0.5), G.Must(G.Sub(shifted, diff))))
}

// clamp bounds a node's elements to [lo, hi].
func clamp(x *G.Node, lo, hi float64) *G.Node {
	return elemMinConst(elemMaxConst(x, lo), hi)
}
