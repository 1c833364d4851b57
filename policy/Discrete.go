// Package policy implements the discrete stochastic policy that maps
// observations to action distributions
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/rlgopher/pporl/network"
	"github.com/rlgopher/pporl/utils/floatutils"
)

// minActionProb prevents any action from becoming impossible, and also
// log(0).
const minActionProb = 1e-11

// Discrete is a categorical MLP policy. The network predicts one logit
// per action; sampling happens on the softmax of those logits.
//
// A Discrete built for collection runs forward passes only. A Discrete
// built for training additionally exposes graph nodes for the
// log-probability of recorded actions and the distribution entropy,
// which the PPO learner composes into its loss.
type Discrete struct {
	net network.NeuralNet
	vm  G.VM // lazily created, forward passes only

	logProbsAll *G.Node // batch x actions, log softmax of logits

	actionMask  *G.Node // one-hot selector for recorded actions
	logProbs    *G.Node // per-row log prob of recorded actions
	logProbsVal G.Value
	entropy     *G.Node // scalar mean entropy over the batch
	entropyVal  G.Value

	numActions int
	batchSize  int

	rng *rand.Rand
}

// NewDiscrete creates a categorical policy over numActions actions,
// placed on the graph g with a fixed input batch size.
func NewDiscrete(features, numActions, batchSize int, g *G.ExprGraph,
	hiddenSizes []int, init G.InitWFn, seed uint64) (*Discrete, error) {
	if numActions < 2 {
		return nil, fmt.Errorf("newdiscrete: need at least 2 actions, "+
			"have %v", numActions)
	}

	biases := make([]bool, len(hiddenSizes))
	activations := make([]*network.Activation, len(hiddenSizes))
	for i := range hiddenSizes {
		biases[i] = true
		activations[i] = network.ReLU()
	}

	net, err := network.NewMLP(features, batchSize, numActions, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newdiscrete: could not create policy "+
			"network: %v", err)
	}

	logits := net.Prediction()

	// Log softmax through the log-sum-exp trick
	logProbsAll := G.Must(G.BroadcastSub(logits, LogSumExp(logits, 1), nil,
		[]byte{1}))

	// Log probability of actions selected with SetActions
	actionMask := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, numActions),
		G.WithInit(G.Zeroes()),
		G.WithName("Action Mask"),
	)
	logProbs := G.Must(G.Sum(G.Must(G.HadamardProd(actionMask, logProbsAll)),
		1))

	// Mean entropy of the batch's action distributions
	probs := G.Must(G.Exp(logProbsAll))
	rowEntropy := G.Must(G.Neg(G.Must(G.Sum(
		G.Must(G.HadamardProd(probs, logProbsAll)), 1))))
	entropy := G.Must(G.Mean(rowEntropy))

	pol := &Discrete{
		net:         net,
		logProbsAll: logProbsAll,
		actionMask:  actionMask,
		logProbs:    logProbs,
		entropy:     entropy,
		numActions:  numActions,
		batchSize:   batchSize,
		rng:         rand.New(rand.NewSource(seed)),
	}
	G.Read(pol.logProbs, &pol.logProbsVal)
	G.Read(pol.entropy, &pol.entropyVal)

	return pol, nil
}

// LogSumExp computes log(Σ exp(logits)) along an axis using the
// max-shift trick for numerical stability.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// Network returns the policy's underlying neural network.
func (d *Discrete) Network() network.NeuralNet {
	return d.net
}

// NumActions returns the number of discrete actions.
func (d *Discrete) NumActions() int {
	return d.numActions
}

// BatchSize returns the fixed input batch size of the policy.
func (d *Discrete) BatchSize() int {
	return d.batchSize
}

// LogProbsNode returns the graph node holding the log-probability of
// the actions selected with SetActions, one per batch row.
func (d *Discrete) LogProbsNode() *G.Node {
	return d.logProbs
}

// EntropyNode returns the graph node holding the scalar mean entropy.
func (d *Discrete) EntropyNode() *G.Node {
	return d.entropy
}

// LogProbsVal returns the log-probabilities computed by the last run.
func (d *Discrete) LogProbsVal() []float64 {
	return d.logProbsVal.Data().([]float64)
}

// EntropyVal returns the mean entropy computed by the last run.
func (d *Discrete) EntropyVal() float64 {
	return d.entropyVal.Data().(float64)
}

// SetActions binds the recorded actions whose log-probability the
// training pass should compute.
func (d *Discrete) SetActions(actions []float64) error {
	if len(actions) != d.batchSize {
		return fmt.Errorf("setactions: illegal action count \n\twant(%v)"+
			"\n\thave(%v)", d.batchSize, len(actions))
	}

	mask := make([]float64, d.batchSize*d.numActions)
	for i, a := range actions {
		idx := int(a)
		if idx < 0 || idx >= d.numActions {
			return fmt.Errorf("setactions: action %v out of range [0, %v)",
				idx, d.numActions)
		}
		mask[i*d.numActions+idx] = 1
	}
	maskTensor := tensor.NewDense(
		tensor.Float64,
		[]int{d.batchSize, d.numActions},
		tensor.WithBacking(mask),
	)
	return G.Let(d.actionMask, maskTensor)
}

// ActionsAndLogProbs runs one batched forward pass over the flattened
// observations and samples an action per row from the policy's action
// distribution, returning actions and their log-probabilities.
//
// The policy's own virtual machine is used, so this must only be
// called on policies whose graph carries no training loss.
func (d *Discrete) ActionsAndLogProbs(obs []float64) ([]float64, []float64,
	error) {
	logits, err := d.forward(obs)
	if err != nil {
		return nil, nil, fmt.Errorf("actionsandlogprobs: %v", err)
	}

	actions := make([]float64, d.batchSize)
	logProbs := make([]float64, d.batchSize)
	probs := make([]float64, d.numActions)
	for i := 0; i < d.batchSize; i++ {
		row := logits[i*d.numActions : (i+1)*d.numActions]
		softmax(row, probs)

		dist := distuv.NewCategorical(probs, d.rng)
		action := dist.Rand()

		actions[i] = action
		logProbs[i] = math.Log(probs[int(action)])
	}
	return actions, logProbs, nil
}

// DeterministicActions runs one batched forward pass and returns the
// highest-probability action per row, breaking ties at random.
func (d *Discrete) DeterministicActions(obs []float64) ([]float64, error) {
	logits, err := d.forward(obs)
	if err != nil {
		return nil, fmt.Errorf("deterministicactions: %v", err)
	}

	actions := make([]float64, d.batchSize)
	for i := 0; i < d.batchSize; i++ {
		row := logits[i*d.numActions : (i+1)*d.numActions]
		_, indices := floatutils.MaxSlice(row)
		actions[i] = float64(indices[d.rng.Intn(len(indices))])
	}
	return actions, nil
}

// SyncFrom copies the trained policy's weights into the receiver.
func (d *Discrete) SyncFrom(src *Discrete) error {
	return d.net.Set(src.net)
}

// forward runs the network on the flattened observation batch and
// returns the raw logits.
func (d *Discrete) forward(obs []float64) ([]float64, error) {
	if err := d.net.SetInput(obs); err != nil {
		return nil, err
	}

	if d.vm == nil {
		d.vm = G.NewTapeMachine(d.net.Graph())
	}
	if err := d.vm.RunAll(); err != nil {
		return nil, err
	}
	d.vm.Reset()

	return d.net.Output().Data().([]float64), nil
}

// softmax writes the clamped softmax of logits into probs.
func softmax(logits, probs []float64) {
	max := floatutils.Max(logits...)

	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] = floatutils.Clip(probs[i]/sum, minActionProb, 1)
	}
}
