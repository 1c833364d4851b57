// Package gae implements generalized advantage estimation - GAE(λ) -
// following https://arxiv.org/abs/1506.02438
package gae

import "fmt"

// Result holds the per-timestep outputs of a GAE computation.
type Result struct {
	// Advantages are the GAE(λ) advantage estimates.
	Advantages []float64

	// ValueTargets are the regression targets for the value function,
	// advantage + predicted value.
	ValueTargets []float64

	// Returns are discounted reward sums, accumulated separately from
	// the advantages and divided by the running return standard
	// deviation when return standardization is enabled.
	Returns []float64
}

// Compute runs a backward GAE(λ) scan over a trajectory of N
// transitions.
//
// valPreds must hold N+1 value predictions: one per recorded state plus
// one trailing prediction for the final next-state, which bootstraps
// the last transition.
//
// A done flag marks natural episode termination: the bootstrap term is
// zeroed there and nothing flows backward across it. A truncated flag
// marks an artificial cut: the bootstrap term stays valid, but the
// running advantage and return are reset so that no credit bleeds
// across the cut.
//
// retStd divides the accumulated returns; pass 1 to disable return
// standardization.
func Compute(rewards, dones, truncateds, valPreds []float64, gamma, lambda,
	retStd float64) (Result, error) {
	n := len(rewards)
	if len(dones) != n || len(truncateds) != n {
		return Result{}, fmt.Errorf("compute: rewards, dones and truncateds "+
			"must have equal length \n\thave(%v, %v, %v)", n, len(dones),
			len(truncateds))
	}
	if len(valPreds) != n+1 {
		return Result{}, fmt.Errorf("compute: need one value prediction per "+
			"state plus one for the final next-state \n\twant(%v)"+
			"\n\thave(%v)", n+1, len(valPreds))
	}
	if retStd == 0 {
		return Result{}, fmt.Errorf("compute: return standard deviation " +
			"must be non-zero")
	}

	res := Result{
		Advantages:   make([]float64, n),
		ValueTargets: make([]float64, n),
		Returns:      make([]float64, n),
	}

	var adv, ret float64
	for t := n - 1; t >= 0; t-- {
		if truncateds[t] != 0 {
			adv = 0
			ret = 0
		}
		notDone := 1 - dones[t]

		delta := rewards[t] + gamma*valPreds[t+1]*notDone - valPreds[t]
		adv = delta + gamma*lambda*notDone*adv
		ret = rewards[t] + gamma*ret*notDone

		res.Advantages[t] = adv
		res.ValueTargets[t] = adv + valPreds[t]
		res.Returns[t] = ret / retStd
	}

	return res, nil
}
