package rollout

import (
	"fmt"

	"github.com/rlgopher/pporl/environment"
	"github.com/rlgopher/pporl/stats"
)

// GameInst wraps one environment instance with the bookkeeping of the
// episode currently running in it. Episodes restart automatically:
// after a terminal or truncated step the instance immediately resets
// its environment, so collection never stalls between episodes.
type GameInst struct {
	env environment.Environment

	curObs   []float64
	curEpRew float64
	curEpLen int

	stepRewards stats.AvgTracker
	epRewards   stats.AvgTracker
	epLengths   stats.AvgTracker
}

// newGameInst wraps env and starts its first episode.
func newGameInst(env environment.Environment) (*GameInst, error) {
	obs, err := env.Reset()
	if err != nil {
		return nil, fmt.Errorf("newgameinst: could not reset environment: %v",
			err)
	}
	if len(obs) != env.ObsSize() {
		return nil, fmt.Errorf("newgameinst: illegal observation length "+
			"\n\twant(%v)\n\thave(%v)", env.ObsSize(), len(obs))
	}
	return &GameInst{env: env, curObs: obs}, nil
}

// Obs returns the observation the next action will be chosen from.
func (g *GameInst) Obs() []float64 {
	return g.curObs
}

// Step takes one action in the environment. The returned result holds
// the stepped-to observation even when the episode ended there; the
// instance's own current observation moves on to the next episode's
// first observation in that case.
func (g *GameInst) Step(action float64) (*environment.StepResult, error) {
	res, err := g.env.Step(action)
	if err != nil {
		return nil, fmt.Errorf("step: %v", err)
	}

	g.stepRewards.Add(res.Reward)
	g.curEpRew += res.Reward
	g.curEpLen++

	if res.Done || res.Truncated {
		g.epRewards.Add(g.curEpRew)
		g.epLengths.Add(float64(g.curEpLen))
		g.curEpRew = 0
		g.curEpLen = 0

		obs, err := g.env.Reset()
		if err != nil {
			return nil, fmt.Errorf("step: could not reset environment: %v",
				err)
		}
		g.curObs = obs
	} else {
		g.curObs = res.Obs
	}
	return res, nil
}

// mergeMetrics folds this instance's reward and episode statistics
// into the given trackers.
func (g *GameInst) mergeMetrics(stepRewards, epRewards,
	epLengths *stats.AvgTracker) {
	stepRewards.Merge(g.stepRewards)
	epRewards.Merge(g.epRewards)
	epLengths.Merge(g.epLengths)
}

// resetMetrics clears the instance's reward and episode statistics.
func (g *GameInst) resetMetrics() {
	g.stepRewards.Reset()
	g.epRewards.Reset()
	g.epLengths.Reset()
}
