package learner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	G "gorgonia.org/gorgonia"

	"github.com/rlgopher/pporl/checkpoint"
	"github.com/rlgopher/pporl/environment"
	"github.com/rlgopher/pporl/experience"
	"github.com/rlgopher/pporl/gae"
	"github.com/rlgopher/pporl/network"
	"github.com/rlgopher/pporl/policy"
	"github.com/rlgopher/pporl/ppo"
	"github.com/rlgopher/pporl/report"
	"github.com/rlgopher/pporl/rollout"
	"github.com/rlgopher/pporl/stats"
	"github.com/rlgopher/pporl/timestep"
	"github.com/rlgopher/pporl/tracker"
)

// Learner wires the whole training stack together and drives the
// iteration loop: collect experience, convert it to advantages and
// value targets, optimize, report, checkpoint.
type Learner struct {
	config     Config
	obsSize    int
	numActions int

	ppo     *ppo.Learner
	manager *rollout.AgentManager
	buffer  *experience.Buffer

	returnStats *stats.RunningStat
	ckpt        *checkpoint.Manager
	trackers    []tracker.Tracker

	runID          string
	epoch          int
	totalTimesteps int

	// blockInference pauses collection for the whole learning phase
	// when learning and inference share one compute device.
	blockInference bool
}

// New builds a learner training in instances of the environment
// returned by envBuilder. If a checkpoint exists under the configured
// load folder, the newest one is restored; a checkpoint that does not
// match the configured networks is a fatal error.
func New(envBuilder func() (environment.Environment, error), config Config,
	trackers ...tracker.Tracker) (*Learner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// Probe one environment instance for its dimensions
	env, err := envBuilder()
	if err != nil {
		return nil, fmt.Errorf("new: could not build environment: %v", err)
	}
	obsSize := env.ObsSize()
	numActions := env.ActionAmount()

	ppoLearner, err := ppo.New(obsSize, numActions, config.PPO,
		config.RandomSeed)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// Inference runs on a mirror of the trained policy sized for one
	// forward pass over every environment instance.
	mirror, err := policy.NewDiscrete(obsSize, numActions,
		config.NumThreads*config.NumGamesPerThread, G.NewGraph(),
		config.PPO.PolicyHiddenSizes, G.GlorotU(1.0), config.RandomSeed+1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create inference policy: %v",
			err)
	}

	manager, err := rollout.NewAgentManager(mirror, config.NumThreads,
		config.NumGamesPerThread, envBuilder)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	buffer, err := experience.New(config.ExpBufferSize, obsSize,
		config.RandomSeed)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	l := &Learner{
		config:         config,
		obsSize:        obsSize,
		numActions:     numActions,
		ppo:            ppoLearner,
		manager:        manager,
		buffer:         buffer,
		returnStats:    stats.NewRunningStat(1),
		trackers:       trackers,
		runID:          uuid.NewString(),
		blockInference: config.Device == DeviceAccelerator,
		ckpt: &checkpoint.Manager{
			SaveFolder: config.CheckpointSaveFolder,
			LoadFolder: config.CheckpointLoadFolder,
			KeepLimit:  config.CheckpointsToKeep,
		},
	}

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := manager.SyncPolicy(ppoLearner.Policy()); err != nil {
		return nil, fmt.Errorf("new: could not initialize inference "+
			"policy: %v", err)
	}

	return l, nil
}

// RunID returns the identifier of the current training run.
func (l *Learner) RunID() string { return l.runID }

// TotalTimesteps returns the cumulative collected timestep count.
func (l *Learner) TotalTimesteps() int { return l.totalTimesteps }

// Learn runs training iterations until the timestep limit is reached.
// Any failure inside an iteration is fatal: the loop stops and the
// error is returned so the process can abort with context.
func (l *Learner) Learn() error {
	l.manager.StartAgents()
	defer l.manager.Stop()

	lastSave := l.totalTimesteps
	for l.config.TimestepLimit == 0 ||
		l.totalTimesteps < l.config.TimestepLimit {
		rep := report.New()
		iterStart := time.Now()

		traj, err := l.manager.CollectTimesteps(
			l.config.TimestepsPerIteration)
		if err != nil {
			return fmt.Errorf("learn: %v", err)
		}
		collectionTime := time.Since(iterStart)
		collected := traj.Size()

		consumeStart := time.Now()
		if err := l.addExperience(traj); err != nil {
			return fmt.Errorf("learn: %v", err)
		}

		gate := l.manager.Gate()
		if l.blockInference {
			gate.Pause()
		}
		err = l.ppo.Learn(l.buffer, rep)
		if err != nil {
			if l.blockInference {
				gate.Resume()
			}
			return fmt.Errorf("learn: %v", err)
		}

		// Weight synchronization always excludes in-flight inference
		if !l.blockInference {
			gate.Pause()
		}
		err = l.manager.SyncPolicy(l.ppo.Policy())
		gate.Resume()
		if err != nil {
			return fmt.Errorf("learn: could not synchronize inference "+
				"policy: %v", err)
		}
		consumptionTime := time.Since(consumeStart)

		l.totalTimesteps += collected
		l.epoch++

		stepReward, epReward, epLength := l.manager.GetMetrics()
		l.manager.ResetMetrics()

		totalTime := time.Since(iterStart)
		rep.Set("Average Episode Reward", epReward)
		rep.Set("Average Step Reward", stepReward)
		rep.Set("Average Episode Length", epLength)
		rep.Set("Collected Steps/Second",
			float64(collected)/collectionTime.Seconds())
		rep.Set("Overall Steps/Second",
			float64(collected)/totalTime.Seconds())
		rep.Set("Collection Time", collectionTime.Seconds())
		rep.Set("Consumption Time", consumptionTime.Seconds())
		rep.Set("Total Iteration Time", totalTime.Seconds())
		rep.Set("Cumulative Timesteps", float64(l.totalTimesteps))
		rep.Set("Timesteps Collected", float64(collected))

		for _, t := range l.trackers {
			if err := t.TrackIteration(context.Background(), l.runID,
				l.epoch, rep); err != nil {
				log.Printf("learn: tracker failed: %v", err)
			}
		}

		if l.config.TimestepsPerSave > 0 &&
			l.totalTimesteps-lastSave >= l.config.TimestepsPerSave {
			if err := l.Save(); err != nil {
				return fmt.Errorf("learn: %v", err)
			}
			lastSave = l.totalTimesteps
		}
	}

	return l.Save()
}

// addExperience converts one iteration's trajectory into advantages
// and value targets and submits it to the experience buffer.
func (l *Learner) addExperience(traj *timestep.Trajectory) error {
	n := traj.Size()
	if n == 0 {
		return nil
	}

	// One value estimate per visited state plus the final next state
	valInput := make([]float64, 0, (n+1)*l.obsSize)
	valInput = append(valInput, traj.States...)
	valInput = append(valInput, traj.LastNextState()...)
	valPreds, err := l.ppo.PredictValues(valInput, n+1)
	if err != nil {
		return fmt.Errorf("addexperience: %v", err)
	}

	retStd := 1.0
	if l.config.StandardizeReturns {
		retStd = l.returnStats.Std()[0]
	}

	res, err := gae.Compute(traj.Rewards, traj.Dones, traj.Truncateds,
		valPreds, l.config.GAEGamma, l.config.GAELambda, retStd)
	if err != nil {
		return fmt.Errorf("addexperience: %v", err)
	}

	if l.config.StandardizeReturns {
		err := l.returnStats.Increment(res.Returns,
			l.config.MaxReturnsPerStatsInc)
		if err != nil {
			return fmt.Errorf("addexperience: %v", err)
		}
	}

	if err := l.buffer.Submit(traj, res.ValueTargets,
		res.Advantages); err != nil {
		return fmt.Errorf("addexperience: %v", err)
	}
	return nil
}

// Save writes a checkpoint of the current training state.
func (l *Learner) Save() error {
	state := checkpoint.State{
		CumulativeTimesteps:    l.totalTimesteps,
		CumulativeModelUpdates: l.ppo.CumulativeModelUpdates(),
		Epoch:                  l.epoch,
		RunID:                  l.runID,
		RewardRunningStats:     l.returnStats,
	}
	artifacts := map[string]interface{}{
		checkpoint.PolicyFile:            network.ParamVector(l.ppo.PolicyNet()),
		checkpoint.ValueNetFile:          network.ParamVector(l.ppo.ValueNet()),
		checkpoint.PolicyOptimizerFile:   l.ppo.PolicySolver(),
		checkpoint.ValueNetOptimizerFile: l.ppo.ValueSolver(),
	}

	if err := l.ckpt.Save(state, artifacts); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	log.Printf("saved checkpoint at %v timesteps", l.totalTimesteps)
	return nil
}

// load restores the newest checkpoint if one exists.
func (l *Learner) load() error {
	var policyParams, valueParams []float64
	state := checkpoint.State{RewardRunningStats: l.returnStats}
	artifacts := map[string]interface{}{
		checkpoint.PolicyFile:            &policyParams,
		checkpoint.ValueNetFile:          &valueParams,
		checkpoint.PolicyOptimizerFile:   l.ppo.PolicySolver(),
		checkpoint.ValueNetOptimizerFile: l.ppo.ValueSolver(),
	}

	found, err := l.ckpt.Load(&state, artifacts)
	if err != nil {
		return fmt.Errorf("load: %v", err)
	}
	if !found {
		return nil
	}

	// A checkpoint that does not fit the configured networks cannot be
	// partially restored.
	err = network.SetParamVector(l.ppo.PolicyNet(), policyParams)
	if err != nil {
		return fmt.Errorf("load: checkpoint policy does not match "+
			"configured network: %v", err)
	}
	err = network.SetParamVector(l.ppo.ValueNet(), valueParams)
	if err != nil {
		return fmt.Errorf("load: checkpoint value function does not match "+
			"configured network: %v", err)
	}
	if err := l.ppo.SyncPredictionValueFn(); err != nil {
		return fmt.Errorf("load: %v", err)
	}

	l.totalTimesteps = state.CumulativeTimesteps
	l.epoch = state.Epoch
	l.ppo.SetCumulativeModelUpdates(state.CumulativeModelUpdates)
	if state.RunID != "" {
		l.runID = state.RunID
	}
	log.Printf("restored checkpoint at %v timesteps (run %v)",
		l.totalTimesteps, l.runID)
	return nil
}
