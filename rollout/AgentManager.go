package rollout

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rlgopher/pporl/environment"
	"github.com/rlgopher/pporl/policy"
	"github.com/rlgopher/pporl/stats"
	"github.com/rlgopher/pporl/timestep"
)

// collectPollInterval is how often CollectTimesteps re-checks the
// collected step counter.
const collectPollInterval = 2 * time.Millisecond

// inferRequest carries one worker's observations to the inference
// loop.
type inferRequest struct {
	worker int
	obs    []float64
}

// inferReply carries sampled actions and their log-probabilities back
// to a worker.
type inferReply struct {
	actions  []float64
	logProbs []float64
}

// threadAgent is one collection worker and the state it owns: a fixed
// set of game instances and one open trajectory per instance.
type threadAgent struct {
	id    int
	games []*GameInst
	trajs []*timestep.Trajectory
	reply chan inferReply

	// Guards trajs and the game instances' metrics against
	// CollectTimesteps and GetMetrics.
	mu sync.Mutex
}

// AgentManager runs experience collection. It owns numThreads workers
// with numGamesPerThread environment instances each, plus one central
// inference loop that serves all workers with single batched forward
// passes through the inference policy.
//
// Workers run in lock step with the inference loop: every round, each
// worker submits the observations of all its instances, the inference
// loop batches the submissions of all workers into one forward pass,
// and each worker then steps its instances with the sampled actions.
type AgentManager struct {
	pol  *policy.Discrete
	gate Gate

	workers  []*threadAgent
	requests chan inferRequest

	obsSize        int
	gamesPerThread int

	stepsCollected int64

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewAgentManager creates a manager collecting with pol over
// numThreads * numGamesPerThread instances of the environment built by
// envBuilder. The policy's batch size must equal the total instance
// count, since every inference pass serves all instances at once.
func NewAgentManager(pol *policy.Discrete, numThreads, numGamesPerThread int,
	envBuilder func() (environment.Environment, error)) (*AgentManager,
	error) {
	if numThreads < 1 || numGamesPerThread < 1 {
		return nil, fmt.Errorf("newagentmanager: need at least one thread "+
			"and one game per thread, have (%v, %v)", numThreads,
			numGamesPerThread)
	}
	if pol.BatchSize() != numThreads*numGamesPerThread {
		return nil, fmt.Errorf("newagentmanager: illegal policy batch size "+
			"\n\twant(%v)\n\thave(%v)", numThreads*numGamesPerThread,
			pol.BatchSize())
	}

	m := &AgentManager{
		pol:      pol,
		workers:  make([]*threadAgent, numThreads),
		requests: make(chan inferRequest, numThreads),
		stop:     make(chan struct{}),
	}

	for w := 0; w < numThreads; w++ {
		agent := &threadAgent{
			id:    w,
			games: make([]*GameInst, numGamesPerThread),
			trajs: make([]*timestep.Trajectory, numGamesPerThread),
			reply: make(chan inferReply, 1),
		}
		for i := 0; i < numGamesPerThread; i++ {
			env, err := envBuilder()
			if err != nil {
				return nil, fmt.Errorf("newagentmanager: could not build "+
					"environment: %v", err)
			}
			if m.obsSize == 0 {
				m.obsSize = env.ObsSize()
			} else if env.ObsSize() != m.obsSize {
				return nil, fmt.Errorf("newagentmanager: environments "+
					"disagree on observation size \n\twant(%v)\n\thave(%v)",
					m.obsSize, env.ObsSize())
			}

			game, err := newGameInst(env)
			if err != nil {
				return nil, fmt.Errorf("newagentmanager: %v", err)
			}
			agent.games[i] = game
			agent.trajs[i] = timestep.NewTrajectory(256, m.obsSize)
		}
		m.workers[w] = agent
	}
	m.gamesPerThread = numGamesPerThread

	return m, nil
}

// Gate returns the gate coordinating inference with the learner.
func (m *AgentManager) Gate() *Gate {
	return &m.gate
}

// NumInstances returns the total number of environment instances.
func (m *AgentManager) NumInstances() int {
	return len(m.workers) * m.gamesPerThread
}

// StartAgents launches the collection workers and the inference loop.
func (m *AgentManager) StartAgents() {
	if m.started {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.runInference()
	for _, agent := range m.workers {
		m.wg.Add(1)
		go m.runWorker(agent)
	}
}

// Stop shuts down the workers and the inference loop and waits for
// them to exit.
func (m *AgentManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// CollectTimesteps blocks until at least target new timesteps have
// been recorded since the last collection, then drains all open
// trajectories into one. Per-instance sequences stay contiguous in the
// result, and each instance's final recorded step is marked truncated
// unless its episode ended there, since collection cuts the sequence
// at an arbitrary point.
func (m *AgentManager) CollectTimesteps(target int) (*timestep.Trajectory,
	error) {
	for atomic.LoadInt64(&m.stepsCollected) < int64(target) {
		select {
		case <-m.stop:
			return nil, fmt.Errorf("collecttimesteps: manager stopped")
		case <-time.After(collectPollInterval):
		}
	}

	out := timestep.NewTrajectory(target+m.NumInstances(), m.obsSize)
	for _, agent := range m.workers {
		agent.mu.Lock()
		for _, traj := range agent.trajs {
			if traj.Size() == 0 {
				continue
			}
			traj.MarkLastTruncated()
			if err := out.AppendTrajectory(traj); err != nil {
				agent.mu.Unlock()
				return nil, fmt.Errorf("collecttimesteps: %v", err)
			}
			traj.Clear()
		}
		agent.mu.Unlock()
	}
	atomic.StoreInt64(&m.stepsCollected, 0)

	return out, nil
}

// SyncPolicy copies the trained policy's weights into the inference
// policy. The caller must hold the gate paused.
func (m *AgentManager) SyncPolicy(src *policy.Discrete) error {
	return m.pol.SyncFrom(src)
}

// GetMetrics returns the average step reward, average episode reward
// and average episode length accumulated since the last ResetMetrics.
func (m *AgentManager) GetMetrics() (stepReward, epReward,
	epLength float64) {
	var stepRewards, epRewards, epLengths stats.AvgTracker
	for _, agent := range m.workers {
		agent.mu.Lock()
		for _, game := range agent.games {
			game.mergeMetrics(&stepRewards, &epRewards, &epLengths)
		}
		agent.mu.Unlock()
	}
	return stepRewards.Get(), epRewards.Get(), epLengths.Get()
}

// ResetMetrics clears all instances' reward and episode statistics.
func (m *AgentManager) ResetMetrics() {
	for _, agent := range m.workers {
		agent.mu.Lock()
		for _, game := range agent.games {
			game.resetMetrics()
		}
		agent.mu.Unlock()
	}
}

// runWorker is the collection loop of one worker.
func (m *AgentManager) runWorker(agent *threadAgent) {
	defer m.wg.Done()

	for {
		obs := make([]float64, 0, len(agent.games)*m.obsSize)
		for _, game := range agent.games {
			obs = append(obs, game.Obs()...)
		}

		select {
		case m.requests <- inferRequest{worker: agent.id, obs: obs}:
		case <-m.stop:
			return
		}

		var rep inferReply
		select {
		case rep = <-agent.reply:
		case <-m.stop:
			return
		}

		agent.mu.Lock()
		for i, game := range agent.games {
			state := game.Obs()
			res, err := game.Step(rep.actions[i])
			if err != nil {
				agent.mu.Unlock()
				panic(fmt.Sprintf("runworker: environment step failed: %v",
					err))
			}

			err = agent.trajs[i].Append(timestep.TimeStep{
				State:     state,
				Action:    rep.actions[i],
				LogProb:   rep.logProbs[i],
				Reward:    res.Reward,
				NextState: res.Obs,
				Done:      res.Done,
				Truncated: res.Truncated,
			})
			if err != nil {
				agent.mu.Unlock()
				panic(fmt.Sprintf("runworker: could not record timestep: %v",
					err))
			}
		}
		agent.mu.Unlock()

		atomic.AddInt64(&m.stepsCollected, int64(len(agent.games)))
	}
}

// runInference is the central inference loop. Each round it gathers
// one request per worker, runs a single batched forward pass under the
// gate, and routes the per-instance results back.
func (m *AgentManager) runInference() {
	defer m.wg.Done()

	pending := make([]inferRequest, len(m.workers))
	batch := make([]float64, 0, m.NumInstances()*m.obsSize)
	for {
		for i := 0; i < len(m.workers); i++ {
			select {
			case req := <-m.requests:
				pending[req.worker] = req
			case <-m.stop:
				return
			}
		}

		batch = batch[:0]
		for _, req := range pending {
			batch = append(batch, req.obs...)
		}

		m.gate.Enter()
		actions, logProbs, err := m.pol.ActionsAndLogProbs(batch)
		m.gate.Leave()
		if err != nil {
			panic(fmt.Sprintf("runinference: inference pass failed: %v", err))
		}

		offset := 0
		for w := range pending {
			n := m.gamesPerThread
			rep := inferReply{
				actions:  actions[offset : offset+n],
				logProbs: logProbs[offset : offset+n],
			}
			offset += n

			select {
			case m.workers[w].reply <- rep:
			case <-m.stop:
				return
			}
		}
	}
}
