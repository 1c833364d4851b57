// Package checkpoint saves and restores training runs. Each checkpoint
// is a folder named after the cumulative timestep count it was taken
// at, holding the run's statistics as JSON next to the binary model
// and optimizer states.
package checkpoint

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rlgopher/pporl/stats"
)

// Artifact file names inside a checkpoint folder
const (
	StatsFile             = "RUNNING_STATS.json"
	PolicyFile            = "PPO_POLICY.bin"
	ValueNetFile          = "PPO_VALUE_NET.bin"
	PolicyOptimizerFile   = "PPO_POLICY_OPTIMIZER.bin"
	ValueNetOptimizerFile = "PPO_VALUE_NET_OPTIMIZER.bin"
)

// State is the JSON-serialized progress of a training run.
type State struct {
	CumulativeTimesteps    int                `json:"cumulative_timesteps"`
	CumulativeModelUpdates int                `json:"cumulative_model_updates"`
	Epoch                  int                `json:"epoch"`
	RunID                  string             `json:"run_id"`
	RewardRunningStats     *stats.RunningStat `json:"reward_running_stats"`
}

// Manager writes timestep-numbered checkpoint folders under SaveFolder
// and restores from the newest checkpoint under LoadFolder. At most
// KeepLimit checkpoints are retained; older ones are pruned after each
// save.
type Manager struct {
	SaveFolder string
	LoadFolder string
	KeepLimit  int
}

// Save writes one checkpoint: the state as JSON plus each artifact
// gob-encoded under its file name. The checkpoint folder is named
// after the state's cumulative timestep count.
func (m *Manager) Save(state State, artifacts map[string]interface{}) error {
	dir := filepath.Join(m.SaveFolder,
		strconv.Itoa(state.CumulativeTimesteps))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save: could not create checkpoint folder: %v",
			err)
	}

	data, err := json.MarshalIndent(state, "", "\t")
	if err != nil {
		return fmt.Errorf("save: could not marshal run state: %v", err)
	}
	path := filepath.Join(dir, StatsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save: could not write %v: %v", StatsFile, err)
	}

	for name, artifact := range artifacts {
		if err := writeGob(filepath.Join(dir, name), artifact); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}

	return m.prune()
}

// Load restores the newest checkpoint under LoadFolder. The state and
// each artifact pointer are filled in place. Load returns false
// without error when no checkpoint exists; an unreadable or incomplete
// checkpoint is an error.
func (m *Manager) Load(state *State,
	artifacts map[string]interface{}) (bool, error) {
	steps, err := checkpointSteps(m.LoadFolder)
	if err != nil {
		return false, fmt.Errorf("load: %v", err)
	}
	if len(steps) == 0 {
		return false, nil
	}
	dir := filepath.Join(m.LoadFolder, strconv.Itoa(steps[len(steps)-1]))

	data, err := os.ReadFile(filepath.Join(dir, StatsFile))
	if err != nil {
		return false, fmt.Errorf("load: could not read %v: %v", StatsFile,
			err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return false, fmt.Errorf("load: could not unmarshal run state: %v",
			err)
	}

	for name, artifact := range artifacts {
		if err := readGob(filepath.Join(dir, name), artifact); err != nil {
			return false, fmt.Errorf("load: %v", err)
		}
	}

	return true, nil
}

// prune removes the oldest checkpoints beyond the retention limit.
func (m *Manager) prune() error {
	if m.KeepLimit < 1 {
		return nil
	}

	steps, err := checkpointSteps(m.SaveFolder)
	if err != nil {
		return fmt.Errorf("prune: %v", err)
	}
	for len(steps) > m.KeepLimit {
		dir := filepath.Join(m.SaveFolder, strconv.Itoa(steps[0]))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("prune: could not remove %v: %v", dir, err)
		}
		steps = steps[1:]
	}
	return nil
}

// checkpointSteps lists the timestep counts of the checkpoints in a
// folder, sorted ascending. Entries that are not numerically-named
// directories are ignored.
func checkpointSteps(folder string) ([]int, error) {
	entries, err := os.ReadDir(folder)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not list %v: %v", folder, err)
	}

	var steps []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		steps = append(steps, n)
	}
	sort.Ints(steps)
	return steps, nil
}

func writeGob(path string, artifact interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %v: %v", path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(artifact); err != nil {
		return fmt.Errorf("could not encode %v: %v", path, err)
	}
	return nil
}

func readGob(path string, artifact interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open %v: %v", path, err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(artifact); err != nil {
		return fmt.Errorf("could not decode %v: %v", path, err)
	}
	return nil
}
