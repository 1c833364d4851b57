// Package learner runs the whole training loop: concurrent collection,
// advantage estimation, PPO optimization, checkpointing and reporting
package learner

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rlgopher/pporl/ppo"
)

// Compute device selection
const (
	DeviceAuto        = "auto"
	DeviceCPU         = "cpu"
	DeviceAccelerator = "accelerator"
)

// Config holds the hyperparameters of a training run.
type Config struct {
	NumThreads        int `json:"numThreads"`
	NumGamesPerThread int `json:"numGamesPerThread"`

	// TimestepLimit stops training once the cumulative timestep count
	// reaches it. Zero trains without limit.
	TimestepLimit         int `json:"timestepLimit"`
	TimestepsPerIteration int `json:"timestepsPerIteration"`
	ExpBufferSize         int `json:"expBufferSize"`

	StandardizeReturns    bool `json:"standardizeReturns"`
	MaxReturnsPerStatsInc int  `json:"maxReturnsPerStatsInc"`

	GAEGamma  float64 `json:"gaeGamma"`
	GAELambda float64 `json:"gaeLambda"`

	PPO ppo.Config `json:"ppo"`

	CheckpointSaveFolder string `json:"checkpointSaveFolder"`
	CheckpointLoadFolder string `json:"checkpointLoadFolder"`
	TimestepsPerSave     int    `json:"timestepsPerSave"`
	CheckpointsToKeep    int    `json:"checkpointsToKeep"`

	// SQLitePath enables the run-history database when non-empty.
	SQLitePath string `json:"sqlitePath"`

	RandomSeed uint64 `json:"randomSeed"`

	// Device selects where learning runs. On a device shared with
	// inference, collection is paused for the whole learning phase
	// instead of only for the weight synchronization.
	Device string `json:"device"`
}

// DefaultConfig returns the default training configuration.
func DefaultConfig() Config {
	return Config{
		NumThreads:            8,
		NumGamesPerThread:     16,
		TimestepLimit:         0,
		TimestepsPerIteration: 50000,
		ExpBufferSize:         100000,
		StandardizeReturns:    true,
		MaxReturnsPerStatsInc: 150,
		GAEGamma:              0.99,
		GAELambda:             0.95,
		PPO: ppo.Config{
			Epochs:            2,
			BatchSize:         50000,
			MiniBatchSize:     0,
			ClipRange:         0.2,
			EntropyCoef:       0.005,
			PolicyStepSize:    3e-4,
			CriticStepSize:    3e-4,
			PolicyHiddenSizes: []int{256, 256, 256},
			CriticHiddenSizes: []int{256, 256, 256},
		},
		CheckpointSaveFolder: "checkpoints",
		CheckpointLoadFolder: "checkpoints",
		TimestepsPerSave:     5000000,
		CheckpointsToKeep:    5,
		RandomSeed:           123,
		Device:               DeviceAuto,
	}
}

// LoadConfig reads a JSON configuration file over the defaults, so a
// file only needs to name the fields it changes.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("loadconfig: %v", err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("loadconfig: could not parse %v: %v",
			path, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("loadconfig: %v", err)
	}
	return config, nil
}

// Validate checks the configuration and fills defaulted fields in
// place.
func (c *Config) Validate() error {
	if c.NumThreads < 1 || c.NumGamesPerThread < 1 {
		return fmt.Errorf("validate: need at least one thread and one game "+
			"per thread, have (%v, %v)", c.NumThreads, c.NumGamesPerThread)
	}
	if c.TimestepsPerIteration < 1 {
		return fmt.Errorf("validate: timesteps per iteration must be " +
			"positive")
	}
	if c.ExpBufferSize < c.TimestepsPerIteration {
		return fmt.Errorf("validate: experience buffer (%v) smaller than "+
			"one iteration's timesteps (%v)", c.ExpBufferSize,
			c.TimestepsPerIteration)
	}
	if c.StandardizeReturns && c.MaxReturnsPerStatsInc < 1 {
		return fmt.Errorf("validate: max returns per statistics increment " +
			"must be positive when standardizing returns")
	}
	if c.GAEGamma <= 0 || c.GAEGamma > 1 {
		return fmt.Errorf("validate: gamma must be in (0, 1], have %v",
			c.GAEGamma)
	}
	if c.GAELambda < 0 || c.GAELambda > 1 {
		return fmt.Errorf("validate: lambda must be in [0, 1], have %v",
			c.GAELambda)
	}

	switch c.Device {
	case DeviceAuto:
		// No accelerator backend is compiled into this build
		c.Device = DeviceCPU
	case DeviceCPU, DeviceAccelerator:
	default:
		return fmt.Errorf("validate: unknown device %q", c.Device)
	}

	return c.PPO.Validate()
}
