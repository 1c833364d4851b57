// Trains a PPO agent on the chain environment and reports each
// iteration to the log and, optionally, a run-history database.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/rlgopher/pporl/environment"
	"github.com/rlgopher/pporl/environment/chain"
	"github.com/rlgopher/pporl/learner"
	"github.com/rlgopher/pporl/tracker"
)

func main() {
	var (
		configPath = flag.String("config", "",
			"JSON configuration file overriding the built-in demo settings")
		timestepLimit = flag.Int("timesteps", 200000,
			"total timesteps to train for")
		sqlitePath = flag.String("history", "",
			"path of the run-history database (disabled when empty)")
		checkpointFolder = flag.String("checkpoints", "checkpoints",
			"folder for saving and restoring checkpoints")
		seed = flag.Uint64("seed", 123, "random seed")
	)
	flag.Parse()

	var config learner.Config
	if *configPath != "" {
		var err error
		if config, err = learner.LoadConfig(*configPath); err != nil {
			log.Fatalf("could not load configuration: %v", err)
		}
	} else {
		config = learner.DefaultConfig()
		config.NumThreads = 4
		config.NumGamesPerThread = 8
		config.TimestepLimit = *timestepLimit
		config.TimestepsPerIteration = 4096
		config.ExpBufferSize = 8192
		config.TimestepsPerSave = 50000
		config.CheckpointSaveFolder = *checkpointFolder
		config.CheckpointLoadFolder = *checkpointFolder
		config.RandomSeed = *seed
		config.PPO.Epochs = 2
		config.PPO.BatchSize = 2048
		config.PPO.MiniBatchSize = 512
		config.PPO.PolicyHiddenSizes = []int{64, 64}
		config.PPO.CriticHiddenSizes = []int{64, 64}
	}

	trackers := []tracker.Tracker{tracker.LogTracker{}}
	if *sqlitePath != "" {
		sqlite := tracker.NewSQLiteTracker(*sqlitePath)
		if err := sqlite.Init(context.Background()); err != nil {
			log.Fatalf("could not open run history: %v", err)
		}
		defer sqlite.Close()
		trackers = append(trackers, sqlite)
	}

	envBuilder := func() (environment.Environment, error) {
		return chain.NewDefault(), nil
	}

	l, err := learner.New(envBuilder, config, trackers...)
	if err != nil {
		log.Fatalf("could not create learner: %v", err)
	}

	log.Printf("training run %v for %v timesteps", l.RunID(),
		config.TimestepLimit)
	if err := l.Learn(); err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("training finished at %v timesteps", l.TotalTimesteps())
}
