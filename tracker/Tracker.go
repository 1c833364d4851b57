// Package tracker records per-iteration training metrics to external
// sinks such as the process log or a run-history database
package tracker

import (
	"context"
	"log"

	"github.com/rlgopher/pporl/report"
)

// Tracker receives the metrics of each finished training iteration.
type Tracker interface {
	// TrackIteration records one iteration's metrics for the run.
	TrackIteration(ctx context.Context, runID string, epoch int,
		rep *report.Report) error

	// Close releases the tracker's resources.
	Close() error
}

// LogTracker prints each iteration's report to the process log.
type LogTracker struct{}

// TrackIteration implements the Tracker interface.
func (LogTracker) TrackIteration(_ context.Context, runID string, epoch int,
	rep *report.Report) error {
	log.Printf("run %v epoch %v:\n%v", runID, epoch, rep)
	return nil
}

// Close implements the Tracker interface.
func (LogTracker) Close() error { return nil }
