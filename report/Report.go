// Package report collects the named metrics of one training iteration
// and formats them for display
package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// displayLine describes one metric's place in the formatted report.
type displayLine struct {
	name     string
	indent   int
	integral bool // display with digit grouping, no decimals
}

// displayOrder fixes the order and indentation of the formatted
// report. Metrics absent from a report are skipped.
var displayOrder = []displayLine{
	{name: "Average Episode Reward"},
	{name: "Average Step Reward"},
	{name: "Average Episode Length"},
	{name: "Policy Entropy"},
	{name: "Value Function Loss"},
	{name: "Mean KL Divergence"},
	{name: "SB3 Clip Fraction"},
	{name: "Policy Update Magnitude"},
	{name: "Value Function Update Magnitude"},
	{name: "Collected Steps/Second", integral: true},
	{name: "Overall Steps/Second", integral: true},
	{name: "Timing", indent: 0},
	{name: "Collection Time", indent: 1},
	{name: "Consumption Time", indent: 1},
	{name: "PPO Learn Time", indent: 2},
	{name: "Total Iteration Time", indent: 1},
	{name: "Cumulative Model Updates", integral: true},
	{name: "Cumulative Timesteps", integral: true},
	{name: "Timesteps Collected", integral: true},
}

// Report accumulates the named metrics of one training iteration.
type Report struct {
	vals map[string]float64
}

// New returns an empty report.
func New() *Report {
	return &Report{vals: make(map[string]float64)}
}

// Set records a metric, replacing any previous value.
func (r *Report) Set(name string, value float64) {
	r.vals[name] = value
}

// Accum adds to a metric, treating an absent metric as zero.
func (r *Report) Accum(name string, value float64) {
	r.vals[name] += value
}

// Get returns a metric and whether it was recorded.
func (r *Report) Get(name string) (float64, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Metrics returns a copy of all recorded metrics.
func (r *Report) Metrics() map[string]float64 {
	out := make(map[string]float64, len(r.vals))
	for k, v := range r.vals {
		out[k] = v
	}
	return out
}

// Clear removes all recorded metrics.
func (r *Report) Clear() {
	r.vals = make(map[string]float64)
}

// String formats the recorded metrics as a fixed-order block, one
// metric per line.
func (r *Report) String() string {
	var sb strings.Builder
	for _, line := range displayOrder {
		pad := strings.Repeat("   ", line.indent)

		// Section headers carry no value of their own
		if _, ok := r.vals[line.name]; !ok {
			if line.name == "Timing" {
				fmt.Fprintf(&sb, "%v%v:\n", pad, line.name)
			}
			continue
		}

		v := r.vals[line.name]
		if line.integral {
			fmt.Fprintf(&sb, "%v%v: %v\n", pad, line.name,
				humanize.Comma(int64(v)))
		} else {
			fmt.Fprintf(&sb, "%v%v: %.5g\n", pad, line.name, v)
		}
	}
	return sb.String()
}
