// Package stats implements online statistics used to standardize
// training targets and to accumulate episode metrics
package stats

import (
	"encoding/json"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
)

// minStd keeps standard deviations away from zero so that dividing by
// them cannot blow up.
const minStd = 1e-8

// RunningStat tracks a per-dimension mean and population variance of a
// stream of samples using Welford's online update. It is the
// statistic behind return standardization and is persisted with every
// checkpoint.
type RunningStat struct {
	mean     []float64
	variance []float64
	shape    int
	count    int
}

// NewRunningStat returns a RunningStat over samples of the given
// dimensionality.
func NewRunningStat(shape int) *RunningStat {
	return &RunningStat{
		mean:     make([]float64, shape),
		variance: make([]float64, shape),
		shape:    shape,
		count:    0,
	}
}

// Shape returns the dimensionality of tracked samples.
func (r *RunningStat) Shape() int { return r.shape }

// Count returns the number of samples accumulated so far.
func (r *RunningStat) Count() int { return r.count }

// Increment folds up to maxCount samples into the statistic. The
// samples slice holds consecutive samples of length Shape() laid out
// flat; capping the number of samples per update bounds how far a
// single burst can drag the statistic.
func (r *RunningStat) Increment(samples []float64, maxCount int) error {
	if len(samples)%r.shape != 0 {
		return fmt.Errorf("increment: illegal sample length "+
			"\n\twant(multiple of %v)\n\thave(%v)", r.shape, len(samples))
	}

	n := len(samples) / r.shape
	if maxCount < n {
		n = maxCount
	}

	for i := 0; i < n; i++ {
		sample := samples[i*r.shape : (i+1)*r.shape]
		r.count++
		for j, x := range sample {
			delta := x - r.mean[j]
			r.mean[j] += delta / float64(r.count)
			delta2 := x - r.mean[j]
			r.variance[j] += delta * delta2
		}
	}
	return nil
}

// Mean returns a copy of the per-dimension running mean.
func (r *RunningStat) Mean() []float64 {
	out := make([]float64, r.shape)
	copy(out, r.mean)
	return out
}

// Std returns the per-dimension standard deviation, clamped away from
// zero. Before two samples have been seen the deviation is reported as
// one so that standardization is a no-op.
func (r *RunningStat) Std() []float64 {
	std := make([]float64, r.shape)
	if r.count < 2 {
		for i := range std {
			std[i] = 1
		}
		return std
	}

	for i := range std {
		std[i] = math.Sqrt(r.variance[i] / float64(r.count-1))
		if std[i] < minStd {
			std[i] = minStd
		}
	}
	return std
}

// runningStatJSON is the serialized form of a RunningStat. The field
// names match the checkpoint stats layout.
type runningStatJSON struct {
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"var"`
	Shape    int       `json:"shape"`
	Count    int       `json:"count"`
}

// MarshalJSON implements the json.Marshaler interface. A NaN in the
// statistic is logged but still written, so that a corrupted value is
// never dropped silently.
func (r *RunningStat) MarshalJSON() ([]byte, error) {
	if floats.HasNaN(r.mean) || floats.HasNaN(r.variance) {
		log.Printf("warning: running statistic contains NaN at save time")
	}

	return json.Marshal(runningStatJSON{
		Mean:     r.mean,
		Variance: r.variance,
		Shape:    r.shape,
		Count:    r.count,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface. The
// reconstructed statistic is identical to the serialized one.
func (r *RunningStat) UnmarshalJSON(data []byte) error {
	var enc runningStatJSON
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}
	if len(enc.Mean) != enc.Shape || len(enc.Variance) != enc.Shape {
		return fmt.Errorf("unmarshaljson: running statistic shape %v does "+
			"not match stored vectors (%v, %v)", enc.Shape, len(enc.Mean),
			len(enc.Variance))
	}

	r.mean = enc.Mean
	r.variance = enc.Variance
	r.shape = enc.Shape
	r.count = enc.Count
	return nil
}
