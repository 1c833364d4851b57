package stats

// AvgTracker accumulates a running average of values added to it.
// Environment instances use one per metric to flush episode rewards
// and lengths into iteration-level averages.
type AvgTracker struct {
	sum   float64
	count int
}

// Add accumulates a value into the average.
func (a *AvgTracker) Add(value float64) {
	a.sum += value
	a.count++
}

// AddN accumulates a sum of n underlying values.
func (a *AvgTracker) AddN(sum float64, n int) {
	a.sum += sum
	a.count += n
}

// Merge folds another tracker into this one.
func (a *AvgTracker) Merge(other AvgTracker) {
	a.sum += other.sum
	a.count += other.count
}

// Get returns the current average, or 0 before any value was added.
func (a *AvgTracker) Get() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// Reset clears the tracker.
func (a *AvgTracker) Reset() {
	a.sum = 0
	a.count = 0
}
