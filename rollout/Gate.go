// Package rollout implements concurrent experience collection: worker
// goroutines own disjoint environment instances and a central loop
// serves batched policy inference for all of them
package rollout

import "sync"

// Gate coordinates the inference loop with the learner. Inference
// holds the gate for the duration of each forward pass; the learner
// pauses the gate while it needs exclusive use of the policy or of a
// shared compute device.
//
// Many inference passes may hold the gate at once, but none while it
// is paused.
type Gate struct {
	mu sync.RWMutex
}

// Pause blocks until in-flight inference passes finish, then holds the
// gate closed until Resume.
func (g *Gate) Pause() {
	g.mu.Lock()
}

// Resume reopens the gate.
func (g *Gate) Resume() {
	g.mu.Unlock()
}

// Enter holds the gate open for one inference pass. It blocks while
// the gate is paused.
func (g *Gate) Enter() {
	g.mu.RLock()
}

// Leave releases the hold taken by Enter.
func (g *Gate) Leave() {
	g.mu.RUnlock()
}
