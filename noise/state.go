package noise

import (
	"sync"
	"time"
)

// Snapshot is the latest completed run as served over HTTP.
type Snapshot struct {
	RunID   string
	At      time.Time
	Edges   []Edge
	Result  *Result
	Summary Summary
}

// StateTracker holds the latest run for concurrent readers.
type StateTracker struct {
	mu     sync.RWMutex
	latest *Snapshot
}

// NewStateTracker creates an empty state tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// Update replaces the latest run.
func (st *StateTracker) Update(runID string, at time.Time, edges []Edge, r *Result) {
	snap := &Snapshot{
		RunID:   runID,
		At:      at,
		Edges:   edges,
		Result:  r,
		Summary: Summarize(runID, at, r),
	}
	st.mu.Lock()
	st.latest = snap
	st.mu.Unlock()
}

// Latest returns the latest run. Callers must not modify it.
func (st *StateTracker) Latest() (*Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest, st.latest != nil
}

// HasRun reports whether any run completed.
func (st *StateTracker) HasRun() bool {
	_, ok := st.Latest()
	return ok
}
