package migration

import (
	"sync"
	"time"
)

// RunStatus is the lifecycle of a background run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// RunInfo is the tracked state of one background run. Fire-and-forget runs
// have no cancellation handle; the tracker only observes them.
type RunInfo struct {
	RunID      string     `json:"run_id"`
	Status     RunStatus  `json:"status"`
	Request    Request    `json:"request"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Tracker keeps recent background runs in memory so the async surface can
// report on them. Oldest entries are evicted past the cap.
type Tracker struct {
	mu    sync.Mutex
	runs  map[string]*RunInfo
	order []string
	cap   int
}

func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*RunInfo), cap: 100}
}

// Start registers a run as running.
func (t *Tracker) Start(runID string, req Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = &RunInfo{
		RunID:     runID,
		Status:    RunRunning,
		Request:   req,
		StartedAt: time.Now().UTC(),
	}
	t.order = append(t.order, runID)
	for len(t.order) > t.cap {
		evict := t.order[0]
		t.order = t.order[1:]
		delete(t.runs, evict)
	}
}

// Complete marks a run done with its summary.
func (t *Tracker) Complete(runID string, summary *Summary) {
	t.finish(runID, RunCompleted, summary, "")
}

// Abort marks a run aborted with the failure reason.
func (t *Tracker) Abort(runID string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	t.finish(runID, RunAborted, nil, reason)
}

func (t *Tracker) finish(runID string, status RunStatus, summary *Summary, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.runs[runID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	info.Status = status
	info.FinishedAt = &now
	info.Summary = summary
	info.Error = reason
}

// Get returns a snapshot of one run.
func (t *Tracker) Get(runID string) (RunInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.runs[runID]
	if !ok {
		return RunInfo{}, false
	}
	return *info, true
}

// List returns snapshots of all tracked runs, oldest first.
func (t *Tracker) List() []RunInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]RunInfo, 0, len(t.order))
	for _, id := range t.order {
		if info, ok := t.runs[id]; ok {
			res = append(res, *info)
		}
	}
	return res
}
