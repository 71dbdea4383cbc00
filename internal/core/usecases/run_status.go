package usecases

import (
	"sort"
	"sync"
	"time"
)

// RunStatus describes the latest run of a pipeline stage in a long-running
// process.
type RunStatus struct {
	Stage        string         `json:"stage"`
	Runs         int            `json:"runs"`
	Failures     int            `json:"failures"`
	LastStarted  time.Time      `json:"last_started"`
	LastFinished time.Time      `json:"last_finished"`
	LastError    string         `json:"last_error,omitempty"`
	Counts       map[string]int `json:"counts,omitempty"`
}

// StatusBoard keeps the latest RunStatus per stage. Safe for concurrent use.
type StatusBoard struct {
	mu   sync.RWMutex
	runs map[string]RunStatus
}

// NewStatusBoard creates an empty StatusBoard.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{runs: make(map[string]RunStatus)}
}

// Record stores the outcome of one run. Counts from a failed run are kept
// only if the run produced any.
func (b *StatusBoard) Record(stage string, started time.Time, counts map[string]int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.runs[stage]
	st.Stage = stage
	st.Runs++
	st.LastStarted = started
	st.LastFinished = time.Now()
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	if counts != nil || err == nil {
		st.Counts = counts
	}
	b.runs[stage] = st
}

// Get returns the status of one stage.
func (b *StatusBoard) Get(stage string) (RunStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.runs[stage]
	return st, ok
}

// All returns every recorded stage, ordered by name.
func (b *StatusBoard) All() []RunStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]RunStatus, 0, len(b.runs))
	for _, st := range b.runs {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
