package refresh

import (
	"sync"
	"time"
)

// Progress states reported by /api/progress.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// ProgressSnapshot is a point-in-time copy of a Progress.
type ProgressSnapshot struct {
	State      string    `json:"status"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// Progress tracks the running refresh. It implements logging.Reporter and is
// safe for concurrent use.
type Progress struct {
	mu   sync.Mutex
	snap ProgressSnapshot
}

// NewProgress returns an idle Progress.
func NewProgress() *Progress {
	return &Progress{snap: ProgressSnapshot{State: StateIdle}}
}

// Report records the position of the day loop.
func (p *Progress) Report(current, total int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Current = current
	p.snap.Total = total
	p.snap.Message = message
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Progress) begin(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = ProgressSnapshot{
		State:     StateRunning,
		Message:   "Starting refresh",
		StartedAt: now,
	}
}

func (p *Progress) finish(now time.Time, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.FinishedAt = now
	if err != nil {
		p.snap.State = StateFailed
		p.snap.Message = "Refresh failed"
		p.snap.Error = err.Error()
		return
	}
	p.snap.State = StateComplete
	p.snap.Message = "Ready"
}
