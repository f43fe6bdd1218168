package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/storage-tray/diskmirror/logger"
)

// Monitor is a scheduled process that logs jobs stuck in flight longer than
// a threshold. The service never delivers a timeout of its own and this
// module deliberately performs no timeout-based reclamation, so a stale job
// entry persists until its terminal notification arrives; the monitor makes
// that visible without changing it.
type Monitor struct {
	tracker  *Tracker
	staleAge time.Duration
	running  atomic.Bool
}

// NewMonitor creates a monitor reporting jobs older than staleAge.
func NewMonitor(tracker *Tracker, staleAge time.Duration) *Monitor {
	return &Monitor{tracker: tracker, staleAge: staleAge}
}

// Name returns the process name.
func (m *Monitor) Name() string { return "job-watch" }

// IsRunning returns true while an execution is in progress.
func (m *Monitor) IsRunning() bool { return m.running.Load() }

// IsComplete always returns false; the monitor runs for the daemon's lifetime.
func (m *Monitor) IsComplete() bool { return false }

// Execute logs every in-flight job older than the stale threshold.
func (m *Monitor) Execute(ctx context.Context) error {
	m.running.Store(true)
	defer m.running.Store(false)

	log := logger.FromContext(ctx)
	now := time.Now()
	for id, job := range m.tracker.InFlight() {
		age := now.Sub(job.StartedAt)
		if age < m.staleAge {
			continue
		}
		log.Warn().
			Str("device", string(id)).
			Str("action", string(job.Action)).
			Dur("age", age).
			Float64("percentage", job.Percentage).
			Msg("Job has been in flight for a long time; no terminal notification received")
	}
	return nil
}
