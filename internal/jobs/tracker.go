package jobs

import (
	"sync"
	"time"

	"github.com/storage-tray/diskmirror/internal/device"
)

// Job is an in-flight device operation between its start and terminal
// notification.
type Job struct {
	Kind       string
	Action     Action
	Percentage float64
	StartedAt  time.Time
}

// OutcomeKind classifies what a job notification meant.
type OutcomeKind int

const (
	// OutcomeIgnored marks notifications whose raw kind has no action
	// mapping. Ignoring them is policy, not an error.
	OutcomeIgnored OutcomeKind = iota
	OutcomeStarted
	OutcomeSucceeded
	OutcomeFailed
)

// Outcome is the tracker's verdict on a single job notification.
type Outcome struct {
	Kind       OutcomeKind
	Action     Action
	Percentage float64
	// Message carries the pre-registered error text for failed jobs.
	Message string
}

// Tracker owns the in-flight job map and the pre-registered error slots.
// Like the registry it is mutated only on the daemon dispatch path; the
// lock guards the monitor goroutine's reads.
type Tracker struct {
	mu     sync.Mutex
	jobs   map[device.ID]Job
	errors map[Action]map[device.ID]string
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	errors := make(map[Action]map[device.ID]string, len(Actions))
	for _, action := range Actions {
		errors[action] = make(map[device.ID]string)
	}
	return &Tracker{
		jobs:   make(map[device.ID]Job),
		errors: errors,
		now:    time.Now,
	}
}

// SetError pre-registers an explanatory message to surface if the next
// job of the given action fails for the device. Consumed exactly once.
func (t *Tracker) SetError(id device.ID, action Action, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[action][id] = message
}

// takeError reads and clears the error slot for (action, id).
func (t *Tracker) takeError(id device.ID, action Action) string {
	message := t.errors[action][id]
	delete(t.errors[action], id)
	return message
}

// OnJobChanged records or resolves the job for id.
//
// While the job is in progress the entry is created or refreshed and a
// started outcome is returned. On the terminal notification the action is
// taken from the recorded job, falling back to the raw kind for jobs never
// seen in progress (the service sometimes omits the kind on the terminal
// signal). The action's success predicate is evaluated against snap, which
// must be the post-operation registry state, and the job entry is removed.
func (t *Tracker) OnJobChanged(id device.ID, inProgress bool, rawKind string, percentage float64, snap *device.Snapshot) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	kind := rawKind
	if !inProgress {
		if job, ok := t.jobs[id]; ok {
			kind = job.Kind
		}
	}

	action, ok := ActionForJobKind(kind)
	if !ok {
		return Outcome{Kind: OutcomeIgnored}
	}

	if inProgress {
		startedAt := t.now()
		if prev, ok := t.jobs[id]; ok {
			startedAt = prev.StartedAt
		}
		t.jobs[id] = Job{
			Kind:       kind,
			Action:     action,
			Percentage: percentage,
			StartedAt:  startedAt,
		}
		return Outcome{Kind: OutcomeStarted, Action: action, Percentage: percentage}
	}

	delete(t.jobs, id)

	if action.Succeeded(snap) {
		return Outcome{Kind: OutcomeSucceeded, Action: action}
	}
	return Outcome{
		Kind:    OutcomeFailed,
		Action:  action,
		Message: t.takeError(id, action),
	}
}

// PendingError returns the currently queued message for (action, id)
// without consuming it.
func (t *Tracker) PendingError(id device.ID, action Action) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors[action][id]
}

// InFlight returns a copy of the current job map keyed by device.
func (t *Tracker) InFlight() map[device.ID]Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[device.ID]Job, len(t.jobs))
	for id, job := range t.jobs {
		out[id] = job
	}
	return out
}
