package events

import (
	"fmt"
	"sync"

	"github.com/storage-tray/diskmirror/internal/device"
)

// The closed set of event names the daemon publishes. Every stem has an
// "ing" (progress) and an "ed" (completion) variant plus job_failed.
const (
	DeviceAdding     = "device_adding"
	DeviceAdded      = "device_added"
	DeviceRemoving   = "device_removing"
	DeviceRemoved    = "device_removed"
	DeviceChanged    = "device_changed"
	DeviceMounting   = "device_mounting"
	DeviceMounted    = "device_mounted"
	DeviceUnmounting = "device_unmounting"
	DeviceUnmounted  = "device_unmounted"
	DeviceLocking    = "device_locking"
	DeviceLocked     = "device_locked"
	DeviceUnlocking  = "device_unlocking"
	DeviceUnlocked   = "device_unlocked"
	DeviceChanging   = "device_changing"
	MediaAdding      = "media_adding"
	MediaAdded       = "media_added"
	MediaRemoving    = "media_removing"
	MediaRemoved     = "media_removed"
	JobFailed        = "job_failed"
)

// Names lists every valid event name.
var Names = []string{
	DeviceAdding, DeviceAdded,
	DeviceRemoving, DeviceRemoved,
	DeviceChanged,
	DeviceMounting, DeviceMounted,
	DeviceUnmounting, DeviceUnmounted,
	DeviceLocking, DeviceLocked,
	DeviceUnlocking, DeviceUnlocked,
	DeviceChanging,
	MediaAdding, MediaAdded,
	MediaRemoving, MediaRemoved,
	JobFailed,
}

// Event is the payload delivered to subscribers. Device carries the subject
// snapshot (the new state for change events, the last known state for
// removal events). Old is set only for device_changed. Action and Message
// are set only for job_failed; Percentage only for progress events.
type Event struct {
	Name       string
	Device     *device.Snapshot
	Old        *device.Snapshot
	Percentage float64
	Action     string
	Message    string
}

// Handler consumes one event. A non-nil error aborts publication and is
// returned to the publisher; the engine does not isolate handler failures.
type Handler func(Event) error

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	name string
	id   uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Engine is a named-channel publish/subscribe dispatcher. Handlers for a
// name run synchronously on the publishing goroutine, in subscription
// order.
type Engine struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[string][]subscriber
}

// NewEngine creates an engine with no subscribers.
func NewEngine() *Engine {
	return &Engine{
		subscribers: make(map[string][]subscriber),
	}
}

// Subscribe registers a handler for the named event and returns its
// subscription handle.
func (e *Engine) Subscribe(name string, handler Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.subscribers[name] = append(e.subscribers[name], subscriber{
		id:      e.nextID,
		handler: handler,
	})
	return Subscription{name: name, id: e.nextID}
}

// Unsubscribe removes a previously registered handler. Unknown
// subscriptions are ignored.
func (e *Engine) Unsubscribe(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[sub.name]
	for i, s := range subs {
		if s.id == sub.id {
			e.subscribers[sub.name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every subscriber of its name, in
// subscription order. The first handler error stops delivery and is
// returned, wrapped with the event name.
func (e *Engine) Publish(event Event) error {
	e.mu.RLock()
	subs := e.subscribers[event.Name]
	e.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(event); err != nil {
			return fmt.Errorf("event %s: %w", event.Name, err)
		}
	}
	return nil
}
