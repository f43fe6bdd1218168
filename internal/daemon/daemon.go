package daemon

import (
	"context"
	"fmt"

	"github.com/storage-tray/diskmirror/internal/device"
	"github.com/storage-tray/diskmirror/internal/events"
	"github.com/storage-tray/diskmirror/internal/jobs"
	"github.com/storage-tray/diskmirror/internal/metrics"
	"github.com/storage-tray/diskmirror/internal/registry"
	"github.com/storage-tray/diskmirror/logger"
)

// Daemon mirrors the device service's state and translates its raw
// notifications into semantic events. It owns the registry, the job tracker
// and the event engine; all mutation happens on the notification dispatch
// path, which the delivery collaborator is expected to drive sequentially.
type Daemon struct {
	source   device.Source
	registry *registry.Registry
	tracker  *jobs.Tracker
	engine   *events.Engine
}

// New constructs a daemon and takes the initial full snapshot of all
// devices. A resync failure is fatal: the daemon must not start in an
// unknown state.
func New(ctx context.Context, source device.Source) (*Daemon, error) {
	d := &Daemon{
		source:   source,
		registry: registry.New(source),
		tracker:  jobs.NewTracker(),
		engine:   events.NewEngine(),
	}
	if err := d.registry.Resync(ctx); err != nil {
		return nil, fmt.Errorf("initial device sync: %w", err)
	}
	metrics.ValidDevices.Set(float64(len(d.registry.List())))
	return d, nil
}

// Subscribe registers a handler for the named event.
func (d *Daemon) Subscribe(name string, handler events.Handler) events.Subscription {
	return d.engine.Subscribe(name, handler)
}

// Unsubscribe removes a previously registered handler.
func (d *Daemon) Unsubscribe(sub events.Subscription) {
	d.engine.Unsubscribe(sub)
}

// Source returns the live source, for callers initiating device actions.
// Such callers typically pair the invocation with SetError so a later
// failure of the resulting job carries an explanation.
func (d *Daemon) Source() device.Source {
	return d.source
}

// Get returns the cached snapshot for id.
func (d *Daemon) Get(id device.ID) (*device.Snapshot, bool) {
	return d.registry.Get(id)
}

// List returns all currently valid devices.
func (d *Daemon) List() []*device.Snapshot {
	return d.registry.List()
}

// FindByPathOrMountPoint looks a device up by block file or mount point.
func (d *Daemon) FindByPathOrMountPoint(ctx context.Context, path string) (*device.Snapshot, bool) {
	return d.registry.FindByPathOrMountPoint(ctx, path)
}

// SetError queues an explanatory message to surface if the next job of the
// given action fails for the device.
func (d *Daemon) SetError(id device.ID, action jobs.Action, message string) {
	d.tracker.SetError(id, action, message)
}

// Jobs returns the currently tracked in-flight jobs.
func (d *Daemon) Jobs() map[device.ID]jobs.Job {
	return d.tracker.InFlight()
}

// JobTracker exposes the tracker for the stale-job monitor.
func (d *Daemon) JobTracker() *jobs.Tracker {
	return d.tracker
}

func (d *Daemon) publish(event events.Event) error {
	metrics.EventsPublished.WithLabelValues(event.Name).Inc()
	return d.engine.Publish(event)
}

// OnDeviceAdded handles the raw device-added notification.
func (d *Daemon) OnDeviceAdded(ctx context.Context, id device.ID) error {
	snap := d.registry.Update(ctx, id)
	metrics.ValidDevices.Set(float64(len(d.registry.List())))
	logger.FromContext(ctx).Debug().Str("device", string(id)).Msg("Device added")
	return d.publish(events.Event{Name: events.DeviceAdded, Device: snap})
}

// OnDeviceRemoved handles the raw device-removed notification. The entry is
// invalidated, not deleted, and the event carries the last known state.
func (d *Daemon) OnDeviceRemoved(ctx context.Context, id device.ID) error {
	old := d.registry.Invalidate(id)
	metrics.ValidDevices.Set(float64(len(d.registry.List())))
	logger.FromContext(ctx).Debug().Str("device", string(id)).Msg("Device removed")
	return d.publish(events.Event{Name: events.DeviceRemoved, Device: old})
}

// OnDeviceChanged handles the raw device-changed notification. It diffs the
// old and new snapshots and additionally publishes media presence events
// when has-media flipped, after the change event.
func (d *Daemon) OnDeviceChanged(ctx context.Context, id device.ID) error {
	old, known := d.registry.Get(id)
	snap := d.registry.Update(ctx, id)
	metrics.ValidDevices.Set(float64(len(d.registry.List())))

	if err := d.publish(events.Event{Name: events.DeviceChanged, Old: old, Device: snap}); err != nil {
		return err
	}
	if !known {
		return nil
	}
	if snap.HasMedia && !old.HasMedia {
		return d.publish(events.Event{Name: events.MediaAdded, Device: snap})
	}
	if old.HasMedia && !snap.HasMedia {
		return d.publish(events.Event{Name: events.MediaRemoved, Device: snap})
	}
	return nil
}

// OnJobChanged handles the raw job-progress notification. For terminal
// notifications the registry entry is refreshed first so the job tracker's
// success predicate sees post-operation state rather than trusting the
// notification itself.
func (d *Daemon) OnJobChanged(ctx context.Context, id device.ID, inProgress bool, rawKind string, initiatedByUser, isCancellable bool, percentage float64) error {
	log := logger.FromContext(ctx)

	var snap *device.Snapshot
	if inProgress {
		snap, _ = d.registry.Get(id)
	} else {
		snap = d.registry.Update(ctx, id)
		metrics.ValidDevices.Set(float64(len(d.registry.List())))
	}

	outcome := d.tracker.OnJobChanged(id, inProgress, rawKind, percentage, snap)
	metrics.JobsInFlight.Set(float64(len(d.tracker.InFlight())))

	switch outcome.Kind {
	case jobs.OutcomeIgnored:
		return nil
	case jobs.OutcomeStarted:
		return d.publish(events.Event{
			Name:       outcome.Action.EventStem() + "ing",
			Device:     snap,
			Percentage: outcome.Percentage,
		})
	case jobs.OutcomeSucceeded:
		return d.publish(events.Event{
			Name:   outcome.Action.EventStem() + "ed",
			Device: snap,
		})
	default:
		log.Info().
			Str("device", string(id)).
			Str("action", string(outcome.Action)).
			Msg("Device operation failed")
		metrics.JobFailures.WithLabelValues(string(outcome.Action)).Inc()
		return d.publish(events.Event{
			Name:    events.JobFailed,
			Device:  snap,
			Action:  "device_" + string(outcome.Action),
			Message: outcome.Message,
		})
	}
}
