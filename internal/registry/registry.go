package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/storage-tray/diskmirror/internal/device"
	"github.com/storage-tray/diskmirror/logger"
)

// Registry owns the mapping from device identifier to its latest snapshot.
// Once an identifier has been observed it never silently disappears: removal
// converts the entry to an explicit invalid marker so callers holding a
// reference still resolve to a terminal "not present" state.
//
// All mutation happens on the daemon dispatch path; the lock only guards
// concurrent readers (event handlers, external queries).
type Registry struct {
	source  device.Source
	mu      sync.RWMutex
	devices map[device.ID]*device.Snapshot
}

// New creates an empty registry backed by the given live source.
func New(source device.Source) *Registry {
	return &Registry{
		source:  source,
		devices: make(map[device.ID]*device.Snapshot),
	}
}

// Get returns the current snapshot for id. The second return is false only
// if the identifier has never been observed; an invalidated device still
// returns its marker snapshot.
func (r *Registry) Get(id device.ID) (*device.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.devices[id]
	return snap, ok
}

// List returns the snapshots of all currently valid devices.
func (r *Registry) List() []*device.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*device.Snapshot
	for _, snap := range r.devices {
		if snap.Valid {
			out = append(out, snap)
		}
	}
	return out
}

// Update fetches the live state for id and replaces the cached entry with a
// fresh snapshot. If the fetch fails, the entry is converted to an invalid
// marker, preserving prior property values when the identifier was
// previously known; an unseen identifier still gets a marker stored, so it
// is observed from then on. The new (or invalidated) snapshot is returned.
func (r *Registry) Update(ctx context.Context, id device.ID) *device.Snapshot {
	props, err := r.source.Fetch(ctx, id)
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()

		prev := r.devices[id]
		if prev != nil && !prev.Valid {
			return prev
		}
		inv := device.NewInvalidSnapshot(prev)
		inv.ID = id
		r.devices[id] = inv
		return inv
	}

	driveID := device.ResolveDrive(ctx, r.source, id, props)
	snap := device.NewSnapshot(id, props, driveID, r)

	r.mu.Lock()
	r.devices[id] = snap
	r.mu.Unlock()
	return snap
}

// Invalidate marks the entry for id invalid, preserving the last known
// property values. Invalidating an unknown or already-invalid entry is a
// no-op beyond returning the marker.
func (r *Registry) Invalidate(id device.ID) *device.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.devices[id]
	if !ok {
		return device.NewInvalidSnapshot(nil)
	}
	if !prev.Valid {
		return prev
	}
	inv := device.NewInvalidSnapshot(prev)
	r.devices[id] = inv
	return inv
}

// Resync discards the whole mapping and rebuilds it from a fresh
// enumeration. It is used once at daemon startup; a failure here leaves the
// registry unusable and must abort construction.
func (r *Registry) Resync(ctx context.Context) error {
	ids, err := r.source.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}

	devices := make(map[device.ID]*device.Snapshot, len(ids))
	for _, id := range ids {
		props, err := r.source.Fetch(ctx, id)
		if err != nil {
			// Disappeared between enumeration and fetch.
			continue
		}
		driveID := device.ResolveDrive(ctx, r.source, id, props)
		devices[id] = device.NewSnapshot(id, props, driveID, r)
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()
	return nil
}

// FindByPathOrMountPoint scans all valid devices for one whose block file or
// mount points name the given path, comparing by filesystem identity. A
// miss is not an error; it is logged and reported through the bool return.
func (r *Registry) FindByPathOrMountPoint(ctx context.Context, path string) (*device.Snapshot, bool) {
	for _, snap := range r.List() {
		if snap.MatchesPath(path) {
			return snap, true
		}
	}
	logger.FromContext(ctx).Warn().Str("path", path).Msg("Device not found")
	return nil, false
}
