package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storage-tray/diskmirror/internal/device"
)

type fakeSource struct {
	devices      map[device.ID]device.Properties
	enumerateErr error
}

func (f *fakeSource) Enumerate(ctx context.Context) ([]device.ID, error) {
	if f.enumerateErr != nil {
		return nil, f.enumerateErr
	}
	ids := make([]device.ID, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) Fetch(ctx context.Context, id device.ID) (device.Properties, error) {
	props, ok := f.devices[id]
	if !ok {
		return device.Properties{}, device.ErrNotPresent
	}
	return props, nil
}

func (f *fakeSource) Mount(ctx context.Context, id device.ID, opts device.MountOptions) error {
	return nil
}
func (f *fakeSource) Unmount(ctx context.Context, id device.ID, force bool) error { return nil }
func (f *fakeSource) Lock(ctx context.Context, id device.ID) error                { return nil }
func (f *fakeSource) Unlock(ctx context.Context, id device.ID, passphrase string) (device.ID, error) {
	return "", nil
}
func (f *fakeSource) Eject(ctx context.Context, id device.ID, unmount bool) error { return nil }
func (f *fakeSource) Detach(ctx context.Context, id device.ID) error              { return nil }

func TestUpdate_ThenGetReturnsSameSnapshot(t *testing.T) {
	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {IsMounted: false, DeviceFile: "/dev/sdb1"},
	}}
	reg := New(src)
	ctx := context.Background()

	snap := reg.Update(ctx, "/devices/sdb1")
	require.True(t, snap.Valid)

	got, ok := reg.Get("/devices/sdb1")
	require.True(t, ok)
	require.Same(t, snap, got)

	// A later update supersedes without mutating the old snapshot.
	src.devices["/devices/sdb1"] = device.Properties{IsMounted: true, DeviceFile: "/dev/sdb1"}
	next := reg.Update(ctx, "/devices/sdb1")
	require.NotSame(t, snap, next)
	require.False(t, snap.IsMounted)
	require.True(t, next.IsMounted)

	got, ok = reg.Get("/devices/sdb1")
	require.True(t, ok)
	require.Same(t, next, got)
}

func TestGet_NeverSeen(t *testing.T) {
	reg := New(&fakeSource{devices: map[device.ID]device.Properties{}})
	snap, ok := reg.Get("/devices/unknown")
	require.False(t, ok)
	require.Nil(t, snap)
}

func TestUpdate_FetchFailureOfKnownDeviceInvalidates(t *testing.T) {
	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {IsMounted: true, IdLabel: "BACKUP"},
	}}
	reg := New(src)
	ctx := context.Background()

	reg.Update(ctx, "/devices/sdb1")
	delete(src.devices, "/devices/sdb1")

	snap := reg.Update(ctx, "/devices/sdb1")
	require.False(t, snap.Valid)
	// Prior scalar values survive on the marker.
	require.True(t, snap.IsMounted)
	require.Equal(t, "BACKUP", snap.IdLabel)

	// The marker is returned from the registry, not absence.
	got, ok := reg.Get("/devices/sdb1")
	require.True(t, ok)
	require.False(t, got.Valid)
}

func TestUpdate_FetchFailureOfUnknownDeviceStoresMarker(t *testing.T) {
	reg := New(&fakeSource{devices: map[device.ID]device.Properties{}})

	snap := reg.Update(context.Background(), "/devices/ghost")
	require.False(t, snap.Valid)
	require.Equal(t, device.ID("/devices/ghost"), snap.ID)

	// Once an identifier has been seen, the registry keeps a marker for it
	// even when the state could never be read.
	got, ok := reg.Get("/devices/ghost")
	require.True(t, ok)
	require.Same(t, snap, got)
	require.Empty(t, reg.List())

	// Repeated failures keep returning the same marker.
	again := reg.Update(context.Background(), "/devices/ghost")
	require.Same(t, snap, again)
}

func TestInvalidate_Idempotent(t *testing.T) {
	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {IdLabel: "BACKUP"},
	}}
	reg := New(src)
	reg.Update(context.Background(), "/devices/sdb1")

	first := reg.Invalidate("/devices/sdb1")
	require.False(t, first.Valid)

	second := reg.Invalidate("/devices/sdb1")
	require.Same(t, first, second)
}

func TestInvalidate_PreservesCapturedSnapshot(t *testing.T) {
	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {IsMounted: true},
	}}
	reg := New(src)
	captured := reg.Update(context.Background(), "/devices/sdb1")

	reg.Invalidate("/devices/sdb1")

	// The caller's reference keeps its old field values and validity.
	require.True(t, captured.Valid)
	require.True(t, captured.IsMounted)
}

func TestList_OnlyValidDevices(t *testing.T) {
	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {},
		"/devices/sdc":  {},
	}}
	reg := New(src)
	ctx := context.Background()
	require.NoError(t, reg.Resync(ctx))
	require.Len(t, reg.List(), 2)

	reg.Invalidate("/devices/sdc")
	list := reg.List()
	require.Len(t, list, 1)
	require.Equal(t, device.ID("/devices/sdb1"), list[0].ID)
}

func TestResync_FailurePropagates(t *testing.T) {
	reg := New(&fakeSource{enumerateErr: errors.New("bus unavailable")})
	err := reg.Resync(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "bus unavailable")
}

func TestResync_DropsStaleEntries(t *testing.T) {
	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {},
	}}
	reg := New(src)
	ctx := context.Background()
	require.NoError(t, reg.Resync(ctx))

	delete(src.devices, "/devices/sdb1")
	src.devices["/devices/sdc1"] = device.Properties{}
	require.NoError(t, reg.Resync(ctx))

	_, ok := reg.Get("/devices/sdb1")
	require.False(t, ok)
	_, ok = reg.Get("/devices/sdc1")
	require.True(t, ok)
}

func TestFindByPathOrMountPoint(t *testing.T) {
	dir := t.TempDir()
	devFile := filepath.Join(dir, "sdb1")
	mountPoint := filepath.Join(dir, "mnt")
	require.NoError(t, os.WriteFile(devFile, nil, 0o600))
	require.NoError(t, os.Mkdir(mountPoint, 0o755))

	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {DeviceFile: devFile, MountPaths: []string{mountPoint}},
	}}
	reg := New(src)
	ctx := context.Background()
	require.NoError(t, reg.Resync(ctx))

	snap, ok := reg.FindByPathOrMountPoint(ctx, mountPoint)
	require.True(t, ok)
	require.Equal(t, device.ID("/devices/sdb1"), snap.ID)

	snap, ok = reg.FindByPathOrMountPoint(ctx, devFile)
	require.True(t, ok)
	require.Equal(t, device.ID("/devices/sdb1"), snap.ID)

	snap, ok = reg.FindByPathOrMountPoint(ctx, filepath.Join(dir, "nope"))
	require.False(t, ok)
	require.Nil(t, snap)
}

func TestFindByPathOrMountPoint_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	devFile := filepath.Join(dir, "sdb1")
	require.NoError(t, os.WriteFile(devFile, nil, 0o600))

	src := &fakeSource{devices: map[device.ID]device.Properties{
		"/devices/sdb1": {DeviceFile: devFile},
	}}
	reg := New(src)
	ctx := context.Background()
	require.NoError(t, reg.Resync(ctx))
	reg.Invalidate("/devices/sdb1")

	_, ok := reg.FindByPathOrMountPoint(ctx, devFile)
	require.False(t, ok)
}
