// Package sysprobe provides a read-only device source built from the OS
// mount table, for hosts where the device-management service is not
// available. It observes mounted filesystems only; action invocations are
// rejected.
package sysprobe

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/storage-tray/diskmirror/internal/device"
)

// Source enumerates mounted partitions via gopsutil.
type Source struct {
	// allPartitions includes pseudo filesystems when true; default is
	// physical devices only.
	allPartitions bool
}

// New creates a source listing physical partitions only.
func New() *Source {
	return &Source{}
}

func (s *Source) partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, s.allPartitions)
}

// Enumerate returns the device paths of all mounted partitions.
func (s *Source) Enumerate(ctx context.Context) ([]device.ID, error) {
	parts, err := s.partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	seen := make(map[device.ID]bool, len(parts))
	var ids []device.ID
	for _, p := range parts {
		id := device.ID(p.Device)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Fetch builds a property set for one mounted partition. Devices absent
// from the mount table report ErrNotPresent, which makes an unmounted
// device indistinguishable from a removed one; this source is only suited
// to observing mounted state.
func (s *Source) Fetch(ctx context.Context, id device.ID) (device.Properties, error) {
	parts, err := s.partitions(ctx)
	if err != nil {
		return device.Properties{}, fmt.Errorf("reading mount table: %w", err)
	}

	props := device.Properties{}
	found := false
	for _, p := range parts {
		if device.ID(p.Device) != id {
			continue
		}
		if !found {
			found = true
			props.DeviceFile = filepath.Clean(p.Device)
			props.IdType = p.Fstype
			props.IdUsage = "filesystem"
			props.IsMounted = true
			props.HasMedia = true
			props.IsPartition = true
			props.IsSystemInternal = isSystemMount(p.Mountpoint)
		}
		props.MountPaths = append(props.MountPaths, filepath.Clean(p.Mountpoint))
	}
	if !found {
		return device.Properties{}, fmt.Errorf("%w: %s", device.ErrNotPresent, id)
	}
	return props, nil
}

// Mount is not supported by this source.
func (s *Source) Mount(ctx context.Context, id device.ID, opts device.MountOptions) error {
	return device.ErrReadOnly
}

// Unmount is not supported by this source.
func (s *Source) Unmount(ctx context.Context, id device.ID, force bool) error {
	return device.ErrReadOnly
}

// Lock is not supported by this source.
func (s *Source) Lock(ctx context.Context, id device.ID) error {
	return device.ErrReadOnly
}

// Unlock is not supported by this source.
func (s *Source) Unlock(ctx context.Context, id device.ID, passphrase string) (device.ID, error) {
	return "", device.ErrReadOnly
}

// Eject is not supported by this source.
func (s *Source) Eject(ctx context.Context, id device.ID, unmount bool) error {
	return device.ErrReadOnly
}

// Detach is not supported by this source.
func (s *Source) Detach(ctx context.Context, id device.ID) error {
	return device.ErrReadOnly
}

func isSystemMount(mountpoint string) bool {
	if mountpoint == "/" {
		return true
	}
	for _, prefix := range []string{"/boot", "/usr", "/var", "/home", "/nix"} {
		if mountpoint == prefix || strings.HasPrefix(mountpoint, prefix+"/") {
			return true
		}
	}
	return false
}
