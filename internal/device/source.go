package device

import (
	"context"
	"errors"
)

// ErrNotPresent is returned by Fetch when the identifier denotes no current
// live object. Callers treat it as the normal absence signal, not a fault.
var ErrNotPresent = errors.New("device not present")

// ErrReadOnly is returned by sources that can observe devices but cannot
// invoke actions on them.
var ErrReadOnly = errors.New("source is read-only")

// MountOptions carries the optional parameters of a mount invocation.
type MountOptions struct {
	FSType  string
	Options []string
}

// Source is the live device collaborator. It answers always-fresh property
// reads and invokes device actions. Fetch failing with ErrNotPresent is how
// device removal is detected.
type Source interface {
	// Enumerate returns the identifiers of all devices currently known to
	// the service.
	Enumerate(ctx context.Context) ([]ID, error)

	// Fetch reads the current property set for id.
	Fetch(ctx context.Context, id ID) (Properties, error)

	Mount(ctx context.Context, id ID, opts MountOptions) error
	Unmount(ctx context.Context, id ID, force bool) error
	Lock(ctx context.Context, id ID) error
	// Unlock opens a crypto device and returns the identifier of the
	// resulting cleartext device.
	Unlock(ctx context.Context, id ID, passphrase string) (ID, error)
	Eject(ctx context.Context, id ID, unmount bool) error
	Detach(ctx context.Context, id ID) error
}

// ResolveDrive chases partition and cleartext slave links to the drive that
// owns the device with the given properties. A device that is neither a
// partition nor a cleartext device is its own drive.
func ResolveDrive(ctx context.Context, src Source, id ID, props Properties) ID {
	seen := map[ID]bool{}
	for {
		if seen[id] {
			return id
		}
		seen[id] = true

		var next ID
		switch {
		case props.IsPartition && props.PartitionSlave != "":
			next = props.PartitionSlave
		case props.IsLuksCleartext && props.LuksCleartextSlave != "":
			next = props.LuksCleartextSlave
		default:
			return id
		}

		nextProps, err := src.Fetch(ctx, next)
		if err != nil {
			return next
		}
		id, props = next, nextProps
	}
}
