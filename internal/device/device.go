package device

import (
	"os"
	"path/filepath"
)

// ID is the opaque, stable identifier the device service assigns to a
// device for its lifetime. It is the cache key everywhere in this module.
type ID string

// Properties is the closed set of scalar device attributes read from the
// live source. The field list is fixed; snapshots copy it by value.
type Properties struct {
	IsDrive          bool
	IsPartition      bool
	IsPartitionTable bool
	IsLuks           bool
	IsLuksCleartext  bool
	IsMounted        bool
	HasMedia         bool
	IsEjectable      bool
	IsDetachable     bool
	IsSystemInternal bool
	IsIgnored        bool

	IdUsage    string
	IdType     string
	IdLabel    string
	IdUUID     string
	DeviceFile string
	MountPaths []string

	// Relations are carried as identifiers, never as materialized devices.
	PartitionSlave      ID
	LuksCleartextSlave  ID
	LuksCleartextHolder ID
}

// IsFilesystem reports whether the device holds a mountable filesystem.
func (p Properties) IsFilesystem() bool {
	return p.IdUsage == "filesystem"
}

// IsCrypto reports whether the device is a crypto container.
func (p Properties) IsCrypto() bool {
	return p.IdUsage == "crypto"
}

// IsExternal reports whether the device is not system internal.
func (p Properties) IsExternal() bool {
	return !p.IsSystemInternal
}

// IsUnlocked reports whether a LUKS device currently has a cleartext holder.
func (p Properties) IsUnlocked() bool {
	return p.IsLuks && p.LuksCleartextHolder != ""
}

// Resolver looks up the current snapshot for an identifier. The registry
// implements it; snapshots hold it so relational accessors always read the
// registry state at access time rather than the state at snapshot time.
type Resolver interface {
	Get(id ID) (*Snapshot, bool)
}

// Snapshot is the cached view of one device at a point in time. Scalar
// properties are frozen at construction; relational accessors are
// late-bound through the resolver. A snapshot is never mutated after
// construction, updates replace it with a new one.
type Snapshot struct {
	ID    ID
	Valid bool
	Properties

	// DriveID names the drive that owns this device, resolved by chasing
	// partition and cleartext slaves at snapshot time.
	DriveID ID

	resolver Resolver
}

// NewSnapshot builds a valid snapshot from a fetched property set.
func NewSnapshot(id ID, props Properties, driveID ID, resolver Resolver) *Snapshot {
	return &Snapshot{
		ID:         id,
		Valid:      true,
		Properties: props,
		DriveID:    driveID,
		resolver:   resolver,
	}
}

// NewInvalidSnapshot builds a terminal marker for a device that disappeared,
// preserving the last known property values.
func NewInvalidSnapshot(prev *Snapshot) *Snapshot {
	if prev == nil {
		return &Snapshot{Valid: false}
	}
	inv := *prev
	inv.Valid = false
	return &inv
}

func (s *Snapshot) resolve(id ID) *Snapshot {
	if s.resolver == nil || id == "" {
		return nil
	}
	dev, ok := s.resolver.Get(id)
	if !ok {
		return nil
	}
	return dev
}

// Drive returns the current snapshot of the drive owning this device.
func (s *Snapshot) Drive() *Snapshot { return s.resolve(s.DriveID) }

// PartitionSlaveDevice returns the current snapshot of the partition container.
func (s *Snapshot) PartitionSlaveDevice() *Snapshot { return s.resolve(s.PartitionSlave) }

// LuksCleartextSlaveDevice returns the current snapshot of the crypto backing device.
func (s *Snapshot) LuksCleartextSlaveDevice() *Snapshot { return s.resolve(s.LuksCleartextSlave) }

// LuksCleartextHolderDevice returns the current snapshot of the unlocked cleartext device.
func (s *Snapshot) LuksCleartextHolderDevice() *Snapshot { return s.resolve(s.LuksCleartextHolder) }

// MatchesPath reports whether path names this device's block file or one of
// its mount points. Paths are compared by filesystem identity where both
// sides can be resolved, falling back to cleaned-path equality.
func (s *Snapshot) MatchesPath(path string) bool {
	if samePath(path, s.DeviceFile) {
		return true
	}
	for _, mp := range s.MountPaths {
		if samePath(path, mp) {
			return true
		}
	}
	return false
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ai, bi)
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
