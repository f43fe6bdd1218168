// Package udisks adapts the org.freedesktop.UDisks system-bus service to
// the device.Source interface and bridges its raw signals to a Listener.
package udisks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/godbus/dbus/v5"

	"github.com/storage-tray/diskmirror/internal/device"
	"github.com/storage-tray/diskmirror/logger"
)

const (
	busName          = "org.freedesktop.UDisks"
	servicePath      = dbus.ObjectPath("/org/freedesktop/UDisks")
	serviceInterface = "org.freedesktop.UDisks"
	deviceInterface  = "org.freedesktop.UDisks.Device"
	propsInterface   = "org.freedesktop.DBus.Properties"

	signalBufferSize = 64
)

// Listener receives the translated raw notifications. The daemon implements
// it; delivery happens sequentially on the signal pump goroutine.
type Listener interface {
	OnDeviceAdded(ctx context.Context, id device.ID) error
	OnDeviceRemoved(ctx context.Context, id device.ID) error
	OnDeviceChanged(ctx context.Context, id device.ID) error
	OnJobChanged(ctx context.Context, id device.ID, inProgress bool, rawKind string, initiatedByUser, isCancellable bool, percentage float64) error
}

// Source talks to the UDisks daemon over the system bus.
type Source struct {
	conn *dbus.Conn
}

// Connect opens a system-bus connection to the UDisks service.
func Connect() (*Source, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return &Source{conn: conn}, nil
}

// Close releases the bus connection.
func (s *Source) Close() error {
	return s.conn.Close()
}

func (s *Source) object(id device.ID) dbus.BusObject {
	return s.conn.Object(busName, dbus.ObjectPath(id))
}

// Enumerate returns the object paths of all devices known to the service.
func (s *Source) Enumerate(ctx context.Context) ([]device.ID, error) {
	var paths []dbus.ObjectPath
	call := s.conn.Object(busName, servicePath).CallWithContext(ctx, serviceInterface+".EnumerateDevices", 0)
	if err := call.Store(&paths); err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	ids := make([]device.ID, len(paths))
	for i, p := range paths {
		ids[i] = device.ID(p)
	}
	return ids, nil
}

// Fetch reads the full property set of one device. Any failure to read the
// properties means the object path no longer denotes a live device.
func (s *Source) Fetch(ctx context.Context, id device.ID) (device.Properties, error) {
	var raw map[string]dbus.Variant
	call := s.object(id).CallWithContext(ctx, propsInterface+".GetAll", 0, deviceInterface)
	if err := call.Store(&raw); err != nil {
		return device.Properties{}, fmt.Errorf("%w: %s", device.ErrNotPresent, id)
	}

	p := device.Properties{
		IsDrive:          getBool(raw, "DeviceIsDrive"),
		IsPartition:      getBool(raw, "DeviceIsPartition"),
		IsPartitionTable: getBool(raw, "DeviceIsPartitionTable"),
		IsLuks:           getBool(raw, "DeviceIsLuks"),
		IsLuksCleartext:  getBool(raw, "DeviceIsLuksCleartext"),
		IsMounted:        getBool(raw, "DeviceIsMounted"),
		HasMedia:         getBool(raw, "DeviceIsMediaAvailable"),
		IsSystemInternal: getBool(raw, "DeviceIsSystemInternal"),
		IsIgnored:        getBool(raw, "DevicePresentationHide"),
		IdUsage:          getString(raw, "IdUsage"),
		IdType:           getString(raw, "IdType"),
		IdLabel:          getString(raw, "IdLabel"),
		IdUUID:           getString(raw, "IdUuid"),
	}
	if p.IsDrive {
		p.IsEjectable = getBool(raw, "DriveIsMediaEjectable")
		p.IsDetachable = getBool(raw, "DriveCanDetach")
	}
	if file := getString(raw, "DeviceFile"); file != "" {
		p.DeviceFile = filepath.Clean(file)
	}
	if p.IsMounted {
		for _, mp := range getStrings(raw, "DeviceMountPaths") {
			p.MountPaths = append(p.MountPaths, filepath.Clean(mp))
		}
	}
	if p.IsPartition {
		p.PartitionSlave = getPath(raw, "PartitionSlave")
	}
	if p.IsLuksCleartext {
		p.LuksCleartextSlave = getPath(raw, "LuksCleartextSlave")
	}
	if p.IsLuks {
		p.LuksCleartextHolder = getPath(raw, "LuksHolder")
	}
	return p, nil
}

// Mount mounts the device's filesystem.
func (s *Source) Mount(ctx context.Context, id device.ID, opts device.MountOptions) error {
	fstype := opts.FSType
	if fstype == "" {
		props, err := s.Fetch(ctx, id)
		if err != nil {
			return err
		}
		fstype = props.IdType
	}
	var mountPath string
	call := s.object(id).CallWithContext(ctx, deviceInterface+".FilesystemMount", 0, fstype, opts.Options)
	if err := call.Store(&mountPath); err != nil {
		return fmt.Errorf("mounting %s: %w", id, err)
	}
	return nil
}

// Unmount unmounts the device's filesystem.
func (s *Source) Unmount(ctx context.Context, id device.ID, force bool) error {
	var opts []string
	if force {
		opts = append(opts, "force")
	}
	if err := s.object(id).CallWithContext(ctx, deviceInterface+".FilesystemUnmount", 0, opts).Err; err != nil {
		return fmt.Errorf("unmounting %s: %w", id, err)
	}
	return nil
}

// Lock locks a crypto device.
func (s *Source) Lock(ctx context.Context, id device.ID) error {
	if err := s.object(id).CallWithContext(ctx, deviceInterface+".LuksLock", 0, []string{}).Err; err != nil {
		return fmt.Errorf("locking %s: %w", id, err)
	}
	return nil
}

// Unlock opens a crypto device and returns the cleartext device's identifier.
func (s *Source) Unlock(ctx context.Context, id device.ID, passphrase string) (device.ID, error) {
	var cleartext dbus.ObjectPath
	call := s.object(id).CallWithContext(ctx, deviceInterface+".LuksUnlock", 0, passphrase, []string{})
	if err := call.Store(&cleartext); err != nil {
		return "", fmt.Errorf("unlocking %s: %w", id, err)
	}
	return device.ID(cleartext), nil
}

// Eject ejects the device's media, optionally unmounting first.
func (s *Source) Eject(ctx context.Context, id device.ID, unmount bool) error {
	var opts []string
	if unmount {
		opts = append(opts, "unmount")
	}
	if err := s.object(id).CallWithContext(ctx, deviceInterface+".DriveEject", 0, opts).Err; err != nil {
		return fmt.Errorf("ejecting %s: %w", id, err)
	}
	return nil
}

// Detach powers down the device's port.
func (s *Source) Detach(ctx context.Context, id device.ID) error {
	if err := s.object(id).CallWithContext(ctx, deviceInterface+".DriveDetach", 0, []string{}).Err; err != nil {
		return fmt.Errorf("detaching %s: %w", id, err)
	}
	return nil
}

// Run subscribes to the service's raw signals and dispatches them to the
// listener until the context is cancelled. Delivery is sequential; a
// listener error (a subscriber's own failure surfacing from the event
// engine) stops the pump.
func (s *Source) Run(ctx context.Context, listener Listener) error {
	if err := s.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchSender(busName),
		dbus.WithMatchObjectPath(servicePath),
		dbus.WithMatchInterface(serviceInterface),
	); err != nil {
		return fmt.Errorf("subscribing to device signals: %w", err)
	}

	signals := make(chan *dbus.Signal, signalBufferSize)
	s.conn.Signal(signals)
	defer s.conn.RemoveSignal(signals)

	log := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			if err := s.dispatch(ctx, listener, sig); err != nil {
				log.Error().Err(err).Str("signal", sig.Name).Msg("Signal handler failed")
				return err
			}
		}
	}
}

func (s *Source) dispatch(ctx context.Context, listener Listener, sig *dbus.Signal) error {
	switch sig.Name {
	case serviceInterface + ".DeviceAdded":
		id, ok := signalDevice(sig)
		if !ok {
			return nil
		}
		return listener.OnDeviceAdded(ctx, id)
	case serviceInterface + ".DeviceRemoved":
		id, ok := signalDevice(sig)
		if !ok {
			return nil
		}
		return listener.OnDeviceRemoved(ctx, id)
	case serviceInterface + ".DeviceChanged":
		id, ok := signalDevice(sig)
		if !ok {
			return nil
		}
		return listener.OnDeviceChanged(ctx, id)
	case serviceInterface + ".DeviceJobChanged":
		if len(sig.Body) < 6 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		inProgress, _ := sig.Body[1].(bool)
		kind, _ := sig.Body[2].(string)
		initiatedByUser, _ := sig.Body[3].(bool)
		isCancellable, _ := sig.Body[4].(bool)
		percentage, _ := sig.Body[5].(float64)
		return listener.OnJobChanged(ctx, device.ID(path), inProgress, kind, initiatedByUser, isCancellable, percentage)
	}
	return nil
}

func signalDevice(sig *dbus.Signal) (device.ID, bool) {
	if len(sig.Body) < 1 {
		return "", false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", false
	}
	return device.ID(path), true
}

func getBool(raw map[string]dbus.Variant, key string) bool {
	v, ok := raw[key].Value().(bool)
	return ok && v
}

func getString(raw map[string]dbus.Variant, key string) string {
	v, _ := raw[key].Value().(string)
	return v
}

func getStrings(raw map[string]dbus.Variant, key string) []string {
	v, _ := raw[key].Value().([]string)
	return v
}

func getPath(raw map[string]dbus.Variant, key string) device.ID {
	if p, ok := raw[key].Value().(dbus.ObjectPath); ok && p != "/" {
		return device.ID(p)
	}
	return ""
}
