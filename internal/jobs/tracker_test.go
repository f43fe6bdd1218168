package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storage-tray/diskmirror/internal/device"
)

func validSnapshot(props device.Properties) *device.Snapshot {
	return device.NewSnapshot("/devices/sdb1", props, "/devices/sdb", nil)
}

func TestActionForJobKind(t *testing.T) {
	tests := []struct {
		kind   string
		action Action
		known  bool
	}{
		{"FilesystemMount", ActionMount, true},
		{"FilesystemUnmount", ActionUnmount, true},
		{"LuksUnlock", ActionUnlock, true},
		{"LuksLock", ActionLock, true},
		{"DriveEject", ActionEject, true},
		{"DriveDetach", ActionDetach, true},
		{"FilesystemCheck", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			action, ok := ActionForJobKind(tt.kind)
			require.Equal(t, tt.known, ok)
			if tt.known {
				require.Equal(t, tt.action, action)
			}
		})
	}
}

func TestAction_EventStem(t *testing.T) {
	require.Equal(t, "device_mount", ActionMount.EventStem())
	require.Equal(t, "device_unmount", ActionUnmount.EventStem())
	require.Equal(t, "device_unlock", ActionUnlock.EventStem())
	require.Equal(t, "device_lock", ActionLock.EventStem())
	require.Equal(t, "media_remov", ActionEject.EventStem())
	require.Equal(t, "device_remov", ActionDetach.EventStem())
}

func TestAction_Succeeded(t *testing.T) {
	mounted := validSnapshot(device.Properties{IsMounted: true})
	unmounted := validSnapshot(device.Properties{})
	unlocked := validSnapshot(device.Properties{IsLuks: true, LuksCleartextHolder: "/devices/dm-1"})
	locked := validSnapshot(device.Properties{IsLuks: true})
	withMedia := validSnapshot(device.Properties{HasMedia: true})
	invalid := device.NewInvalidSnapshot(mounted)

	tests := []struct {
		name   string
		action Action
		snap   *device.Snapshot
		want   bool
	}{
		{"mount succeeded when mounted", ActionMount, mounted, true},
		{"mount failed when not mounted", ActionMount, unmounted, false},
		{"mount failed when absent", ActionMount, nil, false},
		{"unmount succeeded when not mounted", ActionUnmount, unmounted, true},
		{"unmount succeeded when absent", ActionUnmount, nil, true},
		{"unmount succeeded when invalid", ActionUnmount, invalid, true},
		{"unmount failed when still mounted", ActionUnmount, mounted, false},
		{"unlock succeeded with holder", ActionUnlock, unlocked, true},
		{"unlock failed without holder", ActionUnlock, locked, false},
		{"unlock failed when absent", ActionUnlock, nil, false},
		{"lock succeeded without holder", ActionLock, locked, true},
		{"lock succeeded when absent", ActionLock, nil, true},
		{"lock failed with holder", ActionLock, unlocked, false},
		{"eject succeeded without media", ActionEject, unmounted, true},
		{"eject succeeded when absent", ActionEject, nil, true},
		{"eject failed with media", ActionEject, withMedia, false},
		{"detach succeeded when absent", ActionDetach, nil, true},
		{"detach succeeded when invalid", ActionDetach, invalid, true},
		{"detach failed while present", ActionDetach, unmounted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.action.Succeeded(tt.snap))
		})
	}
}

func TestOnJobChanged_StartAndProgress(t *testing.T) {
	tr := NewTracker()

	out := tr.OnJobChanged("/devices/sdb1", true, "FilesystemMount", 0, nil)
	require.Equal(t, OutcomeStarted, out.Kind)
	require.Equal(t, ActionMount, out.Action)
	require.Equal(t, 0.0, out.Percentage)
	require.Len(t, tr.InFlight(), 1)

	out = tr.OnJobChanged("/devices/sdb1", true, "FilesystemMount", 42, nil)
	require.Equal(t, OutcomeStarted, out.Kind)
	require.Equal(t, 42.0, out.Percentage)
	require.Len(t, tr.InFlight(), 1)
}

func TestOnJobChanged_SuccessRemovesJob(t *testing.T) {
	tr := NewTracker()
	tr.OnJobChanged("/devices/sdb1", true, "FilesystemMount", 0, nil)

	out := tr.OnJobChanged("/devices/sdb1", false, "FilesystemMount", 100,
		validSnapshot(device.Properties{IsMounted: true}))
	require.Equal(t, OutcomeSucceeded, out.Kind)
	require.Equal(t, ActionMount, out.Action)
	require.Empty(t, tr.InFlight())
}

func TestOnJobChanged_FailureRemovesJobAndConsumesError(t *testing.T) {
	tr := NewTracker()
	tr.SetError("/devices/sdb1", ActionUnmount, "target is busy")
	tr.OnJobChanged("/devices/sdb1", true, "FilesystemUnmount", 0, nil)

	out := tr.OnJobChanged("/devices/sdb1", false, "FilesystemUnmount", 0,
		validSnapshot(device.Properties{IsMounted: true}))
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, ActionUnmount, out.Action)
	require.Equal(t, "target is busy", out.Message)
	require.Empty(t, tr.InFlight())

	// Consumption is exactly-once.
	require.Empty(t, tr.PendingError("/devices/sdb1", ActionUnmount))
}

func TestOnJobChanged_TerminalWithoutKindUsesRecordedJob(t *testing.T) {
	tr := NewTracker()
	tr.OnJobChanged("/devices/sdb1", true, "LuksUnlock", 0, nil)

	// The terminal notification omits the kind, a known quality hazard.
	out := tr.OnJobChanged("/devices/sdb1", false, "", 0,
		validSnapshot(device.Properties{IsLuks: true, LuksCleartextHolder: "/devices/dm-1"}))
	require.Equal(t, OutcomeSucceeded, out.Kind)
	require.Equal(t, ActionUnlock, out.Action)
}

func TestOnJobChanged_UnknownKindIgnored(t *testing.T) {
	tr := NewTracker()

	out := tr.OnJobChanged("/devices/sdb1", true, "FilesystemCheck", 10, nil)
	require.Equal(t, OutcomeIgnored, out.Kind)
	require.Empty(t, tr.InFlight())

	out = tr.OnJobChanged("/devices/sdb1", false, "FilesystemCheck", 0, nil)
	require.Equal(t, OutcomeIgnored, out.Kind)
}

func TestSetError_PerActionSlots(t *testing.T) {
	tr := NewTracker()
	tr.SetError("/devices/sdb1", ActionMount, "mount says no")
	tr.SetError("/devices/sdb1", ActionUnmount, "unmount says no")

	require.Equal(t, "mount says no", tr.PendingError("/devices/sdb1", ActionMount))
	require.Equal(t, "unmount says no", tr.PendingError("/devices/sdb1", ActionUnmount))
	require.Empty(t, tr.PendingError("/devices/sdc", ActionMount))
}
