package jobs

import "github.com/storage-tray/diskmirror/internal/device"

// Action is one of the six semantic operations a tracked job can represent.
type Action string

const (
	ActionMount   Action = "mount"
	ActionUnmount Action = "unmount"
	ActionUnlock  Action = "unlock"
	ActionLock    Action = "lock"
	ActionEject   Action = "eject"
	ActionDetach  Action = "detach"
)

// Actions lists every tracked action.
var Actions = []Action{
	ActionMount, ActionUnmount, ActionUnlock,
	ActionLock, ActionEject, ActionDetach,
}

// actionByJobKind maps the raw job kinds reported by the device service to
// semantic actions. Kinds outside this table are deliberately ignored; the
// service reports operations beyond the tracked set.
var actionByJobKind = map[string]Action{
	"FilesystemMount":   ActionMount,
	"FilesystemUnmount": ActionUnmount,
	"LuksUnlock":        ActionUnlock,
	"LuksLock":          ActionLock,
	"DriveEject":        ActionEject,
	"DriveDetach":       ActionDetach,
}

// ActionForJobKind resolves a raw job kind to its action.
func ActionForJobKind(kind string) (Action, bool) {
	action, ok := actionByJobKind[kind]
	return action, ok
}

// eventStems maps each action to the stem of the event name it produces;
// "ing" and "ed" suffixes select the progress and completion variants.
var eventStems = map[Action]string{
	ActionMount:   "device_mount",
	ActionUnmount: "device_unmount",
	ActionUnlock:  "device_unlock",
	ActionLock:    "device_lock",
	ActionEject:   "media_remov",
	ActionDetach:  "device_remov",
}

// EventStem returns the event-name stem for the action.
func (a Action) EventStem() string { return eventStems[a] }

// successPredicates decide job outcome from the post-job snapshot. The
// notification's own success flag is not trusted; outcome is determined by
// inspecting the state the operation should have produced. A nil or invalid
// snapshot counts as absent.
var successPredicates = map[Action]func(snap *device.Snapshot) bool{
	ActionMount:   func(s *device.Snapshot) bool { return present(s) && s.IsMounted },
	ActionUnmount: func(s *device.Snapshot) bool { return !present(s) || !s.IsMounted },
	ActionUnlock:  func(s *device.Snapshot) bool { return present(s) && s.IsUnlocked() },
	ActionLock:    func(s *device.Snapshot) bool { return !present(s) || !s.IsUnlocked() },
	ActionEject:   func(s *device.Snapshot) bool { return !present(s) || !s.HasMedia },
	ActionDetach:  func(s *device.Snapshot) bool { return !present(s) },
}

// Succeeded evaluates the action's success predicate against the post-job
// snapshot.
func (a Action) Succeeded(snap *device.Snapshot) bool {
	return successPredicates[a](snap)
}

func present(s *device.Snapshot) bool {
	return s != nil && s.Valid
}
