package ledger

import "fmt"

// EventKind is the lifecycle marker stored in the event journal. The integer
// values are part of the on-disk format and must not be reordered.
type EventKind int

const (
	Running EventKind = iota
	Started
	Stopped
	Suspended
	Resumed
)

var eventKindNames = map[EventKind]string{
	Running:   "running",
	Started:   "started",
	Stopped:   "stopped",
	Suspended: "suspended",
	Resumed:   "resumed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// IsHeartbeat reports whether rows of this kind are replaced wholesale on
// every heartbeat instead of accumulating as history.
func (k EventKind) IsHeartbeat() bool {
	return k == Running
}

// IsMarker reports whether the kind is a global marker written once per
// running application.
func (k EventKind) IsMarker() bool {
	return k == Suspended || k == Resumed
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	_, ok := eventKindNames[k]
	return ok
}
