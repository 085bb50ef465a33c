package nfc

import "time"

// EventType distinguishes the two presence transitions.
type EventType int

const (
	EventDetected EventType = iota + 1
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventDetected:
		return "detected"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Topic returns the per-kind topic name the event is published under in
// addition to TopicPresence.
func (t EventType) Topic() string {
	if t == EventRemoved {
		return TopicTargetRemove
	}
	return TopicTargetAdd
}

// PresenceEvent is a detected or removed transition for one reader. For removals
// Record is the last record that was present.
type PresenceEvent struct {
	Type   EventType
	Reader string
	Record *TagRecord
	Seq    uint64
	At     time.Time
	// Replay is set on Detected events synthesized from a snapshot at subscribe time.
	Replay bool
}

// Detected reports whether the event announces a newly present tag.
func (e PresenceEvent) Detected() bool {
	return e.Type == EventDetected
}
