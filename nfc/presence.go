package nfc

import (
	"sync"
	"time"
)

// PresenceSlot holds the tag currently present on one reader, if any.
// Only the reader's Poller mutates it; any goroutine may take a Snapshot.
type PresenceSlot struct {
	reader  string
	current *TagRecord
	since   time.Time
	seq     uint64
	clock   Clock
	mu      sync.RWMutex
}

// NewPresenceSlot creates an empty slot for the given reader.
func NewPresenceSlot(reader string, clock Clock) *PresenceSlot {
	if clock == nil {
		clock = NewRealClock()
	}
	return &PresenceSlot{reader: reader, clock: clock}
}

// CompareAndSet stores next as the present tag and returns the transitions this
// caused, in order:
//
//	nil over nil          -> none
//	nil over old          -> Removed(old)
//	t over nil            -> Detected(t)
//	t over old, t != old  -> Removed(old), Detected(t)
//	t over t              -> none
func (s *PresenceSlot) CompareAndSet(next *TagRecord) []PresenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current
	if next.Equal(old) {
		return nil
	}

	now := s.clock.Now()
	var events []PresenceEvent
	if old != nil {
		events = append(events, s.event(EventRemoved, old, now))
	}
	if next != nil {
		events = append(events, s.event(EventDetected, next, now))
		s.since = now
	} else {
		s.since = time.Time{}
	}
	s.current = next
	return events
}

// Clear empties the slot, returning the synthesized Removed event if a tag was present.
func (s *PresenceSlot) Clear() []PresenceEvent {
	return s.CompareAndSet(nil)
}

func (s *PresenceSlot) event(t EventType, rec *TagRecord, at time.Time) PresenceEvent {
	s.seq++
	return PresenceEvent{Type: t, Reader: s.reader, Record: rec, Seq: s.seq, At: at}
}

// Snapshot returns the present tag, or nil.
func (s *PresenceSlot) Snapshot() *TagRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Since returns when the present tag was first detected. Zero when empty.
func (s *PresenceSlot) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.since
}

// Reader returns the reader this slot belongs to.
func (s *PresenceSlot) Reader() string {
	return s.reader
}
