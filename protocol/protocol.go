// Package protocol provides the wire types of the presence agent's WebSocket
// and HTTP APIs. It has no dependency on the nfc package so clients can import
// it without linking libnfc.
package protocol

import "time"

// Event topics a client can subscribe to.
const (
	TopicPresence     = "presence"
	TopicTargetAdd    = "on-nfc-target-add"
	TopicTargetRemove = "on-nfc-target-remove"
)

// Event status values.
const (
	StatusDetected = "detected"
	StatusRemoved  = "removed"
)

// Error codes carried in error responses.
const (
	ErrCodeParseError     = "PARSE_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnknownTopic   = "UNKNOWN_TOPIC"
	ErrCodeNoReaders      = "NO_READERS"
	ErrCodeStartFailed    = "START_FAILED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// RecordPayload is a tag record as sent to clients: "Type" holds the tag kind
// and every other key a field name mapped to lowercase hex.
type RecordPayload map[string]string

// EventPayload is the payload of an "event" message.
type EventPayload struct {
	Event  string        `json:"event"`
	Status string        `json:"status"`
	Reader string        `json:"reader"`
	Record RecordPayload `json:"record"`
	Family string        `json:"family,omitempty"`
	Seq    uint64        `json:"seq"`
	At     time.Time     `json:"at"`
	Replay bool          `json:"replay,omitempty"`
}

// CapabilityPayload is one modulation/baud-rate pair of a reader.
type CapabilityPayload struct {
	Modulation string `json:"modulation"`
	BaudRate   string `json:"baudRate"`
}

// ReaderStats mirrors the poll loop counters of a reader.
type ReaderStats struct {
	Cycles          uint64 `json:"cycles"`
	Detections      uint64 `json:"detections"`
	Removals        uint64 `json:"removals"`
	TransientErrors uint64 `json:"transientErrors"`
	ConfigErrors    uint64 `json:"configErrors"`
	Unsupported     uint64 `json:"unsupported"`
	Reacquisitions  uint64 `json:"reacquisitions"`
}

// ReaderPayload describes one reader in list-devices responses and the health view.
type ReaderPayload struct {
	ID           string              `json:"id"`
	Name         string              `json:"name,omitempty"`
	State        string              `json:"state"`
	Capabilities []CapabilityPayload `json:"capabilities,omitempty"`
	Present      RecordPayload       `json:"present,omitempty"`
	Stats        *ReaderStats        `json:"stats,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Driver    string          `json:"driver,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Readers   []ReaderPayload `json:"readers"`
}
