package protocol

import (
	"fmt"
	"strings"
)

// ParseTopic validates and normalizes an event topic name.
func ParseTopic(event string) (string, error) {
	topic := strings.ToLower(strings.TrimSpace(event))
	switch topic {
	case TopicPresence, TopicTargetAdd, TopicTargetRemove:
		return topic, nil
	case "":
		return "", fmt.Errorf("missing event topic")
	default:
		return "", fmt.Errorf("unknown event topic: %s", event)
	}
}

// NewRecordPayload builds a RecordPayload from a kind and hex-encoded fields.
func NewRecordPayload(kind string, fields map[string]string) RecordPayload {
	p := make(RecordPayload, len(fields)+1)
	for name, value := range fields {
		p[name] = value
	}
	p["Type"] = kind
	return p
}

// UID returns the tag identifier carried by the record, or "".
func (p RecordPayload) UID() string {
	if uid, ok := p["UID"]; ok {
		return uid
	}
	return p["PUPI"]
}
