package server

import (
	"encoding/json"
	"fmt"

	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

// decodePayload re-decodes a request's generic payload into dst.
func decodePayload(req protocol.WebSocketRequest, dst any) error {
	if req.Payload == nil {
		return nil
	}
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func recordPayload(rec *nfc.TagRecord) protocol.RecordPayload {
	if rec == nil {
		return nil
	}
	return protocol.NewRecordPayload(string(rec.Kind()), rec.HexFields())
}

func eventPayload(topic string, ev nfc.PresenceEvent) protocol.EventPayload {
	status := protocol.StatusRemoved
	if ev.Detected() {
		status = protocol.StatusDetected
	}
	return protocol.EventPayload{
		Event:  topic,
		Status: status,
		Reader: ev.Reader,
		Record: recordPayload(ev.Record),
		Family: ev.Record.Family(),
		Seq:    ev.Seq,
		At:     ev.At,
		Replay: ev.Replay,
	}
}

func readerPayload(info nfc.ReaderInfo, withCapabilities bool) protocol.ReaderPayload {
	p := protocol.ReaderPayload{
		ID:      info.ID,
		Name:    info.Name,
		State:   info.State.String(),
		Present: recordPayload(info.Present),
	}
	if info.Err != nil {
		p.Error = info.Err.Error()
	}
	if withCapabilities {
		for _, c := range info.Capabilities {
			p.Capabilities = append(p.Capabilities, protocol.CapabilityPayload{
				Modulation: c.ModulationName(),
				BaudRate:   c.BaudRateName(),
			})
		}
	}
	if info.State != nfc.StateStopped {
		s := protocol.ReaderStats(info.Stats)
		p.Stats = &s
	}
	return p
}
