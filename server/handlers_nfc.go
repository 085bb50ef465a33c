package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

// ReaderController is the part of nfc.Lifecycle the verb handlers drive.
type ReaderController interface {
	ListReaders() ([]nfc.ReaderInfo, error)
	StartPolling(id string) (string, error)
	StartAll() (map[string]string, error)
	StopPolling(id string) error
	Subscribe(topic string, replay bool) (*nfc.Subscription, error)
	Unsubscribe(id string)
}

// NFCHandler implements the reader verbs: subscribe, unsubscribe,
// list-devices, list-devices-capabilities, start and stop.
type NFCHandler struct {
	readers ReaderController
}

// NewNFCHandler creates a new NFC handler.
func NewNFCHandler(readers ReaderController) *NFCHandler {
	return &NFCHandler{readers: readers}
}

// Register implements ServerHandler.
func (h *NFCHandler) Register(server HandlerServer) {
	server.Handle(protocol.WSTypeSubscribe, h.handleSubscribe)
	server.Handle(protocol.WSTypeUnsubscribe, h.handleUnsubscribe)
	server.Handle(protocol.WSTypeListDevices, h.handleListDevices)
	server.Handle(protocol.WSTypeListCapabilities, h.handleListCapabilities)
	server.Handle(protocol.WSTypeStart, h.handleStart)
	server.Handle(protocol.WSTypeStop, h.handleStop)
}

func (h *NFCHandler) handleSubscribe(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.SubscribeRequest
	if err := decodePayload(req, &body); err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeInvalidRequest, err.Error())
	}
	topic, err := protocol.ParseTopic(body.Event)
	if err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeUnknownTopic, err.Error())
	}

	attached := false
	if !client.Subscribed(topic) {
		sub, err := h.readers.Subscribe(topic, body.Replay)
		if err != nil {
			return client.ReplyError(req.ID, protocol.ErrCodeInternalError, err.Error())
		}
		if attached = client.Subscribe(topic, sub); !attached {
			h.readers.Unsubscribe(sub.ID)
		}
	}
	client.log.WithField("event", topic).Info("subscribed")

	// The ack goes out ahead of any replayed event.
	err = client.Reply(req, map[string]any{"event": topic})
	if attached {
		client.Forward(topic)
	}
	return err
}

func (h *NFCHandler) handleUnsubscribe(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.SubscribeRequest
	if err := decodePayload(req, &body); err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeInvalidRequest, err.Error())
	}
	topic, err := protocol.ParseTopic(body.Event)
	if err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeUnknownTopic, err.Error())
	}
	client.Unsubscribe(topic)
	return client.Reply(req, map[string]any{"event": topic})
}

func (h *NFCHandler) listReaders(client *Client, req protocol.WebSocketRequest, withCapabilities bool) error {
	infos, err := h.readers.ListReaders()
	if err != nil {
		code := protocol.ErrCodeInternalError
		if nfc.IsConfigurationError(err) {
			code = protocol.ErrCodeNoReaders
		}
		return client.ReplyError(req.ID, code, err.Error())
	}
	readers := make([]protocol.ReaderPayload, 0, len(infos))
	for _, info := range infos {
		readers = append(readers, readerPayload(info, withCapabilities))
	}
	return client.Reply(req, readers)
}

func (h *NFCHandler) handleListDevices(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	return h.listReaders(client, req, false)
}

func (h *NFCHandler) handleListCapabilities(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	return h.listReaders(client, req, true)
}

func (h *NFCHandler) handleStart(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.DeviceRequest
	if err := decodePayload(req, &body); err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeInvalidRequest, err.Error())
	}

	if body.Device == "" {
		statuses, err := h.readers.StartAll()
		if err != nil {
			return client.ReplyError(req.ID, protocol.ErrCodeNoReaders, err.Error())
		}
		return client.Reply(req, protocol.StartResponse{Statuses: statuses})
	}

	status, err := h.readers.StartPolling(body.Device)
	entry := log.WithFields(log.Fields{"reader": body.Device, "status": status})
	if err != nil {
		entry.WithError(err).Warn("start request failed")
		return client.Send(protocol.WebSocketResponse{
			ID:      req.ID,
			Type:    protocol.WSTypeError,
			Error:   err.Error(),
			Payload: map[string]any{"code": protocol.ErrCodeStartFailed, "status": status},
		})
	}
	entry.Info("start request")
	return client.Reply(req, protocol.StartResponse{Statuses: map[string]string{body.Device: status}})
}

func (h *NFCHandler) handleStop(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.DeviceRequest
	if err := decodePayload(req, &body); err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeInvalidRequest, err.Error())
	}
	if body.Device == "" {
		return client.ReplyError(req.ID, protocol.ErrCodeInvalidRequest, "missing device")
	}
	if err := h.readers.StopPolling(body.Device); err != nil {
		return client.ReplyError(req.ID, protocol.ErrCodeInternalError, err.Error())
	}
	return client.Reply(req, protocol.StartResponse{Statuses: map[string]string{body.Device: nfc.StatusStopped}})
}
