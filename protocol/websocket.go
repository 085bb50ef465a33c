package protocol

// WebSocket message type constants
const (
	WSTypeSubscribe        = "subscribe"
	WSTypeUnsubscribe      = "unsubscribe"
	WSTypeListDevices      = "list-devices"
	WSTypeListCapabilities = "list-devices-capabilities"
	WSTypeStart            = "start"
	WSTypeStop             = "stop"
	WSTypeEvent            = "event"
	WSTypeError            = "error"
)

// WebSocketMessage is the generic message envelope for WebSocket communication.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is for incoming requests from WebSocket clients.
type WebSocketRequest struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebSocketResponse is for responses to WebSocket requests.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubscribeRequest is the payload of subscribe and unsubscribe requests.
type SubscribeRequest struct {
	Event  string `json:"event"`
	Replay bool   `json:"replay,omitempty"`
}

// DeviceRequest is the payload of start and stop requests. An empty Device on
// start means every reader.
type DeviceRequest struct {
	Device string `json:"device,omitempty"`
}

// StartResponse maps reader ids to their start status.
type StartResponse struct {
	Statuses map[string]string `json:"statuses"`
}
