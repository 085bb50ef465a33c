package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

// HandlerFunc handles one request from a WebSocket client. Handlers reply
// through the client; a returned error is only logged.
type HandlerFunc func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error

// HandlerServer lets handlers register verbs and lifecycle hooks.
type HandlerServer interface {
	Handle(messageType string, handler HandlerFunc) error
	// StartLifecycle registers a function run once when the server starts.
	StartLifecycle(start func(ctx context.Context))
}

// ServerHandler groups related verbs; Register wires all of them at once.
type ServerHandler interface {
	Register(server HandlerServer)
}

var (
	errNilHandler  = errors.New("handler cannot be nil")
	errEmptyType   = errors.New("message type cannot be empty")
	errUnknownType = errors.New("unknown message type")
)

// HandlerRegistry maps verbs to handlers. It is safe for concurrent use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	starters []func(ctx context.Context)
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Handle registers handler for messageType. A verb can be registered once.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	switch {
	case handler == nil:
		return errNilHandler
	case messageType == "":
		return errEmptyType
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[messageType]; dup {
		return fmt.Errorf("verb %q already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// RegisterLifecycle adds a hook for StartLifecycleHandlers.
func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	r.starters = append(r.starters, start)
	r.mu.Unlock()
}

// Get returns the handler for messageType.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

// Dispatch runs the handler registered for req.Type. It returns an error
// wrapping errUnknownType when there is none.
func (r *HandlerRegistry) Dispatch(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	h, ok := r.Get(req.Type)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownType, req.Type)
	}
	return h(ctx, client, req)
}

// MessageTypes returns the registered verbs in sorted order.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}

// StartLifecycleHandlers runs every registered hook with ctx, in registration order.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	starters := append([]func(context.Context){}, r.starters...)
	r.mu.RUnlock()
	for _, start := range starters {
		start(ctx)
	}
}
