package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

func noopHandler(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	return nil
}

func TestHandlerRegistry_Handle(t *testing.T) {
	registry := NewHandlerRegistry()

	tests := []struct {
		name        string
		messageType string
		handler     HandlerFunc
		wantErr     bool
	}{
		{"valid handler", "start", noopHandler, false},
		{"nil handler", "stop", nil, true},
		{"empty message type", "", noopHandler, true},
		{"duplicate", "start", noopHandler, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Handle(tt.messageType, tt.handler)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle(%q) error = %v, wantErr %v", tt.messageType, err, tt.wantErr)
			}
		})
	}

	if _, ok := registry.Get("start"); !ok {
		t.Fatal("expected start to be registered")
	}
	if _, ok := registry.Get("stop"); ok {
		t.Fatal("nil handler must not be registered")
	}
}

func TestHandlerRegistry_MessageTypesSorted(t *testing.T) {
	registry := NewHandlerRegistry()
	if got := registry.MessageTypes(); len(got) != 0 {
		t.Fatalf("expected no message types, got %v", got)
	}

	for _, typ := range []string{"subscribe", "list-devices", "start"} {
		registry.Handle(typ, noopHandler)
	}
	got := registry.MessageTypes()
	want := []string{"list-devices", "start", "subscribe"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("MessageTypes() = %v, want %v", got, want)
	}
}

func TestHandlerRegistry_Get(t *testing.T) {
	registry := NewHandlerRegistry()
	wantErr := errors.New("handler failed")
	registry.Handle("fail", func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
		return wantErr
	})

	h, ok := registry.Get("fail")
	if !ok {
		t.Fatal("handler not found")
	}
	if err := h(context.Background(), nil, protocol.WebSocketRequest{}); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	if _, ok := registry.Get("missing"); ok {
		t.Fatal("expected missing handler not to be found")
	}
}

func TestHandlerRegistry_Dispatch(t *testing.T) {
	registry := NewHandlerRegistry()
	var got protocol.WebSocketRequest
	registry.Handle("start", func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
		got = req
		return nil
	})

	req := protocol.WebSocketRequest{ID: "7", Type: "start"}
	if err := registry.Dispatch(context.Background(), nil, req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.ID != "7" {
		t.Fatalf("handler got request %+v", got)
	}

	err := registry.Dispatch(context.Background(), nil, protocol.WebSocketRequest{Type: "erase"})
	if !errors.Is(err, errUnknownType) {
		t.Fatalf("expected errUnknownType, got %v", err)
	}
}

func TestHandlerRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewHandlerRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.Handle(fmt.Sprintf("type-%d", i), noopHandler)
		}(i)
		go func(i int) {
			defer wg.Done()
			registry.Get(fmt.Sprintf("type-%d", i))
			registry.MessageTypes()
		}(i)
	}
	wg.Wait()

	if n := len(registry.MessageTypes()); n != 50 {
		t.Fatalf("expected 50 message types, got %d", n)
	}
}

func TestHandlerRegistry_StartLifecycleHandlers(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.StartLifecycleHandlers(context.Background())

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "agent")

	var mu sync.Mutex
	var seen []any
	for i := 0; i < 3; i++ {
		registry.RegisterLifecycle(func(ctx context.Context) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ctx.Value(key{}))
		})
	}
	registry.StartLifecycleHandlers(ctx)

	if len(seen) != 3 {
		t.Fatalf("expected 3 lifecycle starters to run, got %d", len(seen))
	}
	for _, v := range seen {
		if v != "agent" {
			t.Fatalf("lifecycle starter got wrong context value %v", v)
		}
	}
}
