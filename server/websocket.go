package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

var errClientClosed = errors.New("client closed")

// flushMarker is queued behind a client's messages; the write pump closes it
// once everything before it has been written.
type flushMarker chan struct{}

// Client is one WebSocket connection. All writes go through a single pump
// goroutine since gorilla connections allow one concurrent writer.
type Client struct {
	ID string

	conn        *websocket.Conn
	send        chan any
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func(id string)
	log         *log.Entry

	mu         sync.Mutex
	subs       map[string]*nfc.Subscription
	forwarding map[string]chan struct{} // subscription id -> closed when its forwarder ends
}

func newClient(conn *websocket.Conn, unsubscribe func(id string)) *Client {
	id := uuid.New().String()
	c := &Client{
		ID:          id,
		conn:        conn,
		send:        make(chan any, clientSendBuffer),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
		log:         log.WithField("client", id),
		subs:        make(map[string]*nfc.Subscription),
		forwarding:  make(map[string]chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues msg for the client. It blocks while the queue is full and fails
// once the client is closed.
func (c *Client) Send(msg any) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case <-c.done:
		return errClientClosed
	case c.send <- msg:
		return nil
	}
}

// Reply sends a success response to req.
func (c *Client) Reply(req protocol.WebSocketRequest, payload any) error {
	return c.Send(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: true,
		Payload: payload,
	})
}

// ReplyError sends an error response to the request with id requestID.
func (c *Client) ReplyError(requestID, code, message string) error {
	return c.Send(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    protocol.WSTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{"code": code},
	})
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if m, ok := msg.(flushMarker); ok {
				close(m)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.WithError(err).Debug("write failed, closing client")
				c.Close()
				return
			}
		}
	}
}

// Subscribed reports whether the client holds a subscription to topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Subscribe attaches sub to the client under topic. Its events are not sent
// until Forward is called. It returns false, leaving sub untouched, when topic
// is already held or the client is closed.
func (c *Client) Subscribe(topic string, sub *nfc.Subscription) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; ok {
		return false
	}
	c.subs[topic] = sub
	return true
}

// Forward starts sending the events of the subscription held for topic.
// Calling it again for the same subscription does nothing.
func (c *Client) Forward(topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	if !ok || c.forwarding[sub.ID] != nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.forwarding[sub.ID] = done
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.forwarding, sub.ID)
			c.mu.Unlock()
			close(done)
		}()
		c.forward(topic, sub)
	}()
}

// Unsubscribe drops the client's subscription to topic.
func (c *Client) Unsubscribe(topic string) bool {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		c.unsubscribe(sub.ID)
	}
	return ok
}

// Topics returns the topics the client is subscribed to.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	return topics
}

func (c *Client) forward(topic string, sub *nfc.Subscription) {
	for ev := range sub.Events() {
		msg := protocol.WebSocketMessage{Type: protocol.WSTypeEvent, Payload: eventPayload(topic, ev)}
		if err := c.Send(msg); err != nil {
			return
		}
	}
}

// Drain waits until every forwarded stream has ended and all queued messages
// are written. It does not end the streams itself.
func (c *Client) Drain(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]chan struct{}, 0, len(c.forwarding))
	for _, done := range c.forwarding {
		pending = append(pending, done)
	}
	c.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-c.done:
			return errClientClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	flushed := make(flushMarker)
	if err := c.Send(flushed); err != nil {
		return err
	}
	select {
	case <-flushed:
		return nil
	case <-c.done:
		return errClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects the client and releases its subscriptions.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]*nfc.Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			c.unsubscribe(sub.ID)
		}
		c.log.Debug("client closed")
	})
}

// ClientManager tracks connected clients.
type ClientManager struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewClientManager creates a new ClientManager instance.
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]*Client),
	}
}

// Register adds a new client connection.
func (cm *ClientManager) Register(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c.ID] = c
}

// Unregister removes a client connection.
func (cm *ClientManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, c.ID)
}

// Count returns the number of connected clients.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// DrainAll drains every client concurrently and returns when all are done or
// ctx expires.
func (cm *ClientManager) DrainAll(ctx context.Context) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Drain(ctx); err != nil {
				c.log.WithError(err).Debug("client not drained")
			}
		}(c)
	}
	wg.Wait()
}

// CloseAll closes all client connections.
func (cm *ClientManager) CloseAll() {
	cm.mu.Lock()
	clients := cm.clients
	cm.clients = make(map[string]*Client)
	cm.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
