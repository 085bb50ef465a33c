// Package server exposes the presence agent over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/dotside-studios/nfc-presence-agent/buildinfo"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

// Config holds the server configuration
type Config struct {
	Lifecycle ReaderController
	Port      int
	APISecret string // Optional API secret for WebSocket connection
	MDNS      bool
	Driver    string
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config   Config
	registry *HandlerRegistry
	clients  *ClientManager
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	mdnsServer *zeroconf.Server
}

// New creates a new server instance
func New(config Config) *Server {
	s := &Server{
		config:   config,
		registry: NewHandlerRegistry(),
		clients:  NewClientManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if config.Lifecycle != nil {
		NewNFCHandler(config.Lifecycle).Register(s)
	}
	return s
}

// Handle implements HandlerServer interface.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.registry.Handle(messageType, handler)
}

// StartLifecycle implements HandlerServer interface.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.registry.RegisterLifecycle(start)
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return s.clients.Count()
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))
	return mux
}

// Start binds the listening port and serves in the background until Stop is
// called or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	srv := s.httpServer
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(ln.Addr().(*net.TCPAddr).Port); err != nil {
			log.WithError(err).Warn("mDNS registration failed, auto-discovery unavailable")
		}
	}

	s.registry.StartLifecycleHandlers(ctx)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Drain waits, up to ctx, for every client to receive the rest of its
// subscribed events. Call it after the reader lifecycle has shut down and
// before Stop.
func (s *Server) Drain(ctx context.Context) {
	s.clients.DrainAll(ctx)
}

// Stop stops the HTTP server gracefully and disconnects every client.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		log.Debug("mDNS service stopped")
	}

	s.clients.CloseAll()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown error")
		}
		cancel()
		s.httpServer = nil
		s.listener = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Server) startMDNS(port int) error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"events=" + protocol.TopicPresence,
	}
	if s.config.Driver != "" {
		txtRecords = append(txtRecords, "driver="+s.config.Driver)
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.mdnsServer = server
	log.WithFields(log.Fields{"service": MDNSServiceType, "port": port}).Info("mDNS service registered")
	return nil
}

// handleWebSocket upgrades the connection and runs the client's read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.APISecret != "" && r.URL.Query().Get("secret") != s.config.APISecret {
		log.WithField("remote", r.RemoteAddr).Warn("WebSocket connection rejected: invalid API secret")
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	unsubscribe := func(string) {}
	if s.config.Lifecycle != nil {
		unsubscribe = s.config.Lifecycle.Unsubscribe
	}
	client := newClient(conn, unsubscribe)
	s.clients.Register(client)
	client.log.WithField("remote", r.RemoteAddr).Info("WebSocket connected")

	defer func() {
		s.clients.Unregister(client)
		client.Close()
		client.log.Info("WebSocket disconnected")
	}()

	ctx := r.Context()
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(ctx, client, message)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, message []byte) {
	var req protocol.WebSocketRequest
	if err := json.Unmarshal(message, &req); err != nil {
		client.log.WithError(err).Debug("failed to parse WebSocket message")
		client.ReplyError("", protocol.ErrCodeParseError, "Invalid message format")
		return
	}

	err := s.registry.Dispatch(ctx, client, req)
	switch {
	case errors.Is(err, errUnknownType):
		client.ReplyError(req.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
	case err != nil:
		client.log.WithError(err).WithField("type", req.Type).Warn("handler error")
	}
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{
		Status:    "ok",
		Version:   buildinfo.FullVersion(),
		Driver:    s.config.Driver,
		Timestamp: time.Now().UTC(),
		Readers:   []protocol.ReaderPayload{},
	}
	if s.config.Lifecycle != nil {
		infos, err := s.config.Lifecycle.ListReaders()
		if err != nil {
			resp.Status = "degraded"
		}
		for _, info := range infos {
			resp.Readers = append(resp.Readers, readerPayload(info, false))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
