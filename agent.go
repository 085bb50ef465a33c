package main

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dotside-studios/nfc-presence-agent/buildinfo"
	"github.com/dotside-studios/nfc-presence-agent/mqtt"
	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/server"
)

// drainTimeout bounds how long Stop waits for WebSocket clients to receive the
// last events.
const drainTimeout = 3 * time.Second

// Agent wires the reader lifecycle to the WebSocket server and the MQTT sink.
type Agent struct {
	Config  Config
	Manager nfc.Manager
	Driver  string

	watcher   *nfc.WatchingManager
	lifecycle *nfc.Lifecycle
	server    *server.Server
	mqtt      *mqtt.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAgent creates an agent over manager. Nothing runs until Start.
func NewAgent(cfg Config, manager nfc.Manager) *Agent {
	return &Agent{Config: cfg, Manager: manager}
}

// Lifecycle returns the running reader lifecycle, or nil before Start.
func (a *Agent) Lifecycle() *nfc.Lifecycle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle
}

// Start enumerates readers, starts polling when autostart is on, and brings up
// the server and the MQTT sink.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lifecycle != nil {
		return errors.New("agent is already running")
	}

	manager := a.Manager
	if len(a.Config.Polling.Devices) == 0 && a.Config.Polling.HotplugInterval > 0 {
		a.watcher = nfc.NewWatchingManager(manager, a.Config.Polling.HotplugInterval, nil)
		manager = a.watcher
	}
	a.lifecycle = nfc.NewLifecycle(manager, a.Config.Polling.LifecycleConfig(), nil)

	if a.Config.Polling.Autostart {
		statuses, err := a.lifecycle.StartAll()
		if err != nil {
			log.WithError(err).Warn("no readers at startup, waiting for devices")
		}
		ids := make([]string, 0, len(statuses))
		for id := range statuses {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			log.WithFields(log.Fields{"reader": id, "status": statuses[id]}).Info("reader started")
		}
	}
	if a.watcher != nil {
		a.watcher.Start()
		a.lifecycle.Watch()
	}

	// Stop decides the shutdown order, so the server and the sink must not
	// react to ctx on their own.
	ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	a.server = server.New(server.Config{
		Lifecycle: a.lifecycle,
		Port:      a.Config.Server.Port,
		APISecret: a.Config.Server.APISecret,
		MDNS:      a.Config.Server.MDNS,
		Driver:    a.Driver,
	})
	if err := a.server.Start(ctx); err != nil {
		a.shutdown()
		return err
	}

	if err := a.startMQTT(ctx); err != nil {
		a.shutdown()
		return err
	}
	return nil
}

func (a *Agent) startMQTT(ctx context.Context) error {
	clientID := a.Config.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = buildinfo.ClientID(host)
	}
	client, err := mqtt.New(a.Config.MQTT, clientID)
	if err != nil {
		return err
	}
	if !client.IsEnabled() {
		return nil
	}
	if err := client.Connect(); err != nil {
		return err
	}
	a.mqtt = client

	sink := mqtt.NewSink(a.lifecycle, client, a.Config.MQTT.TopicPrefix)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := sink.Run(ctx); err != nil {
			log.WithError(err).Error("MQTT sink stopped")
		}
	}()
	log.WithField("client", clientID).Info("MQTT sink running")
	return nil
}

// Stop shuts everything down. The readers stop first, and the removal of
// every present tag reaches the MQTT sink and the connected WebSocket clients
// before they are disconnected.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lifecycle == nil {
		log.Debug("agent is not running")
		return
	}
	log.Info("stopping agent")
	a.shutdown()
	log.Info("agent stopped")
}

func (a *Agent) shutdown() {
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	a.lifecycle.Shutdown()
	// The sink returns once its stream is drained.
	a.wg.Wait()
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		a.server.Drain(ctx)
		cancel()
		a.server.Stop()
		a.server = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
		a.mqtt = nil
	}
	a.lifecycle = nil
}
