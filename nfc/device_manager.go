package nfc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
)

var (
	// errOpenDevice marks failures to open the reader.
	errOpenDevice = errors.New("failed to open device")
	// errInitiatorMode marks failures to put an opened reader in initiator mode.
	errInitiatorMode = errors.New("failed to set initiator mode")
)

// ReacquireConfig controls how a lost reader handle is reopened.
type ReacquireConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// MaxAttempts bounds one Reacquire call; 0 retries until the context ends.
	MaxAttempts int `yaml:"max_attempts"`
}

func (c ReacquireConfig) withDefaults() ReacquireConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultReacquireInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultReacquireMaxDelay
	}
	return c
}

// DeviceManager owns the handle of a single reader: it opens the device,
// discovers its capabilities once, puts it in initiator mode and reopens it
// after the handle becomes invalid.
type DeviceManager struct {
	manager    Manager
	connstring string
	clock      Clock
	cfg        ReacquireConfig
	log        *log.Entry

	device  Device
	name    string
	caps    []Capability
	capsSet bool
	powered bool

	mu sync.RWMutex
}

// NewDeviceManager creates a new DeviceManager for the reader at connstring.
func NewDeviceManager(manager Manager, connstring string, clock Clock, cfg ReacquireConfig) *DeviceManager {
	if clock == nil {
		clock = NewRealClock()
	}
	return &DeviceManager{
		manager:    manager,
		connstring: connstring,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		log:        log.WithField("reader", connstring),
	}
}

// Device returns the current open device, or nil if not connected.
func (dm *DeviceManager) Device() Device {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device
}

// HasDevice returns true if a device handle is currently open.
func (dm *DeviceManager) HasDevice() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device != nil
}

// Powered reports whether the open handle completed initiator init. No poll
// may be issued before this is true.
func (dm *DeviceManager) Powered() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.device != nil && dm.powered
}

// Connstring returns the connection string of the managed reader.
func (dm *DeviceManager) Connstring() string {
	return dm.connstring
}

// Name returns the device name reported at the last successful open.
func (dm *DeviceManager) Name() string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.name
}

// Capabilities returns the capability list discovered at first open.
func (dm *DeviceManager) Capabilities() []Capability {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return append([]Capability(nil), dm.caps...)
}

// open opens the device and discovers capabilities if not known yet.
// Callers hold dm.mu.
func (dm *DeviceManager) open() error {
	if dm.device != nil {
		return nil
	}
	dev, err := dm.manager.OpenDevice(dm.connstring)
	if err != nil {
		return NewConfigurationError("OpenDevice", dm.connstring, "reader unavailable",
			fmt.Errorf("%w: %v", errOpenDevice, err))
	}
	if !dm.capsSet {
		caps, err := dev.Capabilities()
		if err != nil {
			dev.Close()
			return NewConfigurationError("Capabilities", dm.connstring, "capability query failed", err)
		}
		dm.caps = caps
		dm.capsSet = true
	}
	dm.device = dev
	dm.name = dev.String()
	dm.powered = false
	return nil
}

// Probe makes sure capabilities are known, opening the device if needed. A
// handle opened only for probing is closed again.
func (dm *DeviceManager) Probe() ([]Capability, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.capsSet {
		return append([]Capability(nil), dm.caps...), nil
	}
	if err := dm.open(); err != nil {
		return nil, err
	}
	dm.closeLocked()
	return append([]Capability(nil), dm.caps...), nil
}

// TryConnect opens the device if needed and puts it in initiator mode.
func (dm *DeviceManager) TryConnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.device != nil && dm.powered {
		return nil
	}
	if err := dm.open(); err != nil {
		return err
	}
	if err := dm.device.InitiatorInit(); err != nil {
		dm.closeLocked()
		return NewConfigurationError("InitiatorInit", dm.connstring, "reader not ready",
			fmt.Errorf("%w: %v", errInitiatorMode, err))
	}
	dm.powered = true
	dm.log.WithField("device", dm.name).Info("reader opened in initiator mode")
	return nil
}

// Invalidate drops the current handle after it reported an unusable state.
func (dm *DeviceManager) Invalidate(cause error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.device == nil {
		return
	}
	dm.log.WithError(cause).Warn("reader handle invalid, closing")
	dm.closeLocked()
}

// Reacquire closes any open handle and retries TryConnect with exponential
// backoff until it succeeds, ctx is done, or MaxAttempts is reached.
func (dm *DeviceManager) Reacquire(ctx context.Context) error {
	dm.mu.Lock()
	dm.closeLocked()
	dm.mu.Unlock()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = dm.cfg.InitialDelay
	expo.MaxInterval = dm.cfg.MaxDelay
	expo.MaxElapsedTime = 0
	expo.Clock = dm.clock
	expo.Reset()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := dm.TryConnect()
		if err == nil {
			dm.log.WithField("attempt", attempt).Info("reader reacquired")
			return nil
		}
		next := expo.NextBackOff()
		if next == backoff.Stop || (dm.cfg.MaxAttempts > 0 && attempt >= dm.cfg.MaxAttempts) {
			return fmt.Errorf("reacquire %s failed after %d attempts: %w", dm.connstring, attempt, err)
		}
		dm.log.WithError(err).WithField("retry_in", next).Debug("reacquire attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dm.clock.After(next):
		}
	}
}

// Close closes the current device connection.
func (dm *DeviceManager) Close() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.closeLocked()
}

func (dm *DeviceManager) closeLocked() {
	if dm.device == nil {
		return
	}
	if err := dm.device.Close(); err != nil {
		dm.log.WithError(err).Debug("error closing device")
	}
	dm.device = nil
	dm.powered = false
}
