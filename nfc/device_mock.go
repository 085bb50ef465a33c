package nfc

import (
	"context"
	"fmt"
	"sync"
	"time"

	libnfc "github.com/clausecker/nfc/v2"
)

// MockDevice is a test implementation of Device that replays a scripted list of
// poll outcomes.
//
// Once the script is used up, Poll keeps returning the last outcome when
// RepeatLast is set and NoTarget otherwise, sleeping IdleDelay each time so the
// poll loop does not spin. Exhausted is closed on the first poll past the
// script, at which point every scripted outcome has been fully handled.
//
// Example:
//
//	mock := NewMockDevice()
//	mock.Outcomes = []PollOutcome{NoTarget(), OneTarget(target)}
//	_ = mock.InitiatorInit()
type MockDevice struct {
	// DeviceName is the simulated device name returned by String()
	DeviceName string

	// DeviceConnection is the simulated connection string returned by Connection()
	DeviceConnection string

	// IsOpen tracks whether the device is currently open
	IsOpen bool

	// InitError, if set, will be returned by InitiatorInit()
	InitError error

	// CloseError, if set, will be returned by Close()
	CloseError error

	// CapabilitiesList is returned by Capabilities(). Defaults to ISO14443A at 106 kbps.
	CapabilitiesList []Capability

	// CapabilitiesError, if set, will be returned by Capabilities()
	CapabilitiesError error

	// Outcomes is the poll script.
	Outcomes []PollOutcome

	// RepeatLast keeps returning the last scripted outcome after the script ends.
	RepeatLast bool

	// IdleDelay is slept on every poll past the script.
	IdleDelay time.Duration

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	polls     int
	exhausted chan struct{}
	once      sync.Once
	mu        sync.Mutex
}

// NewMockDevice creates a new MockDevice with default values.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock NFC Reader",
		DeviceConnection: "mock:usb:001",
		IsOpen:           true,
		CapabilitiesList: []Capability{{Modulation: libnfc.Modulation{Type: libnfc.ISO14443a, BaudRate: libnfc.Nbr106}}},
		IdleDelay:        time.Millisecond,
		CallLog:          make([]string, 0),
		exhausted:        make(chan struct{}),
	}
}

// Close simulates closing the device.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")

	if !m.IsOpen {
		return fmt.Errorf("device already closed")
	}

	m.IsOpen = false
	return m.CloseError
}

// reopen marks the device open again. MockManager calls it on every OpenDevice.
func (m *MockDevice) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IsOpen = true
}

// InitiatorInit simulates device initialization.
func (m *MockDevice) InitiatorInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "InitiatorInit")

	if !m.IsOpen {
		return fmt.Errorf("device not open")
	}

	return m.InitError
}

// String returns the simulated device name.
func (m *MockDevice) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceName
}

// Connection returns the simulated connection string.
func (m *MockDevice) Connection() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceConnection
}

// Capabilities returns CapabilitiesList or CapabilitiesError.
func (m *MockDevice) Capabilities() ([]Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Capabilities")

	if m.CapabilitiesError != nil {
		return nil, m.CapabilitiesError
	}
	return append([]Capability(nil), m.CapabilitiesList...), nil
}

// Poll returns the next scripted outcome.
func (m *MockDevice) Poll(mods []libnfc.Modulation, attempts, period byte) PollOutcome {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("Poll(%d)", len(mods)))
	if !m.IsOpen {
		m.mu.Unlock()
		return PollError(libnfc.Error(libnfc.EIO))
	}
	if m.polls < len(m.Outcomes) {
		out := m.Outcomes[m.polls]
		m.polls++
		m.mu.Unlock()
		return out
	}
	m.polls++
	var out PollOutcome
	if m.RepeatLast && len(m.Outcomes) > 0 {
		out = m.Outcomes[len(m.Outcomes)-1]
	}
	delay := m.IdleDelay
	m.mu.Unlock()

	m.once.Do(func() { close(m.exhausted) })
	time.Sleep(delay)
	return out
}

// SetInitError changes the error InitiatorInit returns.
func (m *MockDevice) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitError = err
}

// Script replaces the poll script and restarts it from the beginning.
func (m *MockDevice) Script(outcomes ...PollOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = outcomes
	m.polls = 0
	m.exhausted = make(chan struct{})
	m.once = sync.Once{}
}

// Exhausted is closed once Poll has been called past the end of the script.
func (m *MockDevice) Exhausted() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// Polls returns how many times Poll was called.
func (m *MockDevice) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// Open reports whether the device is currently open.
func (m *MockDevice) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.IsOpen
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockDevice) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// ClearCallLog clears the call log.
func (m *MockDevice) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = make([]string, 0)
}

// MockRemovalDevice is a MockDevice that also implements RemovalWaiter. Each
// send on Removed ends one WaitForRemoval call.
type MockRemovalDevice struct {
	*MockDevice

	Removed chan struct{}
	// RemovalError, if set, is returned by WaitForRemoval instead of waiting.
	RemovalError error
}

// NewMockRemovalDevice creates a removal-capable mock device.
func NewMockRemovalDevice() *MockRemovalDevice {
	return &MockRemovalDevice{
		MockDevice: NewMockDevice(),
		Removed:    make(chan struct{}),
	}
}

// WaitForRemoval blocks until Removed fires or ctx is done.
func (m *MockRemovalDevice) WaitForRemoval(ctx context.Context, target libnfc.Target) error {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "WaitForRemoval")
	err := m.RemovalError
	m.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.Removed:
		return nil
	}
}
