package nfc

import (
	"fmt"
	"sync"
)

// MockManager is a test implementation of Manager that hands out mock devices
// by connection string.
//
// MockManager also implements DeviceChangeNotifier: SetDevices signals a change.
//
// Example:
//
//	manager := NewMockManager()
//	manager.Devices["mock:usb:001"].(*MockDevice).Script(NoTarget())
//	devices, _ := manager.ListDevices()
type MockManager struct {
	// DevicesList is the list of device strings returned by ListDevices()
	DevicesList []string

	// ListDevicesError, if set, will be returned by ListDevices()
	ListDevicesError error

	// Devices maps a connection string to the device OpenDevice returns.
	// Missing entries are created as MockDevices on first open.
	Devices map[string]Device

	// OpenErrors maps a connection string to the error OpenDevice returns for it.
	OpenErrors map[string]error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	changes chan struct{}
	mu      sync.Mutex
}

// NewMockManager creates a new MockManager with one reader, "mock:usb:001".
func NewMockManager() *MockManager {
	dev := NewMockDevice()
	return &MockManager{
		DevicesList: []string{dev.DeviceConnection},
		Devices:     map[string]Device{dev.DeviceConnection: dev},
		OpenErrors:  make(map[string]error),
		CallLog:     make([]string, 0),
		changes:     make(chan struct{}, 1),
	}
}

// OpenDevice returns the device registered for deviceStr, reopening it.
func (m *MockManager) OpenDevice(deviceStr string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("OpenDevice(%s)", deviceStr))

	if err := m.OpenErrors[deviceStr]; err != nil {
		return nil, err
	}

	dev, ok := m.Devices[deviceStr]
	if !ok {
		mock := NewMockDevice()
		mock.DeviceConnection = deviceStr
		dev = mock
		m.Devices[deviceStr] = dev
	}
	if r, ok := dev.(interface{ reopen() }); ok {
		r.reopen()
	}
	return dev, nil
}

// ListDevices simulates listing available NFC devices.
func (m *MockManager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "ListDevices")

	if m.ListDevicesError != nil {
		return nil, m.ListDevicesError
	}

	// Return a copy to prevent external modification
	devicesCopy := make([]string, len(m.DevicesList))
	copy(devicesCopy, m.DevicesList)
	return devicesCopy, nil
}

// AddDevice registers dev under deviceStr without listing it.
func (m *MockManager) AddDevice(deviceStr string, dev Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Devices[deviceStr] = dev
}

// SetOpenError makes OpenDevice fail for deviceStr. A nil err clears it.
func (m *MockManager) SetOpenError(deviceStr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.OpenErrors, deviceStr)
		return
	}
	m.OpenErrors[deviceStr] = err
}

// SetDevices replaces the listed readers and signals DeviceChanges.
func (m *MockManager) SetDevices(devices ...string) {
	m.mu.Lock()
	m.DevicesList = append([]string(nil), devices...)
	m.mu.Unlock()
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// DeviceChanges implements DeviceChangeNotifier.
func (m *MockManager) DeviceChanges() <-chan struct{} {
	return m.changes
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockManager) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// ClearCallLog clears the call log.
func (m *MockManager) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = make([]string, 0)
}
