package nfc

import (
	"fmt"
	"time"

	libnfc "github.com/clausecker/nfc/v2"
)

// defaultManager implements Manager using libnfc.
type defaultManager struct {
	clock Clock
}

func (m *defaultManager) OpenDevice(deviceStr string) (Device, error) {
	dev, err := libnfc.Open(deviceStr)
	if err != nil {
		return nil, err
	}
	return NewDevice(dev, m.clock), nil
}

// ListDevices returns at most MaxReaderCount connection strings.
func (m *defaultManager) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = libnfc.ListDevices()
		if err == nil {
			if len(devices) > MaxReaderCount {
				devices = devices[:MaxReaderCount]
			}
			return devices, nil
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

// DriverVersion returns the libnfc library version.
func DriverVersion() string {
	return libnfc.Version()
}
