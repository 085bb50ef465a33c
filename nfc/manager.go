package nfc

// Manager handles NFC device discovery.
//
// Manager provides methods to list available NFC readers and open connections
// to devices. Device strings are libnfc connection strings such as
// "pn532_uart:/dev/ttyUSB0" or "acr122_usb:001:004".
//
// Example:
//
//	manager := nfc.NewManager()
//	devices, _ := manager.ListDevices()
//	device, _ := manager.OpenDevice(devices[0])
type Manager interface {
	OpenDevice(deviceStr string) (Device, error)
	ListDevices() ([]string, error)
}

// DeviceChangeNotifier is optionally implemented by Managers that support
// notifying when devices are added or removed.
type DeviceChangeNotifier interface {
	// DeviceChanges returns a channel that signals when devices are added or removed.
	DeviceChanges() <-chan struct{}
}

// NewManager creates a new Manager using libnfc.
//
// Example:
//
//	manager := nfc.NewManager()
func NewManager() Manager {
	return &defaultManager{clock: NewRealClock()}
}
