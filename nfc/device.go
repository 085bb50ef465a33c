package nfc

import (
	"context"

	libnfc "github.com/clausecker/nfc/v2"
)

// Device represents an open NFC reader handle.
//
// A Device is obtained from a Manager. Only one goroutine, the reader's Poller,
// issues calls on it at a time.
//
// Example:
//
//	manager := nfc.NewManager()
//	device, err := manager.OpenDevice("pn532_uart:/dev/ttyUSB0")
//	defer device.Close()
type Device interface {
	Close() error
	InitiatorInit() error
	String() string
	Connection() string

	// Capabilities lists the modulation/baud-rate pairs the reader polls with.
	Capabilities() ([]Capability, error)

	// Poll runs one bounded poll. It blocks for at most
	// attempts * period * PollPeriodUnit per modulation.
	Poll(mods []libnfc.Modulation, attempts, period byte) PollOutcome
}

// RemovalWaiter is optionally implemented by devices that can block until a
// previously polled target has left the field.
type RemovalWaiter interface {
	// WaitForRemoval returns nil once the target is gone, ctx.Err() when ctx is
	// done first, or a driver error when the handle failed while waiting.
	WaitForRemoval(ctx context.Context, target libnfc.Target) error
}
