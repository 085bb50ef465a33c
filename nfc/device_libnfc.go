package nfc

import (
	"context"
	"fmt"
	"time"

	libnfc "github.com/clausecker/nfc/v2"
)

// libnfcDevice implements Device using an actual libnfc device.
type libnfcDevice struct {
	device          libnfc.Device
	clock           Clock
	removalInterval time.Duration
}

// NewDevice creates a new Device from a libnfc device. A nil clock means
// the real one.
func NewDevice(dev libnfc.Device, clock Clock) Device {
	if clock == nil {
		clock = NewRealClock()
	}
	return &libnfcDevice{device: dev, clock: clock, removalInterval: DefaultRemovalCheckInterval}
}

func (d *libnfcDevice) Close() error {
	return d.device.Close()
}

func (d *libnfcDevice) InitiatorInit() error {
	return d.device.InitiatorInit()
}

func (d *libnfcDevice) String() string {
	return d.device.String()
}

func (d *libnfcDevice) Connection() string {
	return d.device.Connection()
}

func (d *libnfcDevice) Capabilities() ([]Capability, error) {
	types, err := d.device.SupportedModulations(libnfc.InitiatorMode)
	if err != nil {
		return nil, fmt.Errorf("libnfcDevice.Capabilities: %w", err)
	}
	return selectPollCapabilities(types, d.device.SupportedBaudRates)
}

func (d *libnfcDevice) Poll(mods []libnfc.Modulation, attempts, period byte) PollOutcome {
	if len(mods) == 0 {
		return PollError(Errorf(ErrCodeConfiguration, "Poll", "no modulations to poll"))
	}
	n, target, err := d.device.InitiatorPollTarget(mods, int(attempts), time.Duration(period)*PollPeriodUnit)
	return pollResult(n, target, err)
}

// WaitForRemoval checks target presence every removalInterval until the
// target is released.
func (d *libnfcDevice) WaitForRemoval(ctx context.Context, target libnfc.Target) error {
	for {
		if err := d.device.InitiatorTargetIsPresent(target); err != nil {
			if IsHandleInvalid(err) {
				return err
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(d.removalInterval):
		}
	}
}
