package nfc

import "time"

// Manager type constants for identifying different manager implementations
const (
	ManagerTypeHardware = "hardware"
	ManagerTypeMock     = "mock"
)

// Card family labels inferred from ATQA/SAK.
const (
	CardTypeMifareClassic1K  = "MIFARE Classic 1K"
	CardTypeMifareClassic4K  = "MIFARE Classic 4K"
	CardTypeMifareMini       = "MIFARE Mini"
	CardTypeMifareUltralight = "MIFARE Ultralight"
	CardTypeDesfire          = "DESFire"
	CardTypeSmartMX          = "SmartMX"
	CardTypeType4            = "Type4"
)

// Event topics a subscriber can ask for.
const (
	TopicPresence     = "presence"
	TopicTargetAdd    = "on-nfc-target-add"
	TopicTargetRemove = "on-nfc-target-remove"
)

// Statuses reported by StartPolling.
const (
	StatusPolling             = "polling"
	StatusAlreadyPolling      = "already polling"
	StatusFailedOpen          = "failed to open device"
	StatusFailedInitiatorMode = "failed to set initiator mode"
	StatusStopped             = "stopped"
	StatusNotPolling          = "not polling"
)

// Polling defaults. PollAttempts and PollPeriod are passed straight to the
// driver; one period unit is 150ms.
const (
	DefaultPollAttempts          = 0x0A
	DefaultPollPeriod            = 0x07
	PollPeriodUnit               = 150 * time.Millisecond
	MaxPollPeriod                = 0x0F
	DefaultRemovalCheckInterval  = 100 * time.Millisecond
	DefaultIdlePollInterval      = 100 * time.Millisecond
	DefaultReacquireInitialDelay = 500 * time.Millisecond
	DefaultReacquireMaxDelay     = 10 * time.Second
	DefaultHotplugScanInterval   = 2 * time.Second
	MaxReaderCount               = 8
	DeviceEnumRetries            = 3
)
