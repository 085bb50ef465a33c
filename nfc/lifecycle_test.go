package nfc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secondReader = "mock:usb:002"

func newTestLifecycle(t *testing.T, readers ...string) (*Lifecycle, *MockManager) {
	t.Helper()
	manager := NewMockManager()
	if len(readers) > 0 {
		manager.DevicesList = readers
	}
	l := NewLifecycle(manager, LifecycleConfig{Poller: testPollerConfig()}, nil)
	t.Cleanup(l.Shutdown)
	return l, manager
}

func mockDevice(t *testing.T, m *MockManager, id string) *MockDevice {
	t.Helper()
	dev := NewMockDevice()
	dev.DeviceConnection = id
	m.AddDevice(id, dev)
	return dev
}

func TestLifecycle_ListReaders(t *testing.T) {
	l, manager := newTestLifecycle(t, testReader, secondReader)
	mockDevice(t, manager, testReader)
	broken := mockDevice(t, manager, secondReader)
	broken.CapabilitiesError = errors.New("stall")

	infos, err := l.ListReaders()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, testReader, infos[0].ID)
	assert.Equal(t, "Mock NFC Reader", infos[0].Name)
	require.Len(t, infos[0].Capabilities, 1)
	assert.Equal(t, "ISO/IEC 14443A @ 106 kbps", infos[0].Capabilities[0].String())
	assert.NoError(t, infos[0].Err)
	assert.Equal(t, StateStopped, infos[0].State)

	assert.Equal(t, secondReader, infos[1].ID)
	assert.Error(t, infos[1].Err)
	assert.Empty(t, infos[1].Capabilities)
}

func TestLifecycle_NoReaders(t *testing.T) {
	l, _ := newTestLifecycle(t)
	l.manager.(*MockManager).DevicesList = nil

	_, err := l.ListReaders()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = l.StartAll()
	assert.True(t, IsConfigurationError(err))
}

func TestLifecycle_ReaderCap(t *testing.T) {
	ids := make([]string, MaxReaderCount+3)
	for i := range ids {
		ids[i] = "mock:usb:" + string(rune('a'+i))
	}
	l, _ := newTestLifecycle(t, ids...)

	got, err := l.Enumerate()
	require.NoError(t, err)
	assert.Len(t, got, MaxReaderCount)
}

func TestLifecycle_StartPollingStatuses(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(m *MockManager)
		id     string
		status string
		err    bool
	}{
		{
			name:   "starts",
			setup:  func(m *MockManager) {},
			id:     testReader,
			status: StatusPolling,
		},
		{
			name:   "open fails",
			setup:  func(m *MockManager) { m.SetOpenError(testReader, errors.New("busy")) },
			id:     testReader,
			status: StatusFailedOpen,
			err:    true,
		},
		{
			name: "initiator mode fails",
			setup: func(m *MockManager) {
				m.Devices[testReader].(*MockDevice).SetInitError(errors.New("no answer"))
			},
			id:     testReader,
			status: StatusFailedInitiatorMode,
			err:    true,
		},
		{
			name:   "unknown reader",
			setup:  func(m *MockManager) {},
			id:     "pn532_uart:/dev/ttyUSB9",
			status: StatusFailedOpen,
			err:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, manager := newTestLifecycle(t)
			tt.setup(manager)

			status, err := l.StartPolling(tt.id)
			assert.Equal(t, tt.status, status)
			if tt.err {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLifecycle_StartTwiceAndStop(t *testing.T) {
	l, manager := newTestLifecycle(t)
	dev := manager.Devices[testReader].(*MockDevice)

	status, err := l.StartPolling(testReader)
	require.NoError(t, err)
	assert.Equal(t, StatusPolling, status)

	status, err = l.StartPolling(testReader)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyPolling, status)

	require.Eventually(t, func() bool { return dev.Polls() > 0 }, 2*time.Second, time.Millisecond)

	require.NoError(t, l.StopPolling(testReader))
	assert.False(t, dev.Open())
	polls := dev.Polls()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, polls, dev.Polls(), "no polling after stop")

	// Stopping again, or stopping an unknown reader, is a no-op.
	assert.NoError(t, l.StopPolling(testReader))
	assert.NoError(t, l.StopPolling("nope"))

	// And the reader can be started again.
	status, err = l.StartPolling(testReader)
	require.NoError(t, err)
	assert.Equal(t, StatusPolling, status)
}

func TestLifecycle_EventsReachSubscribers(t *testing.T) {
	l, manager := newTestLifecycle(t)
	dev := manager.Devices[testReader].(*MockDevice)
	dev.Script(OneTarget(isoATarget(0x04, 0x11, 0x22, 0x33)), NoTarget())

	adds, err := l.Subscribe(TopicTargetAdd, false)
	require.NoError(t, err)
	removes, err := l.Subscribe(TopicTargetRemove, false)
	require.NoError(t, err)

	_, err = l.StartPolling(testReader)
	require.NoError(t, err)

	added := receive(t, adds)
	assert.Equal(t, EventDetected, added.Type)
	assert.Equal(t, testReader, added.Reader)
	assert.Equal(t, "04112233", added.Record.UID())

	removed := receive(t, removes)
	assert.Equal(t, EventRemoved, removed.Type)
	assert.True(t, added.Record.Equal(removed.Record))
	assert.Greater(t, removed.Seq, added.Seq)

	l.Unsubscribe(adds.ID)
	_, ok := <-adds.Events()
	assert.False(t, ok)
}

func TestLifecycle_SubscribeReplay(t *testing.T) {
	l, manager := newTestLifecycle(t, testReader, secondReader)
	first := mockDevice(t, manager, testReader)
	first.Script(OneTarget(isoATarget(0x04, 0x11, 0x22, 0x33)))
	first.RepeatLast = true
	second := mockDevice(t, manager, secondReader)
	second.Script(NoTarget())

	statuses, err := l.StartAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{testReader: StatusPolling, secondReader: StatusPolling}, statuses)
	waitClosed(t, first.Exhausted(), "first reader to settle")

	plain, err := l.Subscribe(TopicPresence, false)
	require.NoError(t, err)
	replayed, err := l.Subscribe(TopicPresence, true)
	require.NoError(t, err)

	ev := receive(t, replayed)
	assert.True(t, ev.Replay)
	assert.Equal(t, EventDetected, ev.Type)
	assert.Equal(t, testReader, ev.Reader)
	assert.Equal(t, "04112233", ev.Record.UID())
	assertQuiet(t, replayed)
	assertQuiet(t, plain)

	// Stopping the reader reaches both, and the replayed stream has no duplicate.
	require.NoError(t, l.StopPolling(testReader))
	gone := receive(t, replayed)
	assert.Equal(t, EventRemoved, gone.Type)
	assert.False(t, gone.Replay)
	assert.Equal(t, EventRemoved, receive(t, plain).Type)
}

func TestLifecycle_ReplayFiltersByTopic(t *testing.T) {
	l, manager := newTestLifecycle(t)
	dev := manager.Devices[testReader].(*MockDevice)
	dev.Script(OneTarget(isoATarget(0x04, 0x11, 0x22, 0x33)))
	dev.RepeatLast = true

	_, err := l.StartPolling(testReader)
	require.NoError(t, err)
	waitClosed(t, dev.Exhausted(), "reader to settle")

	removes, err := l.Subscribe(TopicTargetRemove, true)
	require.NoError(t, err)
	assertQuiet(t, removes)

	snap, err := l.Snapshot(testReader)
	require.NoError(t, err)
	assert.Equal(t, "04112233", snap.UID())
}

func TestLifecycle_HotPlug(t *testing.T) {
	manager := NewMockManager()
	l := NewLifecycle(manager, LifecycleConfig{Autostart: true, Poller: testPollerConfig()}, nil)
	defer l.Shutdown()

	_, err := l.StartAll()
	require.NoError(t, err)
	l.Watch()

	added := mockDevice(t, manager, secondReader)
	manager.SetDevices(testReader, secondReader)
	require.Eventually(t, func() bool { return added.Polls() > 0 }, 2*time.Second, time.Millisecond)

	first := manager.Devices[testReader].(*MockDevice)
	manager.SetDevices(secondReader)
	require.Eventually(t, func() bool { return !first.Open() }, 2*time.Second, time.Millisecond)

	_, err = l.Snapshot(testReader)
	assert.Error(t, err, "unplugged reader is forgotten")
}

func TestLifecycle_ShutdownClosesEverything(t *testing.T) {
	l, manager := newTestLifecycle(t, testReader, secondReader)
	first := mockDevice(t, manager, testReader)
	first.Script(OneTarget(isoATarget(0x04, 0x11, 0x22, 0x33)))
	first.RepeatLast = true
	second := mockDevice(t, manager, secondReader)

	_, err := l.StartAll()
	require.NoError(t, err)
	waitClosed(t, first.Exhausted(), "first reader to settle")

	sub, err := l.Subscribe(TopicPresence, false)
	require.NoError(t, err)

	l.Shutdown()
	l.Shutdown()

	assert.False(t, first.Open())
	assert.False(t, second.Open())

	// Reading only starts after Shutdown returned; the removal of the tag
	// still on the first reader must be waiting in the stream.
	var events []PresenceEvent
	for ev := range sub.Events() {
		events = append(events, ev)
	}
	assert.Equal(t, []eventSummary{{EventRemoved, "04112233"}}, summarize(events))

	_, err = l.Subscribe(TopicPresence, false)
	assert.Error(t, err)
}
