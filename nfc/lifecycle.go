package nfc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LifecycleConfig configures reader discovery and polling.
type LifecycleConfig struct {
	// Devices pins the reader set to these connection strings. When empty the
	// Manager enumerates readers.
	Devices []string
	// Autostart starts polling on every reader found at startup and on
	// hot-plugged readers.
	Autostart bool
	Poller    PollerConfig
}

// ReaderInfo describes one known reader.
type ReaderInfo struct {
	ID           string
	Name         string
	Capabilities []Capability
	State        PollerState
	Present      *TagRecord
	Stats        PollerStats
	// Err is set when the capability query at open time failed.
	Err error
}

type readerEntry struct {
	dm     *DeviceManager
	slot   *PresenceSlot
	poller *Poller
}

func (e *readerEntry) polling() bool {
	if e.poller == nil {
		return false
	}
	select {
	case <-e.poller.Done():
		return false
	default:
		return true
	}
}

// Lifecycle owns every reader: it enumerates them, starts and stops their
// poll loops, follows hot-plug changes and routes subscriptions to the Broker.
type Lifecycle struct {
	manager Manager
	broker  *Broker
	clock   Clock
	cfg     LifecycleConfig
	log     *log.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readers map[string]*readerEntry

	watchDone chan struct{}
	closeOnce sync.Once
}

// NewLifecycle creates a lifecycle around manager. A nil clock uses real time.
func NewLifecycle(manager Manager, cfg LifecycleConfig, clock Clock) *Lifecycle {
	if clock == nil {
		clock = NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		manager: manager,
		broker:  NewBroker(),
		clock:   clock,
		cfg:     cfg,
		log:     log.WithField("component", "lifecycle"),
		ctx:     ctx,
		cancel:  cancel,
		readers: make(map[string]*readerEntry),
	}
}

// Broker returns the event broker pollers publish to.
func (l *Lifecycle) Broker() *Broker {
	return l.broker
}

// Enumerate refreshes the reader set and returns the sorted reader ids.
// Readers that disappeared are stopped and forgotten.
func (l *Lifecycle) Enumerate() ([]string, error) {
	ids := l.cfg.Devices
	if len(ids) == 0 {
		found, err := l.manager.ListDevices()
		if err != nil {
			return nil, NewConfigurationError("ListDevices", "", "reader enumeration failed", err)
		}
		ids = found
	}
	if len(ids) > MaxReaderCount {
		ids = ids[:MaxReaderCount]
	}

	seen := make(map[string]bool, len(ids))
	var gone []readerEntry

	l.mu.Lock()
	for _, id := range ids {
		seen[id] = true
		if _, ok := l.readers[id]; !ok {
			l.readers[id] = &readerEntry{
				dm:   NewDeviceManager(l.manager, id, l.clock, l.cfg.Poller.Reacquire),
				slot: NewPresenceSlot(id, l.clock),
			}
			l.log.WithField("reader", id).Info("reader added")
		}
	}
	for id, e := range l.readers {
		if !seen[id] {
			gone = append(gone, *e)
			delete(l.readers, id)
			l.log.WithField("reader", id).Info("reader removed")
		}
	}
	l.mu.Unlock()

	for _, e := range gone {
		if e.poller != nil {
			e.poller.Stop()
		}
		e.dm.Close()
	}

	if len(ids) == 0 {
		return nil, NewConfigurationError("ListDevices", "", "no NFC readers found", nil)
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out, nil
}

// ListReaders enumerates readers and reports their capabilities, discovered
// once per reader at first open. A reader whose capability query fails is
// listed with Err set.
func (l *Lifecycle) ListReaders() ([]ReaderInfo, error) {
	ids, err := l.Enumerate()
	if err != nil {
		return nil, err
	}
	infos := make([]ReaderInfo, 0, len(ids))
	for _, id := range ids {
		l.mu.Lock()
		e, ok := l.readers[id]
		var p *Poller
		if ok && e.polling() {
			p = e.poller
		}
		l.mu.Unlock()
		if !ok {
			continue
		}
		info := ReaderInfo{ID: id, State: StateStopped, Present: e.slot.Snapshot()}
		caps, err := e.dm.Probe()
		if err != nil {
			info.Err = err
		}
		info.Capabilities = caps
		info.Name = e.dm.Name()
		if p != nil {
			info.State = p.State()
			info.Stats = p.Stats()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (l *Lifecycle) entry(id string) (*readerEntry, error) {
	l.mu.Lock()
	e, ok := l.readers[id]
	l.mu.Unlock()
	if ok {
		return e, nil
	}
	if _, err := l.Enumerate(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	e, ok = l.readers[id]
	l.mu.Unlock()
	if !ok {
		return nil, NewConfigurationError("StartPolling", id, "no such reader", nil)
	}
	return e, nil
}

// StartPolling starts the poll loop of one reader and returns its status.
// Starting a reader that is already polling reports StatusAlreadyPolling
// without error.
func (l *Lifecycle) StartPolling(id string) (string, error) {
	e, err := l.entry(id)
	if err != nil {
		return StatusFailedOpen, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e.polling() {
		return StatusAlreadyPolling, nil
	}
	if err := e.dm.TryConnect(); err != nil {
		if errors.Is(err, errInitiatorMode) {
			return StatusFailedInitiatorMode, err
		}
		return StatusFailedOpen, err
	}
	e.poller = NewPoller(e.dm, e.slot, l.broker, l.cfg.Poller, l.clock)
	e.poller.Start(l.ctx)
	return StatusPolling, nil
}

// StartAll starts every enumerated reader and returns the per-reader status.
func (l *Lifecycle) StartAll() (map[string]string, error) {
	ids, err := l.Enumerate()
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]string, len(ids))
	for _, id := range ids {
		status, err := l.StartPolling(id)
		if err != nil {
			l.log.WithError(err).WithField("reader", id).Warn("could not start polling")
		}
		statuses[id] = status
	}
	return statuses, nil
}

// StopPolling stops one reader's poll loop. Stopping a reader that is unknown
// or not polling is a no-op.
func (l *Lifecycle) StopPolling(id string) error {
	l.mu.Lock()
	e, ok := l.readers[id]
	var p *Poller
	if ok {
		p = e.poller
		e.poller = nil
	}
	l.mu.Unlock()
	if p != nil {
		p.Stop()
	}
	return nil
}

// Snapshot returns the tag currently present on a reader.
func (l *Lifecycle) Snapshot(id string) (*TagRecord, error) {
	l.mu.Lock()
	e, ok := l.readers[id]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown reader %q", id)
	}
	return e.slot.Snapshot(), nil
}

// Subscribe registers a subscription on topic. With replay set, a Detected
// event is queued for every reader that currently holds a tag, ahead of any
// live event and without duplicating one.
func (l *Lifecycle) Subscribe(topic string, replay bool) (*Subscription, error) {
	if !replay {
		return l.broker.Subscribe(topic)
	}

	l.mu.Lock()
	pollers := make([]*Poller, 0, len(l.readers))
	ids := make([]string, 0, len(l.readers))
	for id := range l.readers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if p := l.readers[id].poller; p != nil {
			pollers = append(pollers, p)
		}
	}
	l.mu.Unlock()

	// Hold every emit lock, in reader order, across registration and snapshot.
	for _, p := range pollers {
		p.emitMu.Lock()
	}
	defer func() {
		for _, p := range pollers {
			p.emitMu.Unlock()
		}
	}()

	sub, err := l.broker.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	replayed := 0
	for _, p := range pollers {
		current := p.slot.Snapshot()
		if current == nil {
			continue
		}
		sub.enqueue(PresenceEvent{
			Type:   EventDetected,
			Reader: p.dm.Connstring(),
			Record: current,
			At:     p.slot.Since(),
			Replay: true,
		})
		replayed++
	}
	l.log.WithFields(log.Fields{"topic": topic, "replayed": replayed}).Debug("subscription replayed")
	return sub, nil
}

// Unsubscribe removes a subscription.
func (l *Lifecycle) Unsubscribe(id string) {
	l.broker.Unsubscribe(id)
}

// Watch follows hot-plug notifications from the manager until Shutdown. It
// does nothing when the manager cannot report device changes.
func (l *Lifecycle) Watch() {
	notifier, ok := l.manager.(DeviceChangeNotifier)
	if !ok {
		return
	}
	l.mu.Lock()
	if l.watchDone != nil {
		l.mu.Unlock()
		return
	}
	l.watchDone = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer close(l.watchDone)
		for {
			select {
			case <-l.ctx.Done():
				return
			case <-notifier.DeviceChanges():
				l.refresh()
			}
		}
	}()
}

// refresh re-enumerates after a hot-plug change and starts new readers when
// autostart is on.
func (l *Lifecycle) refresh() {
	if _, err := l.Enumerate(); err != nil {
		l.log.WithError(err).Warn("re-enumeration after device change failed")
		return
	}
	if !l.cfg.Autostart {
		return
	}
	l.mu.Lock()
	var idle []string
	for id, e := range l.readers {
		if !e.polling() {
			idle = append(idle, id)
		}
	}
	l.mu.Unlock()
	sort.Strings(idle)
	for _, id := range idle {
		status, err := l.StartPolling(id)
		entry := l.log.WithFields(log.Fields{"reader": id, "status": status})
		if err != nil {
			entry.WithError(err).Warn("hot-plugged reader did not start")
			continue
		}
		entry.Info("hot-plugged reader polling")
	}
}

// Shutdown stops every poll loop and closes every handle. The removals
// synthesized for present tags are still delivered before each subscription
// stream closes. It is safe to call more than once.
func (l *Lifecycle) Shutdown() {
	l.closeOnce.Do(func() {
		l.cancel()

		l.mu.Lock()
		entries := make([]readerEntry, 0, len(l.readers))
		for _, e := range l.readers {
			entries = append(entries, *e)
		}
		watchDone := l.watchDone
		l.mu.Unlock()

		var wg sync.WaitGroup
		for _, e := range entries {
			wg.Add(1)
			go func(e readerEntry) {
				defer wg.Done()
				if e.poller != nil {
					e.poller.Stop()
				}
				e.dm.Close()
			}(e)
		}
		wg.Wait()
		if watchDone != nil {
			<-watchDone
		}
		l.broker.Close()
		l.log.Info("all readers closed")
	})
}
