package nfc

import (
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchingManager wraps a Manager and implements DeviceChangeNotifier by
// listing devices on an interval and signalling whenever the set changes.
type WatchingManager struct {
	Manager

	interval time.Duration
	clock    Clock
	changes  chan struct{}

	mu      sync.Mutex
	known   string // sorted, joined device list of the last scan
	scanned bool

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatchingManager creates a watcher around inner. Call Start to begin scanning.
func NewWatchingManager(inner Manager, interval time.Duration, clock Clock) *WatchingManager {
	if interval <= 0 {
		interval = DefaultHotplugScanInterval
	}
	if clock == nil {
		clock = NewRealClock()
	}
	return &WatchingManager{
		Manager:  inner,
		interval: interval,
		clock:    clock,
		changes:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// DeviceChanges implements DeviceChangeNotifier.
func (w *WatchingManager) DeviceChanges() <-chan struct{} {
	return w.changes
}

// Start scans once synchronously to learn the initial set, then keeps scanning
// in the background until Stop.
func (w *WatchingManager) Start() {
	w.Scan()
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.loop(w.clock.NewTicker(w.interval))
}

// Stop ends background scanning and waits for it to finish.
func (w *WatchingManager) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *WatchingManager) loop(ticker Ticker) {
	defer close(w.done)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C():
			w.Scan()
		}
	}
}

// Scan lists devices once and signals DeviceChanges if the set differs from
// the previous scan. The first scan only records the set. Listing errors are
// logged and treated as "no change".
func (w *WatchingManager) Scan() bool {
	devices, err := w.Manager.ListDevices()
	if err != nil {
		log.WithError(err).Debug("[hotplug] device scan failed")
		return false
	}
	sorted := append([]string(nil), devices...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\n")

	w.mu.Lock()
	first := !w.scanned
	changed := key != w.known
	w.known = key
	w.scanned = true
	w.mu.Unlock()

	if first || !changed {
		return false
	}
	log.WithField("devices", sorted).Info("[hotplug] reader set changed")
	select {
	case w.changes <- struct{}{}:
	default:
	}
	return true
}
