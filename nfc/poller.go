package nfc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	libnfc "github.com/clausecker/nfc/v2"
	log "github.com/sirupsen/logrus"
)

// PollerState is the state of a reader's poll loop.
type PollerState int32

const (
	StateIdle PollerState = iota
	StatePolling
	StateStopped
)

func (s PollerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PollerConfig holds the per-reader polling options.
type PollerConfig struct {
	// PollAttempts and PollPeriod are handed to the driver's poll call.
	PollAttempts byte `yaml:"attempts"`
	PollPeriod   byte `yaml:"period"`
	// WaitForRemoval uses the device's edge-triggered removal wait when it
	// has one instead of re-polling while a tag is present.
	WaitForRemoval bool `yaml:"wait_for_removal"`
	// ErrorBackoff is the pause after a transient error so a failing driver
	// call that returns immediately does not spin.
	ErrorBackoff time.Duration   `yaml:"error_backoff"`
	Reacquire    ReacquireConfig `yaml:"reacquire"`
}

// DefaultPollerConfig returns the libnfc defaults: 10 attempts of 7 periods.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollAttempts:   DefaultPollAttempts,
		PollPeriod:     DefaultPollPeriod,
		WaitForRemoval: true,
		ErrorBackoff:   DefaultIdlePollInterval,
	}
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.PollAttempts == 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	if c.PollPeriod == 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultIdlePollInterval
	}
	c.Reacquire = c.Reacquire.withDefaults()
	return c
}

// PollerStats counts what a poll loop has done since it started.
type PollerStats struct {
	Cycles          uint64 `json:"cycles"`
	Detections      uint64 `json:"detections"`
	Removals        uint64 `json:"removals"`
	TransientErrors uint64 `json:"transientErrors"`
	ConfigErrors    uint64 `json:"configErrors"`
	Unsupported     uint64 `json:"unsupported"`
	Reacquisitions  uint64 `json:"reacquisitions"`
}

// Poller drives one reader: it polls, normalizes targets, updates the
// reader's PresenceSlot and publishes the resulting events.
//
// Poll cycles for one reader never overlap. A cycle's events are published
// before the next poll is issued, and the emit lock keeps them ordered with
// respect to subscribe-time replays.
type Poller struct {
	dm        *DeviceManager
	slot      *PresenceSlot
	publisher Publisher
	cfg       PollerConfig
	clock     Clock
	log       *log.Entry

	state  atomic.Int32
	emitMu sync.Mutex

	statsMu sync.Mutex
	stats   PollerStats

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPoller creates a poller for the reader owned by dm.
func NewPoller(dm *DeviceManager, slot *PresenceSlot, publisher Publisher, cfg PollerConfig, clock Clock) *Poller {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Poller{
		dm:        dm,
		slot:      slot,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		clock:     clock,
		log:       log.WithField("reader", dm.Connstring()),
		done:      make(chan struct{}),
	}
}

// State returns the current loop state.
func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

func (p *Poller) setState(s PollerState) {
	if old := PollerState(p.state.Swap(int32(s))); old != s {
		p.log.WithField("state", s).Debug("poller state changed")
	}
}

// Stats returns a copy of the loop counters.
func (p *Poller) Stats() PollerStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Poller) count(f func(*PollerStats)) {
	p.statsMu.Lock()
	f(&p.stats)
	p.statsMu.Unlock()
}

// Start launches the poll loop. It is a no-op after the first call.
func (p *Poller) Start(parent context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		p.cancel = cancel
		if p.dm.Powered() {
			p.setState(StatePolling)
		}
		go p.run(ctx)
	})
}

// Stop ends the poll loop and waits for it to exit. A poll call in flight is
// allowed to finish, so Stop returns within one poll timeout.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		// A poller that never started has nothing to wait for.
		p.startOnce.Do(func() { close(p.done) })
		if p.cancel != nil {
			p.cancel()
		}
		<-p.done
		p.setState(StateStopped)
	})
}

// Done is closed once the loop has exited and the handle is closed.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.shutdown()

	p.log.Info("polling started")
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.dm.Powered() {
			p.setState(StateIdle)
			if err := p.dm.Reacquire(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.WithError(err).Warn("reader still unavailable")
				p.pause(ctx, p.cfg.Reacquire.MaxDelay)
				continue
			}
			p.count(func(s *PollerStats) { s.Reacquisitions++ })
			p.setState(StatePolling)
		}

		dev := p.dm.Device()
		if dev == nil {
			continue
		}
		outcome := dev.Poll(Modulations(p.dm.Capabilities()), p.cfg.PollAttempts, p.cfg.PollPeriod)
		p.count(func(s *PollerStats) { s.Cycles++ })
		p.handle(ctx, dev, outcome)
	}
}

// handle classifies one outcome. Exactly one CompareAndSet happens for None
// and One outcomes; errors and out-of-range counts never touch the slot.
func (p *Poller) handle(ctx context.Context, dev Device, outcome PollOutcome) {
	switch outcome.Kind {
	case OutcomeNone:
		p.apply(nil)

	case OutcomeOne:
		rec, err := Normalize(outcome.Target)
		if err != nil {
			if Classify(err) == ErrCodeResourceExhausted {
				p.log.WithError(err).Warn("could not build tag record, retrying next cycle")
				return
			}
			p.log.WithError(err).Info("ignoring unreadable target")
			p.count(func(s *PollerStats) { s.Unsupported++ })
			p.apply(nil)
			return
		}
		p.apply(rec)
		if p.cfg.WaitForRemoval {
			if waiter, ok := dev.(RemovalWaiter); ok {
				p.waitForRemoval(ctx, waiter, outcome.Target)
			}
		}

	case OutcomeError:
		err := classifyPollError("Poll", p.dm.Connstring(), outcome.Err)
		switch err.Code {
		case ErrCodeHandleInvalid:
			p.invalidate(err)
		case ErrCodeResourceExhausted:
			p.log.WithError(err).Warn("driver out of resources, retrying next cycle")
			p.pause(ctx, p.cfg.ErrorBackoff)
		case ErrCodeConfiguration:
			p.count(func(s *PollerStats) { s.ConfigErrors++ })
			p.log.WithError(err).Error("driver rejected poll parameters")
			p.pause(ctx, p.cfg.ErrorBackoff)
		default:
			p.count(func(s *PollerStats) { s.TransientErrors++ })
			p.log.WithError(err).Debug("transient poll error")
			p.pause(ctx, p.cfg.ErrorBackoff)
		}

	case OutcomeUnsupported:
		p.count(func(s *PollerStats) { s.Unsupported++ })
		p.log.WithField("count", outcome.Count).Warn("driver reported unsupported target count")
	}
}

// waitForRemoval blocks on the device's removal primitive. A reported removal
// is routed through the slot like a None outcome.
func (p *Poller) waitForRemoval(ctx context.Context, waiter RemovalWaiter, target libnfc.Target) {
	err := waiter.WaitForRemoval(ctx, target)
	switch {
	case err == nil:
		p.count(func(s *PollerStats) { s.Cycles++ })
		p.apply(nil)
	case ctx.Err() != nil:
	case IsHandleInvalid(err):
		p.invalidate(err)
	default:
		p.log.WithError(err).Debug("removal wait failed, falling back to polling")
	}
}

// apply runs CompareAndSet and publishes its events under the emit lock.
func (p *Poller) apply(rec *TagRecord) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.publish(p.slot.CompareAndSet(rec))
}

func (p *Poller) publish(events []PresenceEvent) {
	for _, ev := range events {
		entry := p.log.WithFields(log.Fields{"event": ev.Type, "uid": ev.Record.UID()})
		if ev.Type == EventDetected {
			p.count(func(s *PollerStats) { s.Detections++ })
			entry.Info("tag detected")
		} else {
			p.count(func(s *PollerStats) { s.Removals++ })
			entry.Info("tag removed")
		}
		p.publisher.Publish(ev)
	}
}

// invalidate drops the handle without touching presence state; the loop
// reacquires it before polling again.
func (p *Poller) invalidate(err error) {
	p.setState(StateIdle)
	p.dm.Invalidate(err)
}

func (p *Poller) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-p.clock.After(d):
	}
}

// shutdown clears presence with a synthesized removal, then closes the handle.
func (p *Poller) shutdown() {
	p.apply(nil)
	p.dm.Close()
	p.setState(StateStopped)
	p.log.Info("polling stopped")
}
