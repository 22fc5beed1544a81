// Package autosave fires a recurring callback for periodic snapshots.
//
// A Scheduler owns at most one live Timer. Start hands the Timer back to the
// caller, and Stop takes it, so nothing depends on hidden global timer state.
package autosave

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the auto-save period.
const DefaultInterval = 10 * time.Minute

// Timer is a handle on one armed recurring timer.
type Timer struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Stop disarms the timer and waits for an in-flight tick to finish.
// Stopping a nil or already stopped Timer is a no-op.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stopCh) })
	<-t.done
}

// Active reports whether the timer is still armed.
func (t *Timer) Active() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.stopCh:
		return false
	default:
		return true
	}
}

// Scheduler arms recurring timers at a fixed interval.
type Scheduler struct {
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	live *Timer
}

// New returns a Scheduler. A non-positive interval selects DefaultInterval.
func New(interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{interval: interval, logger: logger}
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start arms a timer that calls cb every interval. A timer armed by an
// earlier Start is disarmed first.
func (s *Scheduler) Start(cb func()) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		s.live.Stop()
	}

	t := &Timer{stopCh: make(chan struct{}), done: make(chan struct{})}
	s.live = t
	go s.run(t, cb)

	s.logger.Debug("autosave: armed", slog.Duration("interval", s.interval))
	return t
}

// Stop disarms t. Nil, stale and already stopped handles are no-ops.
func (s *Scheduler) Stop(t *Timer) {
	if t == nil {
		return
	}
	t.Stop()

	s.mu.Lock()
	if s.live == t {
		s.live = nil
		s.logger.Debug("autosave: disarmed")
	}
	s.mu.Unlock()
}

// Armed reports whether a live timer exists.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Active()
}

func (s *Scheduler) run(t *Timer, cb func()) {
	defer close(t.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			// A stop racing with the tick wins.
			select {
			case <-t.stopCh:
				return
			default:
			}
			s.fire(cb)
		}
	}
}

func (s *Scheduler) fire(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("autosave: tick panicked", slog.Any("panic", r))
		}
	}()
	cb()
}
