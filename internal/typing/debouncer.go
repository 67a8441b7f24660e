// Package typing turns a stream of local input changes into at most one
// typing:true and one typing:false per burst of activity.
package typing

import (
	"sync"
	"time"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultRefresh  = 10 * time.Second
)

// State of the debouncer.
type State int

const (
	Idle State = iota
	Composing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Composing:
		return "composing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Debouncer owns a single timer handle; every transition goes through mu so
// overlapping timers cannot race each other.
type Debouncer struct {
	mu       sync.Mutex
	state    State
	timer    *time.Timer
	gen      uint64
	lastSent time.Time

	interval time.Duration
	refresh  time.Duration
	emit     func(typing bool)
	now      func() time.Time
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithInterval sets how long input must pause before typing:false is sent.
func WithInterval(d time.Duration) Option {
	return func(db *Debouncer) { db.interval = d }
}

// WithRefresh sets how often typing:true is repeated during a long burst.
// Zero disables refreshing.
func WithRefresh(d time.Duration) Option {
	return func(db *Debouncer) { db.refresh = d }
}

// New creates an idle debouncer. emit is called with the mutex held, so it
// must not call back into the Debouncer.
func New(emit func(typing bool), opts ...Option) *Debouncer {
	d := &Debouncer{
		interval: DefaultInterval,
		refresh:  DefaultRefresh,
		emit:     emit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Input feeds the current content of the compose box.
func (d *Debouncer) Input(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case Stopped:
		return
	case Idle:
		if text == "" {
			return
		}
		d.state = Composing
		d.send(true)
		d.arm()
	case Composing:
		if text == "" {
			d.toIdle()
			return
		}
		if d.refresh > 0 && d.now().Sub(d.lastSent) >= d.refresh {
			d.send(true)
		}
		d.arm()
	}
}

// Reset returns to idle, sending typing:false if a burst was in progress.
// Used after the composed message has been submitted.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Composing {
		d.toIdle()
	}
}

// Stop cancels the timer for good. No further frames are emitted.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarm()
	d.state = Stopped
}

// State returns the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Debouncer) toIdle() {
	d.disarm()
	d.state = Idle
	d.send(false)
}

func (d *Debouncer) send(typing bool) {
	d.lastSent = d.now()
	if d.emit != nil {
		d.emit(typing)
	}
}

func (d *Debouncer) arm() {
	d.disarm()
	gen := d.gen
	d.timer = time.AfterFunc(d.interval, func() { d.elapsed(gen) })
}

func (d *Debouncer) disarm() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) elapsed(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || d.state != Composing {
		return
	}
	d.timer = nil
	d.toIdle()
}
