// Package throttle decides when an authoritative snapshot is rendered.
//
// The controller is either Idle or Deferred. In Deferred exactly one
// snapshot is pending and exactly one timer is armed; a newer snapshot
// replaces the pending one without re-arming.
package throttle

import (
	"io"
	"log"
	"sync"
	"time"

	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
)

const DefaultInterval = 10 * time.Second

type State int

const (
	Idle State = iota
	Deferred
)

func (s State) String() string {
	if s == Deferred {
		return "deferred"
	}
	return "idle"
}

// Reason explains an arrival decision.
type Reason string

const (
	ReasonDisabled   Reason = "disabled"
	ReasonOverride   Reason = "override"
	ReasonZoneChange Reason = "zone_change"
	ReasonExemptZone Reason = "exempt_zone"
	ReasonElapsed    Reason = "interval_elapsed"
	ReasonDeferred   Reason = "deferred"
	ReasonSuperseded Reason = "superseded"
	ReasonStopped    Reason = "stopped"
)

type Decision struct {
	Rendered bool
	Reason   Reason
	// Delay is set when the arrival armed the timer.
	Delay time.Duration
}

// RenderFunc receives snapshots chosen for display. It runs with the
// controller lock held and must not call back into the Controller.
type RenderFunc func(snap *protocol.StateMsg)

type Config struct {
	Clock       Clock
	ExemptZones ZoneSet
	Override    bool
	Journal     journal.Recorder
	SessionID   string
	Logger      *log.Logger
}

type Controller struct {
	clock   Clock
	render  RenderFunc
	exempt  ZoneSet
	journal journal.Recorder
	session string
	log     *log.Logger

	mu             sync.Mutex
	override       bool
	lastZone       protocol.Zone
	lastRenderedAt time.Time
	pending        *protocol.StateMsg
	timer          Timer
	timerGen       uint64
	stopped        bool
}

func New(render RenderFunc, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.ExemptZones == nil {
		cfg.ExemptZones = NewZoneSet(DefaultExemptZones...)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Controller{
		clock:    cfg.Clock,
		render:   render,
		exempt:   cfg.ExemptZones,
		journal:  journal.Or(cfg.Journal),
		session:  cfg.SessionID,
		log:      cfg.Logger,
		override: cfg.Override,
	}
}

func (c *Controller) SetOverride(on bool) {
	c.mu.Lock()
	c.override = on
	c.mu.Unlock()
}

func (c *Controller) Override() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.override
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return Deferred
	}
	return Idle
}

func (c *Controller) TimerArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *Controller) LastRenderedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRenderedAt
}

// Zone is the last known zone, taken from arriving snapshots.
func (c *Controller) Zone() protocol.Zone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastZone
}

// OnSnapshot handles one arriving snapshot.
func (c *Controller) OnSnapshot(snap *protocol.StateMsg) Decision {
	if snap == nil {
		return Decision{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return Decision{Reason: ReasonStopped}
	}
	now := c.clock.Now()

	zoneChanged := false
	if !snap.Zone.IsZero() {
		zoneChanged = !c.lastZone.IsZero() && snap.Zone != c.lastZone
		c.lastZone = snap.Zone
	}

	var reason Reason
	switch {
	case !snap.Throttle.Enabled:
		reason = ReasonDisabled
	case c.override:
		reason = ReasonOverride
	case zoneChanged:
		reason = ReasonZoneChange
	case c.exempt.Contains(snap.Zone):
		reason = ReasonExemptZone
	}
	if reason != "" {
		c.cancelLocked()
		c.renderLocked(snap, now, reason)
		return Decision{Rendered: true, Reason: reason}
	}

	interval := intervalOf(snap.Throttle)
	elapsed := now.Sub(c.lastRenderedAt)
	if c.lastRenderedAt.IsZero() || elapsed >= interval {
		c.cancelLocked()
		c.renderLocked(snap, now, ReasonElapsed)
		return Decision{Rendered: true, Reason: ReasonElapsed}
	}

	superseded := c.pending != nil
	c.pending = snap
	c.record(journal.KindStateDeferred, snap, ReasonDeferred)
	if c.timer != nil {
		return Decision{Reason: ReasonSuperseded}
	}
	delay := interval - elapsed
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(delay, func() { c.fire(gen) })
	if superseded {
		return Decision{Reason: ReasonSuperseded, Delay: delay}
	}
	return Decision{Reason: ReasonDeferred, Delay: delay}
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || gen != c.timerGen || c.timer == nil {
		return
	}
	c.timer = nil
	snap := c.pending
	c.pending = nil
	if snap == nil {
		return
	}
	c.renderLocked(snap, c.clock.Now(), ReasonElapsed)
}

// Stop cancels the armed timer and drops the pending snapshot. A timer that
// is already running observes the stop and does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.pending != nil {
		c.log.Printf("throttle %s: dropping deferred snapshot zone=%s", c.session, c.pending.Zone)
		c.record(journal.KindStateDropped, c.pending, ReasonStopped)
	}
	c.cancelLocked()
}

func (c *Controller) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.pending = nil
}

func (c *Controller) renderLocked(snap *protocol.StateMsg, now time.Time, reason Reason) {
	c.lastRenderedAt = now
	c.record(journal.KindStateRendered, snap, reason)
	if c.render != nil {
		c.render(snap)
	}
}

func (c *Controller) record(kind string, snap *protocol.StateMsg, reason Reason) {
	_ = c.journal.Record(journal.Entry{
		Kind:    kind,
		Session: c.session,
		Zone:    snap.Zone.String(),
		Reason:  string(reason),
	})
}

func intervalOf(cfg protocol.ThrottleConfig) time.Duration {
	if cfg.IntervalMS <= 0 {
		return DefaultInterval
	}
	return time.Duration(cfg.IntervalMS) * time.Millisecond
}
