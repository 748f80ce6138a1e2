// Package alert implements the debounced trigger lifecycle: a noisy stream of
// per-frame detection results is collapsed into discrete open/extend/close
// transitions, so one physical presence yields one event.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/vigilcam/vigil/internal/detect"
)

// State is the alert lifecycle state. Exactly one state holds at any instant.
type State int

const (
	// StateIdle: no recent qualifying detections.
	StateIdle State = iota
	// StateActive: a qualifying detection is present or was seen on the
	// previous tick.
	StateActive
	// StateCooling: detections stopped; waiting out the cooldown before the
	// event is allowed to close.
	StateCooling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCooling:
		return "cooling"
	default:
		return "invalid"
	}
}

// TriggerEvent is one debounced alert. It is created on the Idle->Active
// transition, extended while re-triggered, and immutable once closed.
type TriggerEvent struct {
	ID               uuid.UUID
	OpenedAt         time.Time
	DetectionsAtOpen detect.Result
	LastSeenAt       time.Time
	PeakConfidence   float64
	ClosedAt         time.Time
}

// Duration returns the open-to-close span; zero while the event is open.
func (e *TriggerEvent) Duration() time.Duration {
	if e.ClosedAt.IsZero() {
		return 0
	}
	return e.ClosedAt.Sub(e.OpenedAt)
}

// TransitionKind labels a lifecycle transition.
type TransitionKind int

const (
	// TriggerOpened: Idle -> Active. Starts snapshot and clip capture.
	TriggerOpened TransitionKind = iota
	// TriggerExtended: re-trigger absorbed into the open event. No new
	// snapshot or clip.
	TriggerExtended
	// TriggerClosed: cooldown elapsed, event finalized.
	TriggerClosed
)

func (k TransitionKind) String() string {
	switch k {
	case TriggerOpened:
		return "opened"
	case TriggerExtended:
		return "extended"
	case TriggerClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Transition is one emitted lifecycle change.
type Transition struct {
	Kind       TransitionKind
	Event      *TriggerEvent
	Detections detect.Result
	At         time.Time
}

// Machine is the two-timer debounce core. It is not safe for concurrent use:
// ticks must be fed in strict frame-sequence order by a single goroutine.
type Machine struct {
	cooldown time.Duration

	state        State
	current      *TriggerEvent
	coolingSince time.Time
}

// NewMachine creates a state machine with the given cooldown.
func NewMachine(cooldown time.Duration) *Machine {
	return &Machine{cooldown: cooldown}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Current returns the open TriggerEvent, or nil while Idle.
func (m *Machine) Current() *TriggerEvent { return m.current }

// AlertActive reports whether an alert is in progress (Active or Cooling).
func (m *Machine) AlertActive() bool { return m.state != StateIdle }

// Update consumes one tick. The caller filters the frame's detections against
// the current threshold and class set before calling, so a threshold raised
// mid-Active naturally forces Cooling on the next tick. A frame that failed to
// decode is fed as an empty result, which fails open toward Idle, never toward
// a spurious Active.
//
// Returns the transition this tick produced, or nil.
func (m *Machine) Update(now time.Time, qualifying detect.Result) *Transition {
	present := len(qualifying) > 0

	switch m.state {
	case StateIdle:
		if !present {
			return nil
		}
		m.state = StateActive
		m.current = &TriggerEvent{
			ID:               uuid.New(),
			OpenedAt:         now,
			DetectionsAtOpen: qualifying,
			LastSeenAt:       now,
			PeakConfidence:   qualifying.Peak(),
		}
		return &Transition{Kind: TriggerOpened, Event: m.current, Detections: qualifying, At: now}

	case StateActive:
		if present {
			m.extend(now, qualifying)
			return &Transition{Kind: TriggerExtended, Event: m.current, Detections: qualifying, At: now}
		}
		m.state = StateCooling
		m.coolingSince = now
		return nil

	case StateCooling:
		if present {
			// Re-trigger absorbed into the same event; no new clip.
			m.state = StateActive
			m.extend(now, qualifying)
			return &Transition{Kind: TriggerExtended, Event: m.current, Detections: qualifying, At: now}
		}
		if now.Sub(m.coolingSince) >= m.cooldown {
			ev := m.current
			ev.ClosedAt = now
			m.state = StateIdle
			m.current = nil
			return &Transition{Kind: TriggerClosed, Event: ev, At: now}
		}
		return nil
	}
	return nil
}

func (m *Machine) extend(now time.Time, qualifying detect.Result) {
	m.current.LastSeenAt = now
	if p := qualifying.Peak(); p > m.current.PeakConfidence {
		m.current.PeakConfidence = p
	}
}
