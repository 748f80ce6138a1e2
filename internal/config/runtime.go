package config

import (
	"math"
	"sync/atomic"
)

// ThresholdStep is how far a single operator adjustment moves the
// confidence threshold.
const ThresholdStep = 0.05

// Runtime holds the operator-adjustable settings shared by every pipeline
// stage. Each stage reads it atomically every tick; there are no ambient
// globals.
type Runtime struct {
	thresholdBits atomic.Uint64
	paused        atomic.Bool
}

// NewRuntime returns a Runtime seeded with the configured threshold.
func NewRuntime(threshold float64) *Runtime {
	r := &Runtime{}
	r.SetThreshold(threshold)
	return r
}

// Threshold returns the current confidence threshold.
func (r *Runtime) Threshold() float64 {
	return math.Float64frombits(r.thresholdBits.Load())
}

// SetThreshold stores a threshold clamped to [0,1].
func (r *Runtime) SetThreshold(t float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	r.thresholdBits.Store(math.Float64bits(t))
}

// AdjustThreshold moves the threshold by delta, clamped to [0,1], and
// returns the new value.
func (r *Runtime) AdjustThreshold(delta float64) float64 {
	r.SetThreshold(r.Threshold() + delta)
	return r.Threshold()
}

// Paused reports whether state-machine ticking is suspended.
func (r *Runtime) Paused() bool {
	return r.paused.Load()
}

// TogglePause flips the pause flag and returns the new value.
func (r *Runtime) TogglePause() bool {
	for {
		old := r.paused.Load()
		if r.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
