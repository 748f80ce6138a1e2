package alert

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilcam/vigil/internal/detect"
)

func person(conf float64) detect.Result {
	return detect.Result{{
		Class:      detect.ClassPerson,
		Confidence: conf,
		Box:        image.Rect(100, 80, 300, 400),
	}}
}

func TestMachineOpensOnFirstDetection(t *testing.T) {
	m := NewMachine(10 * time.Second)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tr := m.Update(now, person(0.9))
	require.NotNil(t, tr)
	assert.Equal(t, TriggerOpened, tr.Kind)
	assert.Equal(t, StateActive, m.State())
	require.NotNil(t, tr.Event)
	assert.Equal(t, now, tr.Event.OpenedAt)
	assert.Equal(t, now, tr.Event.LastSeenAt)
	assert.InDelta(t, 0.9, tr.Event.PeakConfidence, 1e-9)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", tr.Event.ID.String())
}

func TestMachineIdleStaysIdleOnEmpty(t *testing.T) {
	m := NewMachine(10 * time.Second)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.Nil(t, m.Update(now.Add(time.Duration(i)*time.Second), nil))
	}
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.Current())
}

// A flickering detector (present / absent on alternating ticks) must produce
// exactly one opened and one closed transition as long as gaps stay inside
// the cooldown.
func TestMachineFlickerYieldsOneEvent(t *testing.T) {
	m := NewMachine(10 * time.Second)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	var opened, extended, closed int
	// 200 ticks at ~33ms, detection on every other tick.
	now := start
	for i := 0; i < 200; i++ {
		var res detect.Result
		if i%2 == 0 {
			res = person(0.7)
		}
		if tr := m.Update(now, res); tr != nil {
			switch tr.Kind {
			case TriggerOpened:
				opened++
			case TriggerExtended:
				extended++
			case TriggerClosed:
				closed++
			}
		}
		now = now.Add(33 * time.Millisecond)
	}
	assert.Equal(t, 1, opened)
	assert.Positive(t, extended)
	assert.Zero(t, closed)

	// Silence past the cooldown closes it exactly once.
	for i := 0; i < 400; i++ {
		if tr := m.Update(now, nil); tr != nil {
			require.Equal(t, TriggerClosed, tr.Kind)
			closed++
		}
		now = now.Add(33 * time.Millisecond)
	}
	assert.Equal(t, 1, closed)
	assert.Equal(t, StateIdle, m.State())
}

// Detections at t=0s, 1s, 9s and 11s with a 10s cooldown must collapse into a
// single event spanning from t=0 until the cooldown after the last sighting.
func TestMachineGapsInsideCooldownMerge(t *testing.T) {
	m := NewMachine(10 * time.Second)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	at := func(s float64) time.Time { return start.Add(time.Duration(s * float64(time.Second))) }

	detections := map[int]bool{0: true, 10: true, 90: true, 110: true}

	var events []*TriggerEvent
	// Tick at 10 Hz for 250 seconds of wall time.
	for i := 0; i <= 2500; i++ {
		var res detect.Result
		if detections[i] {
			res = person(0.8)
		}
		if tr := m.Update(at(float64(i)/10), res); tr != nil && tr.Kind == TriggerClosed {
			events = append(events, tr.Event)
		}
	}

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, at(0), ev.OpenedAt)
	assert.Equal(t, at(11), ev.LastSeenAt)
	// Cooldown runs from the first empty tick after the last sighting.
	assert.Equal(t, at(21.1), ev.ClosedAt)
	assert.Equal(t, 21100*time.Millisecond, ev.Duration())
}

// Two sightings separated by more than the cooldown are distinct events.
func TestMachineGapBeyondCooldownSplits(t *testing.T) {
	m := NewMachine(2 * time.Second)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	at := func(s float64) time.Time { return start.Add(time.Duration(s * float64(time.Second))) }

	var opened, closed int
	for i := 0; i <= 300; i++ {
		var res detect.Result
		if i == 0 || i == 100 {
			res = person(0.6)
		}
		if tr := m.Update(at(float64(i)/10), res); tr != nil {
			switch tr.Kind {
			case TriggerOpened:
				opened++
			case TriggerClosed:
				closed++
			}
		}
	}
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, closed)
}

func TestMachineCoolingReentryExtendsSameEvent(t *testing.T) {
	m := NewMachine(10 * time.Second)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tr := m.Update(start, person(0.5))
	require.Equal(t, TriggerOpened, tr.Kind)
	id := tr.Event.ID

	require.Nil(t, m.Update(start.Add(time.Second), nil))
	assert.Equal(t, StateCooling, m.State())

	tr = m.Update(start.Add(3*time.Second), person(0.95))
	require.NotNil(t, tr)
	assert.Equal(t, TriggerExtended, tr.Kind)
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, id, tr.Event.ID)
	assert.InDelta(t, 0.95, tr.Event.PeakConfidence, 1e-9)
}

func TestMachineCooldownBoundaryInclusive(t *testing.T) {
	m := NewMachine(10 * time.Second)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	m.Update(start, person(0.5))
	require.Nil(t, m.Update(start.Add(time.Second), nil)) // cooling since t=1s

	// Just under the cooldown: still cooling.
	require.Nil(t, m.Update(start.Add(11*time.Second-time.Millisecond), nil))
	assert.Equal(t, StateCooling, m.State())

	// Exactly at the cooldown: closes.
	tr := m.Update(start.Add(11*time.Second), nil)
	require.NotNil(t, tr)
	assert.Equal(t, TriggerClosed, tr.Kind)
	assert.Equal(t, StateIdle, m.State())
}

// Raising the threshold mid-event disqualifies further detections, so the
// caller feeds empty results and the machine drops to Cooling next tick.
func TestMachineThresholdRaiseForcesCooling(t *testing.T) {
	m := NewMachine(5 * time.Second)
	set, err := detect.NewClassSet([]string{"person"})
	require.NoError(t, err)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	raw := person(0.6)
	m.Update(start, raw.Qualifying(set, 0.45))
	require.Equal(t, StateActive, m.State())

	// Threshold raised above the detection confidence.
	assert.Nil(t, m.Update(start.Add(time.Second), raw.Qualifying(set, 0.8)))
	assert.Equal(t, StateCooling, m.State())
}

func TestMachinePeakTracksMaximum(t *testing.T) {
	m := NewMachine(10 * time.Second)
	start := time.Now()

	m.Update(start, person(0.5))
	m.Update(start.Add(time.Second), person(0.9))
	m.Update(start.Add(2*time.Second), person(0.7))

	require.NotNil(t, m.Current())
	assert.InDelta(t, 0.9, m.Current().PeakConfidence, 1e-9)
}
