package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFPSEstimatorSteadyRate(t *testing.T) {
	e := newFPSEstimator(30)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		e.Tick(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	assert.InDelta(t, 10.0, e.Rate(), 0.01)
}

func TestFPSEstimatorNeedsTwoFrames(t *testing.T) {
	e := newFPSEstimator(30)
	assert.Zero(t, e.Rate())
	e.Tick(time.Now())
	assert.Zero(t, e.Rate())
}

func TestFPSEstimatorTracksRateChange(t *testing.T) {
	e := newFPSEstimator(10)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	// 30 fps burst...
	ts := base
	for i := 0; i < 20; i++ {
		e.Tick(ts)
		ts = ts.Add(time.Second / 30)
	}
	assert.InDelta(t, 30.0, e.Rate(), 0.5)
	// ...then the camera slows to 5 fps; the window follows.
	for i := 0; i < 20; i++ {
		e.Tick(ts)
		ts = ts.Add(time.Second / 5)
	}
	assert.InDelta(t, 5.0, e.Rate(), 0.2)
}

func TestFPSEstimatorIdenticalTimestamps(t *testing.T) {
	e := newFPSEstimator(5)
	now := time.Now()
	e.Tick(now)
	e.Tick(now)
	assert.Zero(t, e.Rate())
}
