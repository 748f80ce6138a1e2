package engine

import "time"

// fpsEstimator computes the capture rate over a sliding window of frame
// arrival times. Owned by the capture goroutine.
type fpsEstimator struct {
	times []time.Time
	head  int
	count int
}

func newFPSEstimator(window int) *fpsEstimator {
	if window < 2 {
		window = 2
	}
	return &fpsEstimator{times: make([]time.Time, window)}
}

// Tick records a frame arrival.
func (e *fpsEstimator) Tick(t time.Time) {
	e.times[e.head] = t
	e.head = (e.head + 1) % len(e.times)
	if e.count < len(e.times) {
		e.count++
	}
}

// Rate returns frames per second over the window, or 0 until two frames
// have been seen.
func (e *fpsEstimator) Rate() float64 {
	if e.count < 2 {
		return 0
	}
	newest := e.times[(e.head-1+len(e.times))%len(e.times)]
	oldest := e.times[(e.head-e.count+len(e.times))%len(e.times)]
	span := newest.Sub(oldest).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(e.count-1) / span
}
