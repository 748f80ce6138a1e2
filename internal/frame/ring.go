package frame

import (
	"sync"
	"time"
)

// Ring is a fixed-capacity circular buffer holding the most recent frames.
// Push overwrites the oldest frame when full. Snapshot returns a consistent
// oldest-first copy without draining the buffer, so the capture path can keep
// pushing while a recorder seeds a clip. Capacity is fixed at construction.
type Ring struct {
	mu       sync.Mutex
	frames   []*Frame
	capacity int
	writePos uint64 // total frames ever pushed

	pushes    uint64
	overflows uint64
}

// NewRing creates a ring buffer with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		frames:   make([]*Frame, capacity),
		capacity: capacity,
	}
}

// Push appends the newest frame, evicting the oldest if the ring is full.
func (r *Ring) Push(f *Frame) {
	if f == nil {
		return
	}
	r.mu.Lock()
	pos := int(r.writePos % uint64(r.capacity))
	if r.frames[pos] != nil {
		r.overflows++
	}
	r.frames[pos] = f
	r.writePos++
	r.pushes++
	r.mu.Unlock()
}

// Snapshot returns all retained frames, oldest first. The returned slice is
// owned by the caller; the ring is left untouched.
func (r *Ring) Snapshot() []*Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.sizeLocked()
	out := make([]*Frame, 0, size)
	start := r.writePos - uint64(size)
	for i := 0; i < size; i++ {
		pos := int((start + uint64(i)) % uint64(r.capacity))
		if f := r.frames[pos]; f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of frames currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sizeLocked()
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return r.capacity
}

// Span returns the time covered from oldest to newest retained frame.
func (r *Ring) Span() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.sizeLocked()
	if size < 2 {
		return 0
	}
	newest := r.frames[int((r.writePos-1)%uint64(r.capacity))]
	oldest := r.frames[int((r.writePos-uint64(size))%uint64(r.capacity))]
	return newest.Timestamp.Sub(oldest.Timestamp)
}

// Reset drops all retained frames.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.frames {
		r.frames[i] = nil
	}
	r.writePos = 0
}

// Stats returns push and overflow counters.
func (r *Ring) Stats() (pushes, overflows uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes, r.overflows
}

func (r *Ring) sizeLocked() int {
	if r.writePos >= uint64(r.capacity) {
		return r.capacity
	}
	return int(r.writePos)
}
