package engine

import (
	"github.com/vigilcam/vigil/internal/detect"
	"github.com/vigilcam/vigil/internal/frame"
)

// inference is one completed detector pass, tagged with the frame it ran on.
type inference struct {
	frame  *frame.Frame
	result detect.Result
	err    error
}

// resequencer restores dispatch order over inferences completed by a worker
// pool. Dispatch notices arrive in strictly increasing sequence order;
// results may arrive in any order and may even beat their notice. Owned by a
// single goroutine, no locking.
type resequencer struct {
	queue []uint64
	ready map[uint64]inference
}

func newResequencer() *resequencer {
	return &resequencer{ready: make(map[uint64]inference)}
}

// expect registers a dispatched sequence number and returns any inferences
// that are now releasable in order.
func (r *resequencer) expect(seq uint64) []inference {
	r.queue = append(r.queue, seq)
	return r.drain()
}

// deliver stores a completed inference and returns releasable ones in order.
func (r *resequencer) deliver(inf inference) []inference {
	r.ready[inf.frame.Seq] = inf
	return r.drain()
}

func (r *resequencer) drain() []inference {
	var out []inference
	for len(r.queue) > 0 {
		inf, ok := r.ready[r.queue[0]]
		if !ok {
			break
		}
		delete(r.ready, r.queue[0])
		r.queue = r.queue[1:]
		out = append(out, inf)
	}
	return out
}

// pending reports how many dispatched frames still lack a result.
func (r *resequencer) pending() int { return len(r.queue) }
