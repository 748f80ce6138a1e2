// Package source abstracts where frames come from. The engine only sees the
// FrameSource interface, so tests can feed synthetic frames without a camera.
package source

import (
	"context"
	"errors"

	"github.com/vigilcam/vigil/internal/frame"
)

// ErrEndOfStream signals that the source has no more frames: a video file
// ran out, or a camera stopped responding past the retry budget.
var ErrEndOfStream = errors.New("source: end of stream")

// FrameSource delivers frames in capture order with monotonically increasing
// sequence numbers.
type FrameSource interface {
	// Next blocks until a frame is available. Returns ErrEndOfStream when
	// the source is exhausted, or the context error when ctx is done.
	Next(ctx context.Context) (*frame.Frame, error)
	Close() error
}
