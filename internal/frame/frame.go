// Package frame defines the video frame type and the pre-roll ring buffer.
package frame

import (
	"image"
	"time"
)

// Frame is one captured video frame with metadata. Frames are immutable once
// produced; multiple consumers may hold the same Frame concurrently as
// read-only.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Seq       uint64
}

// Bounds returns the pixel bounds of the frame image.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}
