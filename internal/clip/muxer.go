package clip

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"time"

	"github.com/at-wat/ebml-go/webm"

	"github.com/vigilcam/vigil/internal/frame"
)

// muxer writes frames as an MJPEG track in a Matroska container. Frames are
// encoded with the pure-Go JPEG encoder, so clip writing has no native
// dependencies and keeps working headless.
//
// Output goes to <path>.tmp and is renamed into place on finalize, so a crash
// or abort never leaves a half-written file under the final name.
type muxer struct {
	path    string
	tmp     string
	block   webm.BlockWriteCloser
	quality int

	first  time.Time
	frames int
	buf    bytes.Buffer
}

func newMuxer(path string, width, height int, fps float64, quality int) (*muxer, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating clip file %s: %w", tmp, err)
	}
	writers, err := webm.NewSimpleBlockWriter(f, []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "V_MJPEG",
			TrackType:       1,
			DefaultDuration: uint64(float64(time.Second) / fps),
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		},
	})
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("creating clip container: %w", err)
	}
	return &muxer{path: path, tmp: tmp, block: writers[0], quality: quality}, nil
}

// writeFrame encodes and appends one frame. Block timestamps are relative to
// the first written frame. Every MJPEG frame is independently decodable, so
// each block is a keyframe.
func (m *muxer) writeFrame(f *frame.Frame) error {
	if m.frames == 0 {
		m.first = f.Timestamp
	}
	m.buf.Reset()
	if err := jpeg.Encode(&m.buf, f.Image, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("encoding clip frame %d: %w", f.Seq, err)
	}
	tc := f.Timestamp.Sub(m.first).Milliseconds()
	if _, err := m.block.Write(true, tc, m.buf.Bytes()); err != nil {
		return fmt.Errorf("writing clip frame %d: %w", f.Seq, err)
	}
	m.frames++
	return nil
}

// finalize closes the container and renames it to its final name. Closing
// the block writer also closes the underlying file.
func (m *muxer) finalize() error {
	if err := m.block.Close(); err != nil {
		os.Remove(m.tmp)
		return fmt.Errorf("closing clip container: %w", err)
	}
	if err := os.Rename(m.tmp, m.path); err != nil {
		os.Remove(m.tmp)
		return fmt.Errorf("renaming clip into place: %w", err)
	}
	return nil
}

// abort discards the temp file. Safe to call after a failed write.
func (m *muxer) abort() {
	m.block.Close()
	os.Remove(m.tmp)
}
