// Package snapshot writes still images for alerts and manual captures.
// Encoding is pure Go so stills keep working even when the preview window
// or the GPU-backed paths are unavailable.
package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/detect"
	"github.com/vigilcam/vigil/internal/frame"
)

// stampLayout is ISO-8601 with ':' replaced so names are safe on every
// filesystem. Timestamps are rendered in UTC.
const stampLayout = "2006-01-02T15-04-05Z"

var boxColor = color.RGBA{R: 0, G: 200, B: 60, A: 255}

// Writer persists frames as JPEG stills under a single directory.
type Writer struct {
	dir     string
	quality int
	log     *zap.Logger
}

// NewWriter creates the output directory and returns a snapshot writer.
func NewWriter(cfg config.SnapshotConfig, log *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory %s: %w", cfg.Dir, err)
	}
	return &Writer{dir: cfg.Dir, quality: cfg.JPEGQuality, log: log}, nil
}

// SaveAlert writes the frame that opened an alert, with detection boxes
// burned in, as snapshot_<timestamp>.jpg. Returns the final path.
func (w *Writer) SaveAlert(f *frame.Frame, dets detect.Result) (string, error) {
	img := withBoxes(f.Image, dets)
	name := fmt.Sprintf("snapshot_%s.jpg", f.Timestamp.UTC().Format(stampLayout))
	path := filepath.Join(w.dir, name)
	if err := w.encode(path, img); err != nil {
		return "", err
	}
	w.log.Debug("alert snapshot written",
		zap.String("path", path),
		zap.Int("detections", len(dets)))
	return path, nil
}

// SaveManual writes an operator-requested still as manual_<timestamp>.jpg.
// Repeated captures within the same second get a -1, -2, ... suffix instead
// of overwriting the earlier file.
func (w *Writer) SaveManual(f *frame.Frame, now time.Time) (string, error) {
	stamp := now.UTC().Format(stampLayout)
	path := filepath.Join(w.dir, fmt.Sprintf("manual_%s.jpg", stamp))
	for n := 1; exists(path); n++ {
		path = filepath.Join(w.dir, fmt.Sprintf("manual_%s-%d.jpg", stamp, n))
	}
	if err := w.encode(path, f.Image); err != nil {
		return "", err
	}
	w.log.Debug("manual snapshot written", zap.String("path", path))
	return path, nil
}

// encode writes through a temp file and renames, so a crash mid-write never
// leaves a truncated JPEG under the final name.
func (w *Writer) encode(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating snapshot %s: %w", tmp, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: w.quality}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing snapshot %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// withBoxes returns a copy of src with detection rectangles drawn on it.
// The source frame is never mutated.
func withBoxes(src image.Image, dets detect.Result) image.Image {
	if len(dets) == 0 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	for _, d := range dets {
		drawRect(dst, d.Box.Intersect(b), 2)
	}
	return dst
}

// drawRect outlines r on img with the given edge thickness.
func drawRect(img *image.RGBA, r image.Rectangle, thick int) {
	if r.Empty() {
		return
	}
	top := image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thick)
	bottom := image.Rect(r.Min.X, r.Max.Y-thick, r.Max.X, r.Max.Y)
	left := image.Rect(r.Min.X, r.Min.Y, r.Min.X+thick, r.Max.Y)
	right := image.Rect(r.Max.X-thick, r.Min.Y, r.Max.X, r.Max.Y)
	for _, edge := range []image.Rectangle{top, bottom, left, right} {
		draw.Draw(img, edge.Intersect(img.Bounds()), &image.Uniform{C: boxColor}, image.Point{}, draw.Src)
	}
}
