package snapshot

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/detect"
	"github.com/vigilcam/vigil/internal/frame"
)

func testFrame(t *testing.T, ts time.Time) *frame.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
		}
	}
	return &frame.Frame{Image: img, Timestamp: ts, Seq: 1}
}

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWriter(config.SnapshotConfig{Dir: dir, JPEGQuality: 90}, zap.NewNop())
	require.NoError(t, err)
	return w, dir
}

func TestSaveAlertNameAndContent(t *testing.T) {
	w, dir := newTestWriter(t)
	ts := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)

	dets := detect.Result{{Class: detect.ClassPerson, Confidence: 0.9, Box: image.Rect(10, 10, 40, 40)}}
	path, err := w.SaveAlert(testFrame(t, ts), dets)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snapshot_2026-08-30T14-05-09Z.jpg"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	// No stray temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSaveAlertDrawsBoxes(t *testing.T) {
	w, _ := newTestWriter(t)
	ts := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)

	dets := detect.Result{{Class: detect.ClassPerson, Confidence: 0.9, Box: image.Rect(10, 10, 40, 40)}}
	path, err := w.SaveAlert(testFrame(t, ts), dets)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)

	// Box edge pixel is green-dominant even after JPEG loss; interior far
	// from the edge stays dark.
	r, g, b, _ := img.At(10, 10).RGBA()
	assert.Greater(t, g, r)
	assert.Greater(t, g, b)
	_, gIn, _, _ := img.At(25, 25).RGBA()
	assert.Less(t, gIn, uint32(0x4000))
}

func TestSaveAlertBoxOutsideBoundsClipped(t *testing.T) {
	w, _ := newTestWriter(t)
	ts := time.Date(2026, 8, 30, 14, 5, 10, 0, time.UTC)

	dets := detect.Result{{Class: detect.ClassPerson, Confidence: 0.9, Box: image.Rect(-20, -20, 500, 500)}}
	_, err := w.SaveAlert(testFrame(t, ts), dets)
	assert.NoError(t, err)
}

func TestSaveManualCollisionSuffix(t *testing.T) {
	w, dir := newTestWriter(t)
	ts := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)
	fr := testFrame(t, ts)

	p1, err := w.SaveManual(fr, ts)
	require.NoError(t, err)
	p2, err := w.SaveManual(fr, ts)
	require.NoError(t, err)
	p3, err := w.SaveManual(fr, ts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "manual_2026-08-30T14-05-09Z.jpg"), p1)
	assert.Equal(t, filepath.Join(dir, "manual_2026-08-30T14-05-09Z-1.jpg"), p2)
	assert.Equal(t, filepath.Join(dir, "manual_2026-08-30T14-05-09Z-2.jpg"), p3)

	for _, p := range []string{p1, p2, p3} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestStampIsUTC(t *testing.T) {
	w, dir := newTestWriter(t)
	loc := time.FixedZone("UTC+4", 4*3600)
	ts := time.Date(2026, 8, 30, 16, 0, 0, 0, loc) // 12:00 UTC

	path, err := w.SaveManual(testFrame(t, ts), ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "manual_2026-08-30T12-00-00Z.jpg"), path)
}
