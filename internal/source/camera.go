package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/frame"
)

var errReadFailed = errors.New("source: camera read failed")

// Camera reads frames from a capture device (or a video file path) through
// OpenCV. Not safe for concurrent use: one goroutine owns the read loop.
type Camera struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
	cfg config.CameraConfig
	clk clock.Clock
	log *zap.Logger
	seq uint64
}

// OpenCamera opens the configured capture device and applies the requested
// resolution and frame rate. The device may quietly pick the nearest mode it
// supports; the actual frame size is what its Mats report.
func OpenCamera(cfg config.CameraConfig, clk clock.Clock, log *zap.Logger) (*Camera, error) {
	cap, err := gocv.OpenVideoCapture(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("opening capture device %d: %w", cfg.DeviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("capture device %d is not opened", cfg.DeviceID)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cap.Set(gocv.VideoCaptureFPS, cfg.FrameRate)

	log.Info("capture device opened",
		zap.Int("device", cfg.DeviceID),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Float64("fps", cfg.FrameRate))

	return &Camera{cap: cap, mat: gocv.NewMat(), cfg: cfg, clk: clk, log: log}, nil
}

// Next reads one frame. Transient read failures are retried with a constant
// backoff up to the configured budget; a source still failing after that is
// treated as ended.
func (c *Camera) Next(ctx context.Context) (*frame.Frame, error) {
	read := func() error {
		if !c.cap.Read(&c.mat) || c.mat.Empty() {
			return errReadFailed
		}
		return nil
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryBackoff), uint64(c.cfg.ReadRetries)),
		ctx)
	if err := backoff.Retry(read, bo); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("camera read retries exhausted", zap.Int("retries", c.cfg.ReadRetries))
		return nil, ErrEndOfStream
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting camera frame: %w", err)
	}
	c.seq++
	return &frame.Frame{Image: img, Timestamp: c.clk.Now(), Seq: c.seq}, nil
}

// Close releases the device and the reusable read buffer.
func (c *Camera) Close() error {
	c.mat.Close()
	if err := c.cap.Close(); err != nil {
		return fmt.Errorf("closing capture device: %w", err)
	}
	return nil
}
