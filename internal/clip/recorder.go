// Package clip records timed event clips: the pre-roll frames that led up to
// a trigger followed by live frames until the clip budget runs out.
package clip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilcam/vigil/internal/alert"
	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/event"
	"github.com/vigilcam/vigil/internal/frame"
)

const stampLayout = "2006-01-02T15-04-05Z"

// Saved describes one finished clip.
type Saved struct {
	TriggerID uuid.UUID
	Path      string
	Frames    int
	Start     time.Time
	End       time.Time
}

// Duration is the span of recorded frames.
func (s Saved) Duration() time.Duration { return s.End.Sub(s.Start) }

// Recorder owns at most one clip job at a time. Triggers arriving while a
// clip is recording are absorbed; the running clip keeps its original budget.
type Recorder struct {
	cfg    config.ClipConfig
	width  int
	height int
	fps    float64
	clk    clock.Clock
	sink   event.Sink
	log    *zap.Logger

	onSaved func(Saved)

	mu     sync.Mutex
	job    *job
	closed bool

	dropped  atomic.Uint64
	absorbed atomic.Uint64
}

// NewRecorder creates the clip output directory and returns a recorder.
func NewRecorder(cfg config.ClipConfig, cam config.CameraConfig, clk clock.Clock, sink event.Sink, log *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating clip directory %s: %w", cfg.Dir, err)
	}
	return &Recorder{
		cfg:    cfg,
		width:  cam.Width,
		height: cam.Height,
		fps:    cam.FrameRate,
		clk:    clk,
		sink:   sink,
		log:    log,
	}, nil
}

// OnSaved registers a callback invoked from the clip goroutine after each
// successful finalize. Must be set before the first trigger.
func (r *Recorder) OnSaved(fn func(Saved)) { r.onSaved = fn }

// Recording reports whether a clip job is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job != nil
}

// Stats returns frames dropped on the clip queue and triggers absorbed into
// a running clip.
func (r *Recorder) Stats() (dropped, absorbed uint64) {
	return r.dropped.Load(), r.absorbed.Load()
}

// HandleTrigger starts a clip for the opened event. preroll is the ring
// snapshot taken at trigger time, oldest first. If a clip is already
// recording the trigger is absorbed and the running clip is untouched.
func (r *Recorder) HandleTrigger(ev *alert.TriggerEvent, preroll []*frame.Frame) {
	if !r.cfg.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.job != nil {
		r.absorbed.Add(1)
		r.log.Debug("trigger absorbed into running clip", zap.String("trigger_id", ev.ID.String()))
		return
	}

	if free, err := freeBytes(r.cfg.Dir); err != nil {
		r.log.Warn("disk space check failed", zap.Error(err))
	} else if free < r.cfg.MinFreeBytes {
		r.sink.Record(event.Entry{
			At: ev.OpenedAt, Level: event.LevelError, Kind: event.ClipAborted,
			Fields: []event.Field{
				event.String("reason", "low_disk"),
				event.Uint64("free_bytes", free),
			},
		})
		return
	}

	start := ev.OpenedAt
	if len(preroll) > 0 {
		start = preroll[0].Timestamp
	}
	deadline := ev.OpenedAt.Add(r.cfg.Duration)
	if r.cfg.Policy == config.PrerollInclusive {
		deadline = start.Add(r.cfg.Duration)
	}

	path := r.clipPath(ev.OpenedAt)
	mux, err := newMuxer(path, r.width, r.height, r.fps, r.cfg.JPEGQuality)
	if err != nil {
		r.log.Error("clip start failed", zap.Error(err))
		r.sink.Record(event.Entry{
			At: ev.OpenedAt, Level: event.LevelError, Kind: event.ClipAborted,
			Fields: []event.Field{event.Err(err)},
		})
		return
	}

	j := &job{
		r:         r,
		triggerID: ev.ID,
		deadline:  deadline,
		mux:       mux,
		preroll:   preroll,
		frames:    make(chan *frame.Frame, r.cfg.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.job = j

	r.sink.Record(event.Entry{
		At: ev.OpenedAt, Level: event.LevelInfo, Kind: event.ClipStarted,
		Fields: []event.Field{
			event.String("file", filepath.Base(path)),
			event.Int("preroll_frames", len(preroll)),
		},
	})
	go j.run()
}

// Submit offers a live frame to the running clip, if any. Never blocks the
// capture path: when the clip queue is full the frame is dropped and counted.
func (r *Recorder) Submit(f *frame.Frame) {
	r.mu.Lock()
	j := r.job
	r.mu.Unlock()
	if j == nil {
		return
	}
	select {
	case j.frames <- f:
	default:
		r.dropped.Add(1)
	}
}

// Close stops accepting triggers and flushes any in-progress clip. A clip
// interrupted by shutdown is finalized with the frames written so far.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	j := r.job
	r.mu.Unlock()
	if j == nil {
		return nil
	}
	close(j.quit)
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for clip flush: %w", ctx.Err())
	}
}

func (r *Recorder) clipPath(opened time.Time) string {
	stamp := opened.UTC().Format(stampLayout)
	path := filepath.Join(r.cfg.Dir, fmt.Sprintf("clip_%s.mkv", stamp))
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(r.cfg.Dir, fmt.Sprintf("clip_%s-%d.mkv", stamp, n))
	}
	return path
}

func (r *Recorder) clearJob(j *job) {
	r.mu.Lock()
	if r.job == j {
		r.job = nil
	}
	r.mu.Unlock()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// job is one recording in flight. It runs on its own goroutine and never
// touches the recorder's mutable state except through clearJob.
type job struct {
	r         *Recorder
	triggerID uuid.UUID
	deadline  time.Time
	mux       *muxer
	preroll   []*frame.Frame
	frames    chan *frame.Frame
	quit      chan struct{}
	done      chan struct{}

	lastSeq uint64
	start   time.Time
	end     time.Time
}

func (j *job) run() {
	defer close(j.done)
	defer j.r.clearJob(j)

	for _, f := range j.preroll {
		if err := j.write(f); err != nil {
			j.abort(err)
			return
		}
	}

	// Wall-clock backstop: the budget elapses even when live frames stall,
	// for example while the operator has detection paused.
	timer := j.r.clk.Timer(j.deadline.Sub(j.r.clk.Now()))
	defer timer.Stop()

	for {
		select {
		case f := <-j.frames:
			// The ring snapshot can overlap the first live frames.
			if f.Seq <= j.lastSeq {
				continue
			}
			if f.Timestamp.After(j.deadline) {
				j.finish()
				return
			}
			if err := j.write(f); err != nil {
				j.abort(err)
				return
			}
		case <-timer.C:
			j.finish()
			return
		case <-j.quit:
			j.finish()
			return
		}
	}
}

func (j *job) write(f *frame.Frame) error {
	if err := j.mux.writeFrame(f); err != nil {
		return err
	}
	if j.start.IsZero() {
		j.start = f.Timestamp
	}
	j.end = f.Timestamp
	j.lastSeq = f.Seq
	return nil
}

func (j *job) finish() {
	if err := j.mux.finalize(); err != nil {
		j.r.log.Error("clip finalize failed", zap.Error(err))
		j.r.sink.Record(event.Entry{
			At: j.end, Level: event.LevelError, Kind: event.ClipAborted,
			Fields: []event.Field{event.Err(err)},
		})
		return
	}
	saved := Saved{
		TriggerID: j.triggerID,
		Path:      j.mux.path,
		Frames:    j.mux.frames,
		Start:     j.start,
		End:       j.end,
	}
	j.r.sink.Record(event.Entry{
		At: j.end, Level: event.LevelInfo, Kind: event.ClipSaved,
		Fields: []event.Field{
			event.String("file", filepath.Base(saved.Path)),
			event.Int("frames", saved.Frames),
			event.Duration("length", saved.Duration()),
		},
	})
	if j.r.onSaved != nil {
		j.r.onSaved(saved)
	}
}

func (j *job) abort(err error) {
	j.mux.abort()
	j.r.log.Error("clip aborted", zap.Error(err), zap.String("trigger_id", j.triggerID.String()))
	j.r.sink.Record(event.Entry{
		At: j.end, Level: event.LevelError, Kind: event.ClipAborted,
		Fields: []event.Field{event.Err(err)},
	})
}
