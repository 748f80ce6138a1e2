// Package engine wires the capture pipeline together: frames flow from the
// source through the pre-roll ring and the detector pool into the alert state
// machine, which fans out to snapshots, clips and the event log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vigilcam/vigil/internal/alert"
	"github.com/vigilcam/vigil/internal/clip"
	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/detect"
	"github.com/vigilcam/vigil/internal/event"
	"github.com/vigilcam/vigil/internal/frame"
	"github.com/vigilcam/vigil/internal/snapshot"
	"github.com/vigilcam/vigil/internal/source"
	"github.com/vigilcam/vigil/internal/store"
)

var errQueueFull = errors.New("engine: detection queue full")

// Command is an operator control applied on the state goroutine.
type Command int

const (
	CmdPauseToggle Command = iota
	CmdThresholdUp
	CmdThresholdDown
	CmdManualSnapshot
)

// Status is the per-frame view handed to the renderer.
type Status struct {
	FPS         float64
	Threshold   float64
	Paused      bool
	AlertActive bool
	Recording   bool
	Detections  detect.Result
}

// Renderer receives every captured frame with the current status. Called from
// the capture goroutine; must not block for long.
type Renderer func(f *frame.Frame, st Status)

// Deps bundles the engine's collaborators. Store and Render may be nil.
type Deps struct {
	Source    source.FrameSource
	Detector  detect.Detector
	Snapshots *snapshot.Writer
	Clips     *clip.Recorder
	Sink      event.Sink
	Store     *store.Store
	Clock     clock.Clock
	Log       *zap.Logger
	Render    Renderer
}

// stateView is the detection state published for rendering.
type stateView struct {
	alertActive bool
	detections  detect.Result
}

// Engine runs the pipeline. Create with New, drive with Run.
type Engine struct {
	cfg  *config.Config
	rt   *config.Runtime
	deps Deps

	classes detect.ClassSet
	ring    *frame.Ring
	machine *alert.Machine

	tasks    chan *frame.Frame
	results  chan inference
	settled  chan inference
	notices  chan uint64
	commands chan Command

	lastFrame atomic.Pointer[frame.Frame]
	view      atomic.Pointer[stateView]
	dropped   atomic.Uint64
}

// New validates the configuration and assembles an engine.
func New(cfg *config.Config, rt *config.Runtime, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	classes, err := detect.NewClassSet(cfg.Detect.Classes)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	slack := cfg.Detect.QueueSize + cfg.Detect.Workers + 16
	e := &Engine{
		cfg:      cfg,
		rt:       rt,
		deps:     deps,
		classes:  classes,
		ring:     frame.NewRing(cfg.PrerollFrames()),
		machine:  alert.NewMachine(cfg.Alert.Cooldown),
		tasks:    make(chan *frame.Frame, cfg.Detect.QueueSize),
		results:  make(chan inference, slack),
		settled:  make(chan inference, slack),
		notices:  make(chan uint64, slack),
		commands: make(chan Command, 16),
	}
	e.view.Store(&stateView{})

	deps.Clips.OnSaved(e.clipSaved)
	return e, nil
}

// Control submits an operator command. Never blocks; commands arriving
// faster than the state loop drains them are dropped.
func (e *Engine) Control(cmd Command) {
	select {
	case e.commands <- cmd:
	default:
	}
}

// DroppedFrames reports frames skipped because the detection queue was full.
func (e *Engine) DroppedFrames() uint64 { return e.dropped.Load() }

// Run drives the pipeline until the source ends or ctx is canceled. It owns
// the capture, worker and state goroutines; collaborators passed in Deps are
// closed by the caller, except the clip recorder which is flushed here so a
// clip interrupted by shutdown still lands on disk.
func (e *Engine) Run(ctx context.Context) error {
	e.deps.Sink.Record(event.Entry{
		At: e.deps.Clock.Now(), Level: event.LevelInfo, Kind: event.SessionStarted,
		Fields: []event.Field{
			event.Float64("threshold", e.rt.Threshold()),
			event.Int("preroll_frames", e.ring.Cap()),
		},
	})

	var workers sync.WaitGroup
	for i := 0; i < e.cfg.Detect.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			e.workerLoop()
		}()
	}

	var state sync.WaitGroup
	state.Add(1)
	go func() {
		defer state.Done()
		e.stateLoop(ctx)
	}()

	captureErr := e.captureLoop(ctx)

	close(e.tasks)
	workers.Wait()
	close(e.results)
	state.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Pipeline.ShutdownTimeout)
	defer cancel()
	if err := e.deps.Clips.Close(flushCtx); err != nil {
		e.deps.Log.Error("clip flush on shutdown failed", zap.Error(err))
	}

	e.deps.Sink.Record(event.Entry{
		At: e.deps.Clock.Now(), Level: event.LevelInfo, Kind: event.SessionStopped,
		Fields: []event.Field{event.Uint64("dropped_frames", e.dropped.Load())},
	})
	return captureErr
}

// captureLoop reads frames and fans them out. The ring and the clip queue
// see every frame; the detector only sees dispatched ones.
func (e *Engine) captureLoop(ctx context.Context) error {
	fps := newFPSEstimator(e.cfg.Pipeline.FPSWindow)
	skip := uint64(e.cfg.Detect.FrameSkip)

	for {
		f, err := e.deps.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrEndOfStream) {
				e.deps.Log.Info("frame source ended")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		e.ring.Push(f)
		e.lastFrame.Store(f)
		e.deps.Clips.Submit(f)
		fps.Tick(f.Timestamp)

		if !e.rt.Paused() && f.Seq%skip == 0 {
			e.dispatch(f)
		}

		if e.deps.Render != nil {
			v := e.view.Load()
			e.deps.Render(f, Status{
				FPS:         fps.Rate(),
				Threshold:   e.rt.Threshold(),
				Paused:      e.rt.Paused(),
				AlertActive: v.alertActive || e.deps.Clips.Recording(),
				Recording:   e.deps.Clips.Recording(),
				Detections:  v.detections,
			})
		}
	}
}

// dispatch offers the frame to the worker pool and registers it with the
// resequencer. It never blocks: a full queue evicts its oldest frame in
// favor of the new one, and the evicted slot is settled with a synthetic
// empty inference so ordering never stalls. The capture goroutine is the
// only sender on tasks, settled and notices, so the capacity checks below
// guarantee every send has room.
func (e *Engine) dispatch(f *frame.Frame) {
	if len(e.notices) == cap(e.notices) || len(e.settled) == cap(e.settled) {
		e.dropped.Add(1)
		return
	}
	select {
	case e.tasks <- f:
	default:
		select {
		case old := <-e.tasks:
			e.dropped.Add(1)
			e.settled <- inference{frame: old, err: errQueueFull}
		default:
			// A worker drained the queue between the two selects.
		}
		e.tasks <- f
	}
	e.notices <- f.Seq
}

func (e *Engine) workerLoop() {
	for f := range e.tasks {
		res, err := e.deps.Detector.Infer(f, e.rt.Threshold())
		e.results <- inference{frame: f, result: res, err: err}
	}
}

// stateLoop owns the alert machine. Inferences are reordered to frame
// sequence before they tick the machine, so a slow worker can never make
// detections appear to travel back in time.
func (e *Engine) stateLoop(ctx context.Context) {
	reseq := newResequencer()
	for {
		select {
		case seq := <-e.notices:
			for _, inf := range reseq.expect(seq) {
				e.step(ctx, inf)
			}
		case inf := <-e.settled:
			for _, rel := range reseq.deliver(inf) {
				e.step(ctx, rel)
			}
		case inf, ok := <-e.results:
			if !ok {
				e.drainTail(ctx, reseq)
				return
			}
			for _, rel := range reseq.deliver(inf) {
				e.step(ctx, rel)
			}
		case cmd := <-e.commands:
			e.handleCommand(cmd)
		}
	}
}

// drainTail runs after the workers have finished. Notices and settlements
// still buffered at that point pair up with inferences already delivered to
// the resequencer; without this pass the machine would miss its last ticks.
func (e *Engine) drainTail(ctx context.Context, reseq *resequencer) {
	for {
		select {
		case seq := <-e.notices:
			for _, inf := range reseq.expect(seq) {
				e.step(ctx, inf)
			}
		case inf := <-e.settled:
			for _, rel := range reseq.deliver(inf) {
				e.step(ctx, rel)
			}
		default:
			return
		}
	}
}

// step feeds one in-order inference to the state machine and acts on the
// resulting transition.
func (e *Engine) step(ctx context.Context, inf inference) {
	var qualifying detect.Result
	switch {
	case errors.Is(inf.err, errQueueFull):
		// Evicted before inference: an empty tick. The cooldown absorbs
		// short gaps.
	case inf.err != nil:
		e.deps.Log.Warn("inference failed", zap.Uint64("seq", inf.frame.Seq), zap.Error(inf.err))
	default:
		qualifying = inf.result.Qualifying(e.classes, e.rt.Threshold())
	}

	tr := e.machine.Update(inf.frame.Timestamp, qualifying)
	e.view.Store(&stateView{alertActive: e.machine.AlertActive(), detections: qualifying})
	if tr == nil {
		return
	}

	switch tr.Kind {
	case alert.TriggerOpened:
		e.openTrigger(ctx, tr, inf.frame)
	case alert.TriggerExtended:
		// Absorbed; nothing to persist.
	case alert.TriggerClosed:
		e.closeTrigger(ctx, tr)
	}
}

func (e *Engine) openTrigger(ctx context.Context, tr *alert.Transition, f *frame.Frame) {
	ev := tr.Event
	preroll := e.ring.Snapshot()

	e.deps.Sink.Record(event.Entry{
		At: ev.OpenedAt, Level: event.LevelInfo, Kind: event.PersonDetected,
		Fields: []event.Field{
			event.String("trigger_id", ev.ID.String()),
			event.Float64("confidence", ev.PeakConfidence),
			event.Int("count", len(tr.Detections)),
		},
	})

	var snapshotPath string
	if e.cfg.Snapshot.Enabled {
		path, err := e.deps.Snapshots.SaveAlert(f, tr.Detections)
		if err != nil {
			e.deps.Log.Error("alert snapshot failed", zap.Error(err))
		} else {
			snapshotPath = path
			e.deps.Sink.Record(event.Entry{
				At: ev.OpenedAt, Level: event.LevelInfo, Kind: event.SnapshotSaved,
				Fields: []event.Field{event.String("file", path)},
			})
		}
	}

	if e.deps.Store != nil {
		if err := e.deps.Store.SaveEvent(ctx, ev.ID, ev.OpenedAt, ev.PeakConfidence, snapshotPath); err != nil {
			e.deps.Log.Error("event index insert failed", zap.Error(err))
		}
	}

	e.deps.Clips.HandleTrigger(ev, preroll)
}

func (e *Engine) closeTrigger(ctx context.Context, tr *alert.Transition) {
	ev := tr.Event
	e.deps.Sink.Record(event.Entry{
		At: ev.ClosedAt, Level: event.LevelInfo, Kind: event.AlertClosed,
		Fields: []event.Field{
			event.String("trigger_id", ev.ID.String()),
			event.Duration("duration", ev.Duration()),
			event.Float64("peak_confidence", ev.PeakConfidence),
		},
	})
	if e.deps.Store != nil {
		if err := e.deps.Store.CloseEvent(ctx, ev.ID, ev.ClosedAt, ev.PeakConfidence); err != nil {
			e.deps.Log.Error("event index close failed", zap.Error(err))
		}
	}
}

// clipSaved runs on the clip goroutine after each finalized clip.
func (e *Engine) clipSaved(s clip.Saved) {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.AttachClip(context.Background(), s.TriggerID, s.Path, s.Frames); err != nil {
		e.deps.Log.Error("event index clip attach failed", zap.Error(err))
	}
}

func (e *Engine) handleCommand(cmd Command) {
	now := e.deps.Clock.Now()
	switch cmd {
	case CmdPauseToggle:
		kind := event.Resumed
		if e.rt.TogglePause() {
			kind = event.Paused
		}
		e.deps.Sink.Record(event.Entry{At: now, Level: event.LevelInfo, Kind: kind})

	case CmdThresholdUp, CmdThresholdDown:
		delta := config.ThresholdStep
		if cmd == CmdThresholdDown {
			delta = -delta
		}
		nv := e.rt.AdjustThreshold(delta)
		e.deps.Sink.Record(event.Entry{
			At: now, Level: event.LevelInfo, Kind: event.ThresholdChanged,
			Fields: []event.Field{event.Float64("threshold", nv)},
		})

	case CmdManualSnapshot:
		f := e.lastFrame.Load()
		if f == nil || !e.cfg.Snapshot.Enabled {
			return
		}
		path, err := e.deps.Snapshots.SaveManual(f, now)
		if err != nil {
			e.deps.Log.Error("manual snapshot failed", zap.Error(err))
			return
		}
		e.deps.Sink.Record(event.Entry{
			At: now, Level: event.LevelInfo, Kind: event.ManualSnapshot,
			Fields: []event.Field{event.String("file", path)},
		})
	}
}
