// Command vigil runs the detection and clip capture engine against a local
// camera, with an optional preview window.
//
// Preview keys:
//
//	q       quit
//	s       manual snapshot
//	space   pause/resume detection
//	+ / -   raise/lower the confidence threshold
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/vigilcam/vigil/internal/camlog"
	"github.com/vigilcam/vigil/internal/clip"
	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/detect"
	"github.com/vigilcam/vigil/internal/engine"
	"github.com/vigilcam/vigil/internal/event"
	"github.com/vigilcam/vigil/internal/frame"
	"github.com/vigilcam/vigil/internal/imgconv"
	"github.com/vigilcam/vigil/internal/overlay"
	"github.com/vigilcam/vigil/internal/snapshot"
	"github.com/vigilcam/vigil/internal/source"
	"github.com/vigilcam/vigil/internal/store"
)

const windowTitle = "vigil"

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	headless := flag.Bool("headless", false, "run without a preview window")
	flag.Parse()

	// Machine-local overrides live in .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := camlog.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(cfg, logger, *headless)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	// Fatal would skip the cleanup, so close before deciding the exit code.
	runErr := app.run(ctx)
	app.close()
	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		logger.Sync()
		os.Exit(1)
	}
}

// preview is the most recent frame plus the status to draw with it.
type preview struct {
	f  *frame.Frame
	st engine.Status
}

type application struct {
	cfg      *config.Config
	log      *zap.Logger
	headless bool

	sink *event.FileSink
	db   *store.Store
	cam  *source.Camera
	det  *detect.DNNDetector
	eng  *engine.Engine

	previews chan preview
}

func newApplication(cfg *config.Config, log *zap.Logger, headless bool) (*application, error) {
	app := &application{
		cfg:      cfg,
		log:      log,
		headless: headless,
		previews: make(chan preview, 1),
	}

	sink, err := event.NewFileSink(cfg.Log.EventLog, log)
	if err != nil {
		return nil, err
	}
	app.sink = sink

	if cfg.Store.Enabled {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			app.close()
			return nil, err
		}
		app.db = db
	}

	det, err := detect.NewDNNDetector(cfg.Detect)
	if err != nil {
		app.close()
		return nil, err
	}
	app.det = det

	clk := clock.New()
	cam, err := source.OpenCamera(cfg.Camera, clk, log)
	if err != nil {
		app.close()
		return nil, err
	}
	app.cam = cam

	snaps, err := snapshot.NewWriter(cfg.Snapshot, log)
	if err != nil {
		app.close()
		return nil, err
	}
	clips, err := clip.NewRecorder(cfg.Clip, cfg.Camera, clk, sink, log)
	if err != nil {
		app.close()
		return nil, err
	}

	rt := config.NewRuntime(cfg.Detect.Confidence)
	var render engine.Renderer
	if !headless {
		render = app.publish
	}

	eng, err := engine.New(cfg, rt, engine.Deps{
		Source:    cam,
		Detector:  det,
		Snapshots: snaps,
		Clips:     clips,
		Sink:      sink,
		Store:     app.db,
		Clock:     clk,
		Log:       log,
		Render:    render,
	})
	if err != nil {
		app.close()
		return nil, err
	}
	app.eng = eng
	return app, nil
}

// publish hands the latest frame to the UI loop, replacing any stale one.
func (a *application) publish(f *frame.Frame, st engine.Status) {
	p := preview{f: f, st: st}
	select {
	case a.previews <- p:
	default:
		select {
		case <-a.previews:
		default:
		}
		select {
		case a.previews <- p:
		default:
		}
	}
}

func (a *application) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.eng.Run(ctx) }()

	if a.headless {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return <-done
		}
	}

	err := a.uiLoop(ctx, cancel, done)
	cancel()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}

// uiLoop owns the preview window. OpenCV's HighGUI is not thread-safe, so
// all window calls stay on this goroutine.
func (a *application) uiLoop(ctx context.Context, cancel context.CancelFunc, done chan error) error {
	window := gocv.NewWindow(windowTitle)
	defer window.Close()

	idle := time.NewTicker(50 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			done <- err
			return nil
		case p := <-a.previews:
			if err := a.show(window, p); err != nil {
				a.log.Warn("preview render failed", zap.Error(err))
			}
		case <-idle.C:
			// Keep the window responsive while frames are scarce.
		}

		switch key := window.WaitKey(1); key {
		case 'q', 27: // esc
			cancel()
			return nil
		case 's':
			a.eng.Control(engine.CmdManualSnapshot)
		case ' ':
			a.eng.Control(engine.CmdPauseToggle)
		case '+', '=':
			a.eng.Control(engine.CmdThresholdUp)
		case '-':
			a.eng.Control(engine.CmdThresholdDown)
		}
	}
}

func (a *application) show(window *gocv.Window, p preview) error {
	mat, err := imgconv.ToMat(p.f.Image)
	if err != nil {
		return err
	}
	defer mat.Close()
	overlay.Draw(&mat, p.st)
	window.IMShow(mat)
	return nil
}

// close releases resources in reverse construction order. Safe on a
// partially built application.
func (a *application) close() {
	if a.cam != nil {
		if err := a.cam.Close(); err != nil {
			a.log.Warn("camera close failed", zap.Error(err))
		}
	}
	if a.det != nil {
		if err := a.det.Close(); err != nil {
			a.log.Warn("detector close failed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("event store close failed", zap.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			a.log.Warn("event log close failed", zap.Error(err))
		}
	}
}
