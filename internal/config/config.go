package config

import (
	"fmt"
	"math"
	"time"
)

// Config is the complete configuration for the capture engine.
type Config struct {
	Camera   CameraConfig   `yaml:"camera" json:"camera"`
	Detect   DetectConfig   `yaml:"detect" json:"detect"`
	Alert    AlertConfig    `yaml:"alert" json:"alert"`
	Clip     ClipConfig     `yaml:"clip" json:"clip"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// CameraConfig describes the capture device.
type CameraConfig struct {
	DeviceID  int     `yaml:"device_id" json:"device_id" envconfig:"CAMERA_DEVICE_ID" default:"0"`
	Width     int     `yaml:"width" json:"width" envconfig:"CAMERA_WIDTH" default:"1280"`
	Height    int     `yaml:"height" json:"height" envconfig:"CAMERA_HEIGHT" default:"720"`
	FrameRate float64 `yaml:"frame_rate" json:"frame_rate" envconfig:"CAMERA_FRAME_RATE" default:"30"`

	// Transient read failures are retried with backoff before the
	// source is declared dead.
	ReadRetries  int           `yaml:"read_retries" json:"read_retries" envconfig:"CAMERA_READ_RETRIES" default:"5"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff" envconfig:"CAMERA_RETRY_BACKOFF" default:"50ms"`
}

// DetectConfig controls the object detector and its dispatch queue.
type DetectConfig struct {
	ModelPath  string  `yaml:"model_path" json:"model_path" envconfig:"DETECT_MODEL_PATH" default:"models/yolov8n.onnx"`
	Backend    string  `yaml:"backend" json:"backend" envconfig:"DETECT_BACKEND" default:"default"` // default, cuda, openvino
	InputSize  int     `yaml:"input_size" json:"input_size" envconfig:"DETECT_INPUT_SIZE" default:"640"`
	Confidence float64 `yaml:"confidence" json:"confidence" envconfig:"DETECT_CONFIDENCE" default:"0.45"`
	IOU        float64 `yaml:"iou" json:"iou" envconfig:"DETECT_IOU" default:"0.45"`

	// Classes that qualify as alert-worthy. Everything else is ignored.
	Classes []string `yaml:"classes" json:"classes" envconfig:"DETECT_CLASSES" default:"person"`

	// Run inference only every Nth frame. 1 = every frame.
	FrameSkip int `yaml:"frame_skip" json:"frame_skip" envconfig:"DETECT_FRAME_SKIP" default:"1"`

	// Worker pool and queue between capture and inference.
	Workers   int `yaml:"workers" json:"workers" envconfig:"DETECT_WORKERS" default:"1"`
	QueueSize int `yaml:"queue_size" json:"queue_size" envconfig:"DETECT_QUEUE_SIZE" default:"8"`
}

// AlertConfig controls the debounce state machine.
type AlertConfig struct {
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" envconfig:"ALERT_COOLDOWN" default:"10s"`
}

// PrerollPolicy selects how pre-roll frames count against the clip budget.
type PrerollPolicy string

const (
	// PrerollInclusive: total clip duration is wall-clock from the trigger;
	// pre-roll frames occupy the earliest part of that budget.
	PrerollInclusive PrerollPolicy = "inclusive"
	// PrerollAdditive: the pre-roll span is added on top of the clip budget.
	PrerollAdditive PrerollPolicy = "additive"
)

// ClipConfig controls event clip recording.
type ClipConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" envconfig:"CLIP_ENABLED" default:"true"`
	Dir      string        `yaml:"dir" json:"dir" envconfig:"CLIP_DIR" default:"outputs/clips"`
	Duration time.Duration `yaml:"duration" json:"duration" envconfig:"CLIP_DURATION" default:"8s"`
	Preroll  time.Duration `yaml:"preroll" json:"preroll" envconfig:"CLIP_PREROLL" default:"3s"`
	Policy   PrerollPolicy `yaml:"preroll_policy" json:"preroll_policy" envconfig:"CLIP_PREROLL_POLICY" default:"inclusive"`

	// JPEG quality for frames muxed into the clip container.
	JPEGQuality int `yaml:"jpeg_quality" json:"jpeg_quality" envconfig:"CLIP_JPEG_QUALITY" default:"85"`

	// Refuse to start a clip when free space drops below this.
	MinFreeBytes uint64 `yaml:"min_free_bytes" json:"min_free_bytes" envconfig:"CLIP_MIN_FREE_BYTES" default:"104857600"`

	// Frames queued between the capture path and the clip writer.
	QueueSize int `yaml:"queue_size" json:"queue_size" envconfig:"CLIP_QUEUE_SIZE" default:"64"`
}

// SnapshotConfig controls still images.
type SnapshotConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" envconfig:"SNAPSHOT_ENABLED" default:"true"`
	Dir         string `yaml:"dir" json:"dir" envconfig:"SNAPSHOT_DIR" default:"outputs/snapshots"`
	JPEGQuality int    `yaml:"jpeg_quality" json:"jpeg_quality" envconfig:"SNAPSHOT_JPEG_QUALITY" default:"90"`
}

// PipelineConfig holds knobs for the frame pipeline itself.
type PipelineConfig struct {
	// FPS estimate window, in frames.
	FPSWindow int `yaml:"fps_window" json:"fps_window" envconfig:"PIPELINE_FPS_WINDOW" default:"30"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" envconfig:"PIPELINE_SHUTDOWN_TIMEOUT" default:"10s"`
}

// StoreConfig controls the local event index.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" envconfig:"STORE_ENABLED" default:"true"`
	Path    string `yaml:"path" json:"path" envconfig:"STORE_PATH" default:"outputs/events.db"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level    string `yaml:"level" json:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format   string `yaml:"format" json:"format" envconfig:"LOG_FORMAT" default:"console"` // console, json
	EventLog string `yaml:"event_log" json:"event_log" envconfig:"LOG_EVENT_LOG" default:"logs/detections.log"`
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			DeviceID:     0,
			Width:        1280,
			Height:       720,
			FrameRate:    30,
			ReadRetries:  5,
			RetryBackoff: 50 * time.Millisecond,
		},
		Detect: DetectConfig{
			ModelPath:  "models/yolov8n.onnx",
			Backend:    "default",
			InputSize:  640,
			Confidence: 0.45,
			IOU:        0.45,
			Classes:    []string{"person"},
			FrameSkip:  1,
			Workers:    1,
			QueueSize:  8,
		},
		Alert: AlertConfig{
			Cooldown: 10 * time.Second,
		},
		Clip: ClipConfig{
			Enabled:      true,
			Dir:          "outputs/clips",
			Duration:     8 * time.Second,
			Preroll:      3 * time.Second,
			Policy:       PrerollInclusive,
			JPEGQuality:  85,
			MinFreeBytes: 100 * 1024 * 1024,
			QueueSize:    64,
		},
		Snapshot: SnapshotConfig{
			Enabled:     true,
			Dir:         "outputs/snapshots",
			JPEGQuality: 90,
		},
		Pipeline: PipelineConfig{
			FPSWindow:       30,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "outputs/events.db",
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "console",
			EventLog: "logs/detections.log",
		},
	}
}

// PrerollFrames returns the pre-roll ring capacity for the configured
// pre-roll duration and frame rate.
func (c *Config) PrerollFrames() int {
	n := int(math.Ceil(c.Clip.Preroll.Seconds() * c.Camera.FrameRate))
	if n < 1 {
		n = 1
	}
	return n
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Camera.FrameRate <= 0 {
		return fmt.Errorf("camera.frame_rate must be positive, got %v", c.Camera.FrameRate)
	}
	if c.Detect.Confidence < 0 || c.Detect.Confidence > 1 {
		return fmt.Errorf("detect.confidence must be in [0,1], got %v", c.Detect.Confidence)
	}
	if len(c.Detect.Classes) == 0 {
		return fmt.Errorf("detect.classes must not be empty")
	}
	if c.Detect.FrameSkip < 1 {
		return fmt.Errorf("detect.frame_skip must be >= 1, got %d", c.Detect.FrameSkip)
	}
	if c.Detect.Workers < 1 {
		return fmt.Errorf("detect.workers must be >= 1, got %d", c.Detect.Workers)
	}
	if c.Detect.QueueSize < 1 {
		return fmt.Errorf("detect.queue_size must be >= 1, got %d", c.Detect.QueueSize)
	}
	if c.Alert.Cooldown <= 0 {
		return fmt.Errorf("alert.cooldown must be positive, got %v", c.Alert.Cooldown)
	}
	if c.Clip.Duration <= 0 {
		return fmt.Errorf("clip.duration must be positive, got %v", c.Clip.Duration)
	}
	if c.Clip.Preroll < 0 {
		return fmt.Errorf("clip.preroll must not be negative, got %v", c.Clip.Preroll)
	}
	switch c.Clip.Policy {
	case PrerollInclusive, PrerollAdditive:
	default:
		return fmt.Errorf("clip.preroll_policy must be %q or %q, got %q",
			PrerollInclusive, PrerollAdditive, c.Clip.Policy)
	}
	if c.Clip.Policy == PrerollInclusive && c.Clip.Preroll > c.Clip.Duration {
		return fmt.Errorf("clip.preroll %v exceeds clip.duration %v; the inclusive policy needs preroll within the budget",
			c.Clip.Preroll, c.Clip.Duration)
	}
	if c.Clip.JPEGQuality < 1 || c.Clip.JPEGQuality > 100 {
		return fmt.Errorf("clip.jpeg_quality must be in [1,100], got %d", c.Clip.JPEGQuality)
	}
	return nil
}
