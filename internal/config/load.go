package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file plus VIGIL_* environment
// variables, layered over the defaults. An empty path means env-and-defaults
// only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("vigil")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := NewDefaultConfig()
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	useYAMLTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if err := v.Unmarshal(cfg, useYAMLTags); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// bindDefaults seeds viper with the default values so env overrides land on a
// fully populated tree.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("camera.device_id", cfg.Camera.DeviceID)
	v.SetDefault("camera.width", cfg.Camera.Width)
	v.SetDefault("camera.height", cfg.Camera.Height)
	v.SetDefault("camera.frame_rate", cfg.Camera.FrameRate)
	v.SetDefault("camera.read_retries", cfg.Camera.ReadRetries)
	v.SetDefault("camera.retry_backoff", cfg.Camera.RetryBackoff)

	v.SetDefault("detect.model_path", cfg.Detect.ModelPath)
	v.SetDefault("detect.backend", cfg.Detect.Backend)
	v.SetDefault("detect.input_size", cfg.Detect.InputSize)
	v.SetDefault("detect.confidence", cfg.Detect.Confidence)
	v.SetDefault("detect.iou", cfg.Detect.IOU)
	v.SetDefault("detect.classes", cfg.Detect.Classes)
	v.SetDefault("detect.frame_skip", cfg.Detect.FrameSkip)
	v.SetDefault("detect.workers", cfg.Detect.Workers)
	v.SetDefault("detect.queue_size", cfg.Detect.QueueSize)

	v.SetDefault("alert.cooldown", cfg.Alert.Cooldown)

	v.SetDefault("clip.enabled", cfg.Clip.Enabled)
	v.SetDefault("clip.dir", cfg.Clip.Dir)
	v.SetDefault("clip.duration", cfg.Clip.Duration)
	v.SetDefault("clip.preroll", cfg.Clip.Preroll)
	v.SetDefault("clip.preroll_policy", string(cfg.Clip.Policy))
	v.SetDefault("clip.jpeg_quality", cfg.Clip.JPEGQuality)
	v.SetDefault("clip.min_free_bytes", cfg.Clip.MinFreeBytes)
	v.SetDefault("clip.queue_size", cfg.Clip.QueueSize)

	v.SetDefault("snapshot.enabled", cfg.Snapshot.Enabled)
	v.SetDefault("snapshot.dir", cfg.Snapshot.Dir)
	v.SetDefault("snapshot.jpeg_quality", cfg.Snapshot.JPEGQuality)

	v.SetDefault("pipeline.fps_window", cfg.Pipeline.FPSWindow)
	v.SetDefault("pipeline.shutdown_timeout", cfg.Pipeline.ShutdownTimeout)

	v.SetDefault("store.enabled", cfg.Store.Enabled)
	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.event_log", cfg.Log.EventLog)
}
