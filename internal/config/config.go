// Package config loads facelog settings from an optional YAML file, a .env
// file and FACELOG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/facelog/internal/sighting"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FACELOG_RECENT_SECONDS.
const EnvPrefix = "FACELOG"

// Settings is the effective configuration.
type Settings struct {
	DetectedFacesDir string `mapstructure:"detected_faces_dir" yaml:"detected_faces_dir"`
	LogsDir          string `mapstructure:"dir_logs" yaml:"dir_logs"`
	ModelsDir        string `mapstructure:"models_dir" yaml:"models_dir"`

	MinDetectionIntervalSeconds float64 `mapstructure:"min_detection_interval_seconds" yaml:"min_detection_interval_seconds"`
	RepeatIntervalSeconds       float64 `mapstructure:"repeat_interval_seconds" yaml:"repeat_interval_seconds"`
	RecentSeconds               float64 `mapstructure:"recent_seconds" yaml:"recent_seconds"`
	SimilarityThreshold         float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" yaml:"log_max_age_days"`

	Camera       int `mapstructure:"camera" yaml:"camera"`
	FrameDelayMS int `mapstructure:"frame_delay_ms" yaml:"frame_delay_ms"`

	Persist     PersistSettings `mapstructure:"persist" yaml:"persist"`
	Mirror      MirrorSettings  `mapstructure:"mirror" yaml:"mirror"`
	DatabaseURL string          `mapstructure:"database_url" yaml:"database_url"`
	MetricsAddr string          `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// PersistSettings controls how crops reach storage.
type PersistSettings struct {
	Mode        string `mapstructure:"mode" yaml:"mode"` // async or sync
	QueueSize   int    `mapstructure:"queue_size" yaml:"queue_size"`
	Workers     int    `mapstructure:"workers" yaml:"workers"`
	JPEGQuality int    `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

// MirrorSettings configures the optional S3-compatible copy of every crop.
type MirrorSettings struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// Default returns the stock settings.
func Default() Settings {
	return Settings{
		DetectedFacesDir:            "detected_faces",
		LogsDir:                     "logs",
		ModelsDir:                   "models",
		MinDetectionIntervalSeconds: 2,
		RepeatIntervalSeconds:       30,
		RecentSeconds:               60,
		SimilarityThreshold:         0.6,
		LogLevel:                    "info",
		LogFormat:                   "text",
		LogMaxSizeMB:                100,
		LogMaxBackups:               3,
		LogMaxAgeDays:               28,
		Camera:                      0,
		FrameDelayMS:                30,
		Persist: PersistSettings{
			Mode:        "async",
			QueueSize:   64,
			Workers:     1,
			JPEGQuality: 95,
		},
		Mirror: MirrorSettings{
			Bucket: "facelog",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("detected_faces_dir", d.DetectedFacesDir)
	v.SetDefault("dir_logs", d.LogsDir)
	v.SetDefault("models_dir", d.ModelsDir)
	v.SetDefault("min_detection_interval_seconds", d.MinDetectionIntervalSeconds)
	v.SetDefault("repeat_interval_seconds", d.RepeatIntervalSeconds)
	v.SetDefault("recent_seconds", d.RecentSeconds)
	v.SetDefault("similarity_threshold", d.SimilarityThreshold)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)
	v.SetDefault("log_max_age_days", d.LogMaxAgeDays)
	v.SetDefault("camera", d.Camera)
	v.SetDefault("frame_delay_ms", d.FrameDelayMS)
	v.SetDefault("persist.mode", d.Persist.Mode)
	v.SetDefault("persist.queue_size", d.Persist.QueueSize)
	v.SetDefault("persist.workers", d.Persist.Workers)
	v.SetDefault("persist.jpeg_quality", d.Persist.JPEGQuality)
	v.SetDefault("mirror.enabled", d.Mirror.Enabled)
	v.SetDefault("mirror.endpoint", d.Mirror.Endpoint)
	v.SetDefault("mirror.access_key", d.Mirror.AccessKey)
	v.SetDefault("mirror.secret_key", d.Mirror.SecretKey)
	v.SetDefault("mirror.bucket", d.Mirror.Bucket)
	v.SetDefault("mirror.prefix", d.Mirror.Prefix)
	v.SetDefault("mirror.use_ssl", d.Mirror.UseSSL)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("metrics_addr", d.MetricsAddr)
}

// Load reads settings from path or, without one, from config.yaml in the
// working directory or $HOME/.facelog. A .env file in the working directory is
// loaded first. A config file that is missing or does not parse is ignored,
// and values that do not parse or are out of range fall back to their
// defaults; both are reported as warnings.
func Load(path string) (*Settings, []string, error) {
	var warnings []string
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf(".env ignored: %v", err))
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".facelog"))
		}
	}

	read := true
	if err := v.ReadInConfig(); err != nil {
		read = false
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			warnings = append(warnings, fmt.Sprintf("config file ignored: %v", err))
		}
	}

	s, fieldWarnings := decode(v)
	if read {
		s.File = v.ConfigFileUsed()
	}
	return s, append(warnings, fieldWarnings...), nil
}

// decode reads each key on its own so one bad value only resets that key.
func decode(v *viper.Viper) (*Settings, []string) {
	d := Default()
	s := d
	var warnings []string

	str := func(key, def string) string {
		if val := strings.TrimSpace(v.GetString(key)); val != "" {
			return val
		}
		return def
	}
	num := func(key string, def float64, valid func(float64) bool) float64 {
		raw := strings.TrimSpace(v.GetString(key))
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || !valid(f) {
			warnings = append(warnings, fmt.Sprintf("invalid %s %q, using %v", key, raw, def))
			return def
		}
		return f
	}
	integer := func(key string, def int, valid func(int) bool) int {
		raw := strings.TrimSpace(v.GetString(key))
		n, err := strconv.Atoi(raw)
		if err != nil || !valid(n) {
			warnings = append(warnings, fmt.Sprintf("invalid %s %q, using %d", key, raw, def))
			return def
		}
		return n
	}
	boolean := func(key string, def bool) bool {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			return def
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s %q, using %t", key, raw, def))
			return def
		}
		return b
	}
	nonNegative := func(f float64) bool { return f >= 0 }
	positive := func(f float64) bool { return f > 0 }

	s.DetectedFacesDir = str("detected_faces_dir", d.DetectedFacesDir)
	s.LogsDir = str("dir_logs", d.LogsDir)
	s.ModelsDir = str("models_dir", d.ModelsDir)

	s.MinDetectionIntervalSeconds = num("min_detection_interval_seconds", d.MinDetectionIntervalSeconds, nonNegative)
	s.RepeatIntervalSeconds = num("repeat_interval_seconds", d.RepeatIntervalSeconds, nonNegative)
	s.RecentSeconds = num("recent_seconds", d.RecentSeconds, positive)
	s.SimilarityThreshold = num("similarity_threshold", d.SimilarityThreshold, func(f float64) bool { return f > -1 && f < 1 })

	s.LogLevel = strings.ToLower(str("log_level", d.LogLevel))
	switch s.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("invalid log_level %q, using %s", s.LogLevel, d.LogLevel))
		s.LogLevel = d.LogLevel
	}
	s.LogFormat = strings.ToLower(str("log_format", d.LogFormat))
	if s.LogFormat != "text" && s.LogFormat != "json" {
		warnings = append(warnings, fmt.Sprintf("invalid log_format %q, using %s", s.LogFormat, d.LogFormat))
		s.LogFormat = d.LogFormat
	}
	s.LogMaxSizeMB = integer("log_max_size_mb", d.LogMaxSizeMB, func(n int) bool { return n > 0 })
	s.LogMaxBackups = integer("log_max_backups", d.LogMaxBackups, func(n int) bool { return n >= 0 })
	s.LogMaxAgeDays = integer("log_max_age_days", d.LogMaxAgeDays, func(n int) bool { return n >= 0 })

	s.Camera = integer("camera", d.Camera, func(n int) bool { return n >= 0 })
	s.FrameDelayMS = integer("frame_delay_ms", d.FrameDelayMS, func(n int) bool { return n >= 0 })

	s.Persist.Mode = strings.ToLower(str("persist.mode", d.Persist.Mode))
	if s.Persist.Mode != "async" && s.Persist.Mode != "sync" {
		warnings = append(warnings, fmt.Sprintf("invalid persist.mode %q, using %s", s.Persist.Mode, d.Persist.Mode))
		s.Persist.Mode = d.Persist.Mode
	}
	s.Persist.QueueSize = integer("persist.queue_size", d.Persist.QueueSize, func(n int) bool { return n > 0 })
	s.Persist.Workers = integer("persist.workers", d.Persist.Workers, func(n int) bool { return n > 0 })
	s.Persist.JPEGQuality = integer("persist.jpeg_quality", d.Persist.JPEGQuality, func(n int) bool { return n >= 1 && n <= 100 })

	s.Mirror.Enabled = boolean("mirror.enabled", d.Mirror.Enabled)
	s.Mirror.Endpoint = v.GetString("mirror.endpoint")
	s.Mirror.AccessKey = v.GetString("mirror.access_key")
	s.Mirror.SecretKey = v.GetString("mirror.secret_key")
	s.Mirror.Bucket = str("mirror.bucket", d.Mirror.Bucket)
	s.Mirror.Prefix = v.GetString("mirror.prefix")
	s.Mirror.UseSSL = boolean("mirror.use_ssl", d.Mirror.UseSSL)
	if s.Mirror.Enabled && s.Mirror.Endpoint == "" {
		warnings = append(warnings, "mirror.enabled without mirror.endpoint, mirror disabled")
		s.Mirror.Enabled = false
	}

	s.DatabaseURL = v.GetString("database_url")
	s.MetricsAddr = v.GetString("metrics_addr")

	return &s, warnings
}

// Engine converts the admission tunables.
func (s *Settings) Engine() sighting.Config {
	return sighting.Config{
		MinDetectionInterval: seconds(s.MinDetectionIntervalSeconds),
		RepeatInterval:       seconds(s.RepeatIntervalSeconds),
		RecentWindow:         seconds(s.RecentSeconds),
		SimilarityThreshold:  s.SimilarityThreshold,
	}
}

// FrameDelay is the pause between camera frames.
func (s *Settings) FrameDelay() time.Duration {
	return time.Duration(s.FrameDelayMS) * time.Millisecond
}

// EnsureDirs makes the face, log and model directories absolute and creates them.
func (s *Settings) EnsureDirs() error {
	for _, dir := range []*string{&s.DetectedFacesDir, &s.LogsDir, &s.ModelsDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *dir, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", abs, err)
		}
		*dir = abs
	}
	return nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
