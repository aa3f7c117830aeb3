// Package config loads and validates fieldpipe's runtime configuration.
//
// Grounded on the teacher project's internal/conf/config.go: a single
// Settings struct populated by Viper from a YAML file plus environment
// overrides, guarded behind a package-level singleton protected by a
// RWMutex so Set can swap it safely under concurrent readers of Get. The
// file is read once per Load call; it is not watched for changes.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// RotationPolicy controls how file loggers roll over.
type RotationPolicy string

const (
	RotationSize    RotationPolicy = "size"
	RotationDaily   RotationPolicy = "daily"
	RotationWeekly  RotationPolicy = "weekly"
)

// LogConfig configures a single log sink.
type LogConfig struct {
	Enabled      bool
	Path         string
	MaxSizeBytes int64
	Rotation     RotationPolicy
}

// EBirdFilterConfig is component G's configuration block (spec.md 4.G/6).
type EBirdFilterConfig struct {
	Enabled                bool
	DetectionMode          string // off | warn | filter
	DetectionStrictness    string // vagrant | rare | uncommon | common
	H3Resolution           int
	UnknownSpeciesBehavior string // allow | block
	PackRootDir            string
	RegistryPath           string
}

// NotificationRuleConfig mirrors a single rule in the `notification_rules` list.
type NotificationRuleConfig struct {
	Name               string
	Enabled            bool
	Frequency          string // "immediate" or empty; any other value disables the rule
	MinimumConfidence  float64
	TaxaInclude        []string
	TaxaExclude        []string
	Scope              string // all | new_ever | new_today | new_this_week
	Template           string
}

// Settings is the complete set of recognized configuration options (spec.md §6).
type Settings struct {
	Debug bool

	Main struct {
		Name string
		Log  LogConfig
	}

	Audio struct {
		SampleRate          int
		Channels             int
		BufferSizeSeconds   float64
		SpeciesConfidenceThreshold float64
		Sensitivity         float64
		Overlap             float64
	}

	Classifier struct {
		ModelPath  string // path to a .tflite model file; required unless a classifier is injected
		LabelsPath string // path to a newline-delimited label file
		Locale     string
		Threads    int
		UseXNNPACK bool
	}

	Location struct {
		Latitude  float64
		Longitude float64
		Timezone  string
	}

	Language string // preferred translation language code (BCP-47/ISO 639-1)

	RetryBuffer struct {
		MaxSize       int
		FlushInterval time.Duration
	}

	EBirdFiltering EBirdFilterConfig

	DataRoot string // root directory for recordings and SQLite files

	ReferenceDB struct {
		IOCPath      string
		PatLevinPath string
		AvibasePath  string
	}

	Weather struct {
		Enabled  bool
		Provider string // only "openweather" is supported; empty selects it
		APIKey   string
		PollInterval time.Duration
	}

	NotificationRules []NotificationRuleConfig
	QuietHoursStart   string // HH:MM:SS
	QuietHoursEnd     string // HH:MM:SS

	Metrics struct {
		Enabled bool
		Addr    string
	}
}

var (
	mu      sync.RWMutex
	current *Settings
)

// Get returns the active settings, loading defaults if none were loaded yet.
func Get() *Settings {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}
	return Defaults()
}

// Set installs s as the active configuration. Safe for concurrent readers of Get.
func Set(s *Settings) {
	mu.Lock()
	current = s
	mu.Unlock()
}

// Defaults returns Settings populated with the teacher-style sensible defaults.
func Defaults() *Settings {
	s := &Settings{}
	s.Main.Name = "fieldpipe"
	s.Main.Log = LogConfig{Enabled: true, Path: "logs/fieldpipe.log", MaxSizeBytes: 100 * 1024 * 1024, Rotation: RotationSize}
	s.Audio.SampleRate = 48000
	s.Audio.Channels = 1
	s.Audio.BufferSizeSeconds = 3.0
	s.Audio.SpeciesConfidenceThreshold = 0.8
	s.Audio.Sensitivity = 1.0
	s.Audio.Overlap = 0.0
	s.Classifier.Locale = "en"
	s.Classifier.Threads = 0 // 0 means autodetect: performance cores when known, else all CPUs
	s.Classifier.UseXNNPACK = true
	s.Location.Timezone = "Local"
	s.Language = "en"
	s.RetryBuffer.MaxSize = 100
	s.RetryBuffer.FlushInterval = 5 * time.Second
	s.EBirdFiltering = EBirdFilterConfig{
		Enabled:                false,
		DetectionMode:          "off",
		DetectionStrictness:    "vagrant",
		H3Resolution:           5,
		UnknownSpeciesBehavior: "allow",
	}
	s.DataRoot = "data"
	s.Weather.PollInterval = time.Hour
	s.Metrics.Addr = ":9090"
	return s
}

// Load reads configuration from path (YAML) layered over Defaults(), applies
// environment overrides, validates, installs it as the active configuration,
// and returns it.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	s := Defaults()
	bindDefaults(v, s)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyEnvOverrides(s)

	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	Set(s)
	return s, nil
}

// bindDefaults registers Defaults() values with viper so partial YAML files
// and env vars only need to override what they change.
func bindDefaults(v *viper.Viper, s *Settings) {
	v.SetDefault("audio.samplerate", s.Audio.SampleRate)
	v.SetDefault("audio.channels", s.Audio.Channels)
	v.SetDefault("audio.buffersizeseconds", s.Audio.BufferSizeSeconds)
	v.SetDefault("audio.speciesconfidencethreshold", s.Audio.SpeciesConfidenceThreshold)
	v.SetDefault("audio.sensitivity", s.Audio.Sensitivity)
	v.SetDefault("audio.overlap", s.Audio.Overlap)
	v.SetDefault("classifier.locale", s.Classifier.Locale)
	v.SetDefault("classifier.threads", s.Classifier.Threads)
	v.SetDefault("classifier.usexnnpack", s.Classifier.UseXNNPACK)
	v.SetDefault("location.timezone", s.Location.Timezone)
	v.SetDefault("language", s.Language)
	v.SetDefault("retrybuffer.maxsize", s.RetryBuffer.MaxSize)
	v.SetDefault("retrybuffer.flushinterval", s.RetryBuffer.FlushInterval)
	v.SetDefault("ebirdfiltering.h3resolution", s.EBirdFiltering.H3Resolution)
	v.SetDefault("ebirdfiltering.detectionmode", s.EBirdFiltering.DetectionMode)
	v.SetDefault("ebirdfiltering.detectionstrictness", s.EBirdFiltering.DetectionStrictness)
	v.SetDefault("ebirdfiltering.unknownspeciesbehavior", s.EBirdFiltering.UnknownSpeciesBehavior)
	v.SetDefault("dataroot", s.DataRoot)
	v.SetDefault("weather.pollinterval", s.Weather.PollInterval)
	v.SetDefault("metrics.addr", s.Metrics.Addr)
}
