// Package config loads the replayd configuration from a YAML file, creating
// the file with defaults on first run. Configuration is immutable for the
// process lifetime; encoders are re-created from the same values after each
// export.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// knownEncoders lists ffmpeg encoder names the capture path has been tuned
// for. Unrecognised names are warned about, not rejected.
var knownEncoders = []string{"libx264", "h264_nvenc"}

// Config is the process-wide configuration.
type Config struct {
	// MaxSeconds is the rolling window duration: how much trailing
	// capture a save trigger exports.
	MaxSeconds int `yaml:"max_seconds"`

	// Encoder is the ffmpeg video encoder name.
	Encoder string `yaml:"encoder"`

	// UseMic selects the default microphone instead of the system audio
	// monitor.
	UseMic bool `yaml:"use_mic"`

	// OutputDir is where exported clips are written.
	OutputDir string `yaml:"output_dir"`

	// FrameRate is the capture frame rate fed to the video encoder.
	FrameRate int `yaml:"frame_rate"`

	// GOPInterval is the keyframe cadence in frames. It bounds both
	// eviction and export-trim granularity.
	GOPInterval int `yaml:"gop_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxSeconds:  30,
		Encoder:     "libx264",
		UseMic:      false,
		OutputDir:   ".",
		FrameRate:   60,
		GOPInterval: 30,
	}
}

// MaxSpanMicros returns the rolling window bound in microseconds.
func (c *Config) MaxSpanMicros() int64 {
	return int64(c.MaxSeconds) * 1_000_000
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "replayd", "config.yaml"), nil
}

// LoadOrCreate reads the config at path. A missing file is created with
// defaults and the defaults returned.
func LoadOrCreate(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := write(path, cfg); err != nil {
			return nil, err
		}
		slog.Info("created default config", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates a YAML config from r. Useful in tests
// where configs are built from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.MaxSeconds <= 0 {
		errs = append(errs, fmt.Errorf("max_seconds must be positive, got %d", cfg.MaxSeconds))
	}
	if cfg.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate must be positive, got %d", cfg.FrameRate))
	}
	if cfg.GOPInterval <= 0 {
		errs = append(errs, fmt.Errorf("gop_interval must be positive, got %d", cfg.GOPInterval))
	}
	if cfg.Encoder != "" && !slices.Contains(knownEncoders, cfg.Encoder) {
		slog.Warn("unrecognised encoder name; passing through to ffmpeg",
			"encoder", cfg.Encoder)
	}

	return errors.Join(errs...)
}

func write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}
