package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/digibattleapp/Digi-Battle/internal/codec"
)

// KnownBackends lists the audio backends shipped with Digi-Battle.
// Used by [Validate] to warn about unrecognised backend names.
var KnownBackends = []string{"malgo", "portaudio", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.Backend == "" {
		errs = append(errs, errors.New("audio.backend is required"))
	} else if !slices.Contains(KnownBackends, cfg.Audio.Backend) {
		slog.Warn("unknown audio backend; it must be registered before use",
			"backend", cfg.Audio.Backend,
			"known", KnownBackends,
		)
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.PeriodFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.period_frames %d must not be negative", cfg.Audio.PeriodFrames))
	}

	// Link
	if cfg.Link.Role != "" && !cfg.Link.Role.IsValid() {
		errs = append(errs, fmt.Errorf("link.role %q is invalid; valid values: sender, receiver", cfg.Link.Role))
	}
	if cfg.Link.StartThreshold < 1 || cfg.Link.StartThreshold > 65535 {
		errs = append(errs, fmt.Errorf("link.start_threshold %d is out of range [1, 65535]", cfg.Link.StartThreshold))
	}
	if cfg.Link.PartitionChangeThreshold < 0 {
		errs = append(errs, fmt.Errorf("link.partition_change_threshold %d must not be negative", cfg.Link.PartitionChangeThreshold))
	}
	if cfg.Link.HandoffRunLimit < 0 {
		errs = append(errs, fmt.Errorf("link.handoff_run_limit %d must not be negative", cfg.Link.HandoffRunLimit))
	}
	if cfg.Link.FinishTimeoutFactor < 0 {
		errs = append(errs, fmt.Errorf("link.finish_timeout_factor %d must not be negative", cfg.Link.FinishTimeoutFactor))
	}
	if cfg.Link.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("link.poll_interval %s must not be negative", cfg.Link.PollInterval))
	}
	if cfg.Link.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("link.session_timeout %s must not be negative", cfg.Link.SessionTimeout))
	}
	if !cfg.Link.FinishOnTimeout() && cfg.Link.SessionTimeout == 0 {
		slog.Warn("link.timeout_to_finish is off and link.session_timeout is unset; sessions end only when cancelled")
	}

	// Signal
	if cfg.Signal.InitRatio < 0 || cfg.Signal.InitRatio > 1 {
		errs = append(errs, fmt.Errorf("signal.init_ratio %.2f is out of range [0, 1]", cfg.Signal.InitRatio))
	}
	if cfg.Signal.RampDelta < 0 {
		errs = append(errs, fmt.Errorf("signal.ramp_delta %d must not be negative", cfg.Signal.RampDelta))
	}

	// Codec
	if cfg.Codec.Preset != "" {
		if _, err := codec.Lookup(cfg.Codec.Preset); err != nil {
			errs = append(errs, fmt.Errorf("codec.preset %q is invalid; valid values: %v", cfg.Codec.Preset, codec.Presets()))
		}
	}

	// History
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}

	return errors.Join(errs...)
}
