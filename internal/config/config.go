// Package config provides the configuration schema, loader, audio backend
// registry, and file watcher for Digi-Battle.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Role selects which side of the exchange this device plays.
type Role string

const (
	// RoleSender transmits the first message.
	RoleSender Role = "sender"

	// RoleReceiver waits for the peer and replies.
	RoleReceiver Role = "receiver"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleSender || r == RoleReceiver
}

// Defaults applied by [Config.ApplyDefaults] to zero-valued fields.
const (
	DefaultBackend        = "malgo"
	DefaultStartThreshold = 10000
	DefaultExpectedRTT    = 30 * time.Millisecond
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultInitRatio      = 0.7
	DefaultRampDelta      = 50
	DefaultPreset         = "original"
	DefaultHistoryLimit   = 20
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Link    LinkConfig    `yaml:"link"`
	Signal  SignalConfig  `yaml:"signal"`
	Codec   CodecConfig   `yaml:"codec"`
	History HistoryConfig `yaml:"history"`
}

// ServerConfig holds logging and diagnostics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DiagnosticsAddr is the TCP address of the diagnostics HTTP server
	// (e.g., "127.0.0.1:9464"). Empty disables it.
	DiagnosticsAddr string `yaml:"diagnostics_addr"`
}

// AudioConfig selects the audio backend. Backend is looked up in the
// [Registry].
type AudioConfig struct {
	// Backend names a registered backend ("malgo", "portaudio", "mock").
	Backend string `yaml:"backend"`

	// SampleRate is a hint for the device rate. Zero uses the device default.
	SampleRate int `yaml:"sample_rate"`

	// PeriodFrames is the requested callback size. Zero lets the backend
	// choose.
	PeriodFrames int `yaml:"period_frames"`
}

// LinkConfig tunes the partition detector and turn taking.
type LinkConfig struct {
	// Role is the default role for one-shot exchanges and the responder loop.
	Role Role `yaml:"role"`

	// StartThreshold is the sample delta treated as a level change.
	StartThreshold int `yaml:"start_threshold"`

	// PartitionChangeThreshold is the run length, at the codec rate, that
	// opens a handshake or closes a payload. Zero derives it from the codec
	// rate (300 samples at 48 kHz).
	PartitionChangeThreshold int `yaml:"partition_change_threshold"`

	// TimeoutToFinish ends a session once the last frame has played and the
	// line stays idle. Defaults to true.
	TimeoutToFinish *bool `yaml:"timeout_to_finish"`

	// ExpectedRTT is the expected delay between playing and hearing a sample.
	// It sizes the early cutover margin. Zero selects the default; a negative
	// value disables early cutover.
	ExpectedRTT time.Duration `yaml:"expected_rtt"`

	// HandoffRunLimit overrides the run length that ends a handshake.
	HandoffRunLimit int `yaml:"handoff_run_limit"`

	// FinishTimeoutFactor overrides how many handshake lengths of idle output
	// finish a session.
	FinishTimeoutFactor int `yaml:"finish_timeout_factor"`

	// PollInterval is how often a running session's status is checked.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SessionTimeout bounds a whole exchange. Zero waits until the session
	// finishes or is cancelled.
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// FinishOnTimeout returns TimeoutToFinish, defaulting to true.
func (l LinkConfig) FinishOnTimeout() bool {
	return l.TimeoutToFinish == nil || *l.TimeoutToFinish
}

// SignalConfig tunes analog synthesis of outgoing frames.
type SignalConfig struct {
	// Inverted maps a high line to negative samples, for cables driven
	// through a transistor. Defaults to true.
	Inverted *bool `yaml:"inverted"`

	// InitRatio is the fraction of full scale a level starts at.
	InitRatio float64 `yaml:"init_ratio"`

	// RampDelta is how far each following sample moves towards full scale.
	RampDelta int `yaml:"ramp_delta"`
}

// IsInverted returns Inverted, defaulting to true.
func (s SignalConfig) IsInverted() bool {
	return s.Inverted == nil || *s.Inverted
}

// CodecConfig selects the message layout.
type CodecConfig struct {
	// Preset names a layout known to the codec package.
	Preset string `yaml:"preset"`
}

// HistoryConfig configures the exchange history store.
type HistoryConfig struct {
	// Dir is the badger data directory. Empty keeps history in memory.
	Dir string `yaml:"dir"`

	// Limit is the default number of records listed.
	Limit int `yaml:"limit"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultBackend
	}
	if c.Link.Role == "" {
		c.Link.Role = RoleSender
	}
	if c.Link.StartThreshold == 0 {
		c.Link.StartThreshold = DefaultStartThreshold
	}
	if c.Link.ExpectedRTT == 0 {
		c.Link.ExpectedRTT = DefaultExpectedRTT
	}
	if c.Link.PollInterval == 0 {
		c.Link.PollInterval = DefaultPollInterval
	}
	if c.Signal.InitRatio == 0 {
		c.Signal.InitRatio = DefaultInitRatio
	}
	if c.Signal.RampDelta == 0 {
		c.Signal.RampDelta = DefaultRampDelta
	}
	if c.Codec.Preset == "" {
		c.Codec.Preset = DefaultPreset
	}
	if c.History.Limit == 0 {
		c.History.Limit = DefaultHistoryLimit
	}
}
