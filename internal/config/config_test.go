package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/digibattleapp/Digi-Battle/internal/config"
)

const fullYAML = `
server:
  log_level: debug
  diagnostics_addr: "127.0.0.1:9464"
audio:
  backend: portaudio
  sample_rate: 48000
  period_frames: 256
link:
  role: receiver
  start_threshold: 8000
  partition_change_threshold: 600
  timeout_to_finish: false
  expected_rtt: 45ms
  handoff_run_limit: 4
  finish_timeout_factor: 6
  poll_interval: 20ms
  session_timeout: 30s
signal:
  inverted: false
  init_ratio: 0.5
  ramp_delta: 100
codec:
  preset: original
history:
  dir: /var/lib/digibattle
  limit: 50
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.DiagnosticsAddr != "127.0.0.1:9464" {
		t.Errorf("diagnostics_addr: got %q", cfg.Server.DiagnosticsAddr)
	}
	if cfg.Audio.Backend != "portaudio" || cfg.Audio.SampleRate != 48000 || cfg.Audio.PeriodFrames != 256 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}

	l := cfg.Link
	if l.Role != config.RoleReceiver {
		t.Errorf("role: got %q, want %q", l.Role, config.RoleReceiver)
	}
	if l.StartThreshold != 8000 {
		t.Errorf("start_threshold: got %d, want 8000", l.StartThreshold)
	}
	if l.PartitionChangeThreshold != 600 {
		t.Errorf("partition_change_threshold: got %d, want 600", l.PartitionChangeThreshold)
	}
	if l.FinishOnTimeout() {
		t.Error("timeout_to_finish: got true, want false")
	}
	if l.ExpectedRTT != 45*time.Millisecond {
		t.Errorf("expected_rtt: got %s, want 45ms", l.ExpectedRTT)
	}
	if l.HandoffRunLimit != 4 || l.FinishTimeoutFactor != 6 {
		t.Errorf("handoff_run_limit/finish_timeout_factor: got %d/%d, want 4/6", l.HandoffRunLimit, l.FinishTimeoutFactor)
	}
	if l.PollInterval != 20*time.Millisecond || l.SessionTimeout != 30*time.Second {
		t.Errorf("poll_interval/session_timeout: got %s/%s", l.PollInterval, l.SessionTimeout)
	}

	if cfg.Signal.IsInverted() {
		t.Error("inverted: got true, want false")
	}
	if cfg.Signal.InitRatio != 0.5 || cfg.Signal.RampDelta != 100 {
		t.Errorf("signal: got ratio %v delta %d", cfg.Signal.InitRatio, cfg.Signal.RampDelta)
	}
	if cfg.Codec.Preset != "original" {
		t.Errorf("preset: got %q", cfg.Codec.Preset)
	}
	if cfg.History.Dir != "/var/lib/digibattle" || cfg.History.Limit != 50 {
		t.Errorf("history: got %+v", cfg.History)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.Default()

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Audio.Backend != config.DefaultBackend {
		t.Errorf("backend: got %q, want %q", cfg.Audio.Backend, config.DefaultBackend)
	}
	if cfg.Link.Role != config.RoleSender {
		t.Errorf("role: got %q, want %q", cfg.Link.Role, config.RoleSender)
	}
	if cfg.Link.StartThreshold != want.Link.StartThreshold {
		t.Errorf("start_threshold: got %d, want %d", cfg.Link.StartThreshold, want.Link.StartThreshold)
	}
	if cfg.Link.ExpectedRTT != config.DefaultExpectedRTT {
		t.Errorf("expected_rtt: got %s, want %s", cfg.Link.ExpectedRTT, config.DefaultExpectedRTT)
	}
	if cfg.Link.PollInterval != config.DefaultPollInterval {
		t.Errorf("poll_interval: got %s, want %s", cfg.Link.PollInterval, config.DefaultPollInterval)
	}
	if !cfg.Link.FinishOnTimeout() {
		t.Error("timeout_to_finish should default to true")
	}
	if !cfg.Signal.IsInverted() {
		t.Error("inverted should default to true")
	}
	if cfg.Signal.InitRatio != config.DefaultInitRatio || cfg.Signal.RampDelta != config.DefaultRampDelta {
		t.Errorf("signal: got ratio %v delta %d", cfg.Signal.InitRatio, cfg.Signal.RampDelta)
	}
	if cfg.Codec.Preset != config.DefaultPreset {
		t.Errorf("preset: got %q, want %q", cfg.Codec.Preset, config.DefaultPreset)
	}
	if cfg.History.Dir != "" || cfg.History.Limit != config.DefaultHistoryLimit {
		t.Errorf("history: got %+v", cfg.History)
	}
}

func TestLoadFromReader_NegativeRTTKept(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("link:\n  expected_rtt: -1ms\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Link.ExpectedRTT != -time.Millisecond {
		t.Errorf("expected_rtt: got %s, want -1ms", cfg.Link.ExpectedRTT)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("link:\n  bogus: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("link: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "digibattle.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Link.Role != config.RoleReceiver {
		t.Errorf("role: got %q, want %q", cfg.Link.Role, config.RoleReceiver)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "missing.yaml") {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestRole_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		role config.Role
		want bool
	}{
		{config.RoleSender, true},
		{config.RoleReceiver, true},
		{"", false},
		{"reply", false},
	}
	for _, tt := range tests {
		if got := tt.role.IsValid(); got != tt.want {
			t.Errorf("Role(%q).IsValid(): got %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid(): got false, want true", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`LogLevel("verbose").IsValid(): got true, want false`)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Server.DiagnosticsAddr == "" || cfg.Link.SessionTimeout != 30*time.Second {
		t.Errorf("example config not loaded as written: %+v", cfg)
	}
}
