package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/digibattleapp/Digi-Battle/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.LinkChanged || d.SignalChanged || d.CodecChanged {
		t.Errorf("only the log level should change, got %+v", d)
	}
}

func TestDiff_LinkChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"role", func(c *config.Config) { c.Link.Role = config.RoleReceiver }},
		{"start threshold", func(c *config.Config) { c.Link.StartThreshold = 12000 }},
		{"expected rtt", func(c *config.Config) { c.Link.ExpectedRTT = 80 * time.Millisecond }},
		{"timeout to finish", func(c *config.Config) { c.Link.TimeoutToFinish = boolPtr(false) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.LinkChanged {
				t.Error("expected LinkChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("link changes should not need a restart, got %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_TimeoutToFinishComparedByValue(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Link.TimeoutToFinish = boolPtr(true)

	if d := config.Diff(old, new); d.LinkChanged {
		t.Error("explicit true should equal the default")
	}
}

func TestDiff_SignalChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Signal.Inverted = boolPtr(false)

	d := config.Diff(old, new)
	if !d.SignalChanged {
		t.Error("expected SignalChanged=true")
	}

	same := config.Default()
	same.Signal.Inverted = boolPtr(true)
	if config.Diff(old, same).SignalChanged {
		t.Error("explicit inverted=true should equal the default")
	}
}

func TestDiff_CodecChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Codec.Preset = "ORIGINAL"

	if !config.Diff(old, new).CodecChanged {
		t.Error("expected CodecChanged=true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.DiagnosticsAddr = ":9464"
	new.Audio.Backend = "portaudio"
	new.History.Dir = "/tmp/history"
	new.History.Limit = 5

	d := config.Diff(old, new)
	want := []string{"server.diagnostics_addr", "audio", "history.dir"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("diff should not be empty")
	}
}
