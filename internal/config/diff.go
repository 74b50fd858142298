package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LinkChanged, SignalChanged and CodecChanged are picked up by the next
	// exchange without a restart.
	LinkChanged   bool
	SignalChanged bool
	CodecChanged  bool

	// RestartRequired lists settings that only take effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LinkChanged && !d.SignalChanged && !d.CodecChanged &&
		len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.LinkChanged = !linkEqual(old.Link, new.Link)
	d.SignalChanged = old.Signal.IsInverted() != new.Signal.IsInverted() ||
		old.Signal.InitRatio != new.Signal.InitRatio ||
		old.Signal.RampDelta != new.Signal.RampDelta
	d.CodecChanged = old.Codec != new.Codec

	if old.Server.DiagnosticsAddr != new.Server.DiagnosticsAddr {
		d.RestartRequired = append(d.RestartRequired, "server.diagnostics_addr")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.History.Dir != new.History.Dir {
		d.RestartRequired = append(d.RestartRequired, "history.dir")
	}

	return d
}

// linkEqual compares two link sections, treating TimeoutToFinish by value.
func linkEqual(a, b LinkConfig) bool {
	if a.FinishOnTimeout() != b.FinishOnTimeout() {
		return false
	}
	a.TimeoutToFinish, b.TimeoutToFinish = nil, nil
	return a == b
}
