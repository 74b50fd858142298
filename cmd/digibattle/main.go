// Command digibattle exchanges battle messages with a Digimon toy over the
// audio jack.
//
// Usage:
//
//	digibattle [--config path] <command> [args]
//
// Commands:
//
//	send      play messages first and record the toy's replies
//	reply     wait for the toy, then answer with messages
//	serve     answer every battle back to back, with diagnostics and hot reload
//	encode    print the line encoding of messages without touching audio
//	history   list or show stored exchanges
//	version   print the build version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/digibattleapp/Digi-Battle/internal/app"
	"github.com/digibattleapp/Digi-Battle/internal/config"
	"github.com/digibattleapp/Digi-Battle/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "digibattle: %v\n", err)
		return 1
	}
	return 0
}

// ── Configuration ─────────────────────────────────────────────────────────────

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	return cfg, nil
}

// ── Runtime ───────────────────────────────────────────────────────────────────

// instance is everything a command that touches audio needs: the logger, the
// telemetry providers and the application.
type instance struct {
	cfg      *config.Config
	log      *slog.Logger
	app      *app.App
	otelStop func(context.Context) error
}

func setup(ctx context.Context, stderr io.Writer, configPath string, opts ...app.Option) (*instance, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := newLogger(stderr, level)
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelStop, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     reg,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts = append([]app.Option{
		app.WithLogger(logger),
		app.WithLevel(level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithGatherer(reg),
	}, opts...)
	a, err := app.New(cfg, opts...)
	if err != nil {
		_ = otelStop(ctx)
		return nil, err
	}

	logger.Debug("digibattle starting", "config", configPath, "version", version)
	return &instance{cfg: cfg, log: logger, app: a, otelStop: otelStop}, nil
}

// close shuts the application down within [shutdownTimeout].
func (r *instance) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := r.app.Shutdown(ctx)
	if oerr := r.otelStop(ctx); oerr != nil {
		r.log.Warn("telemetry shutdown error", "err", oerr)
	}
	return err
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, mode string) {
	diag := cfg.Server.DiagnosticsAddr
	if diag == "" {
		diag = "(disabled)"
	}
	hist := cfg.History.Dir
	if hist == "" {
		hist = "(memory)"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      Digi-Battle · startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Mode", mode)
	printRow(w, "Audio", cfg.Audio.Backend)
	printRow(w, "Codec", cfg.Codec.Preset)
	printRow(w, "Role", string(cfg.Link.Role))
	printRow(w, "Diagnostics", diag)
	printRow(w, "History", hist)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
