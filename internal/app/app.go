// Package app wires the Digi-Battle subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the audio backend, the
// history store, the exchanger and the diagnostics server; Exchange and
// Serve run exchanges; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithHistory, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/digibattleapp/Digi-Battle/internal/config"
	"github.com/digibattleapp/Digi-Battle/internal/diag"
	"github.com/digibattleapp/Digi-Battle/internal/engine"
	"github.com/digibattleapp/Digi-Battle/internal/exchange"
	"github.com/digibattleapp/Digi-Battle/internal/health"
	"github.com/digibattleapp/Digi-Battle/internal/history"
	"github.com/digibattleapp/Digi-Battle/internal/observe"
	"github.com/digibattleapp/Digi-Battle/internal/resilience"
	"github.com/digibattleapp/Digi-Battle/pkg/audio"
	"github.com/digibattleapp/Digi-Battle/pkg/audio/miniaudio"
	"github.com/digibattleapp/Digi-Battle/pkg/audio/mock"
	"github.com/digibattleapp/Digi-Battle/pkg/audio/portaudio"
)

// defaultRetryDelay is how long the responder loop waits after an exchange
// that failed to start before trying again.
const defaultRetryDelay = time.Second

// ErrClosed is returned by the audio readiness check after Shutdown.
var ErrClosed = errors.New("app: shut down")

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	log        *slog.Logger
	level      *slog.LevelVar
	registry   *config.Registry
	metrics    *observe.Metrics
	gatherer   prometheus.Gatherer
	configPath string
	reloadIvl  time.Duration

	device    config.Backend
	store     *history.Store
	exchanger *exchange.Exchanger
	diag      *diag.Server
	breaker   *resilience.Breaker
	retry     time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	closed   atomic.Bool
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDevice injects an audio backend instead of creating one from the
// registry. The app closes it on Shutdown.
func WithDevice(d config.Backend) Option {
	return func(a *App) { a.device = d }
}

// WithHistory injects a history store. The caller keeps ownership.
func WithHistory(s *history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry replaces the built-in backend registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel lets config reloads adjust the log level.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithBreaker replaces the circuit breaker that guards the audio device in
// Serve.
func WithBreaker(b *resilience.Breaker) Option {
	return func(a *App) { a.breaker = b }
}

// WithRetryDelay sets how long Serve waits after an exchange whose audio
// streams failed to open.
func WithRetryDelay(d time.Duration) Option {
	return func(a *App) { a.retry = d }
}

// WithConfigPath makes Serve watch path and apply changes between exchanges.
func WithConfigPath(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.reloadIvl = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error, anything
// already opened is closed again.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.registry == nil {
		a.registry = BuiltinRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.retry <= 0 {
		a.retry = defaultRetryDelay
	}
	if a.breaker == nil {
		a.breaker = resilience.New(resilience.Config{
			Name:      "audio",
			IsFailure: isDeviceFailure,
			Logger:    a.log,
		})
	}

	// ── 1. Audio backend ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initHistory(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Exchanger ─────────────────────────────────────────────────────
	var dev audio.Device = a.device
	if cfg.Audio.SampleRate > 0 {
		dev = rateHint{Device: a.device, rate: cfg.Audio.SampleRate}
	}
	x, err := exchange.New(dev, cfg,
		exchange.WithLogger(a.log),
		exchange.WithMetrics(a.metrics),
		exchange.WithRecorder(a.store),
	)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init exchanger: %w", err)
	}
	a.exchanger = x

	// ── 4. Diagnostics server ────────────────────────────────────────────
	if addr := cfg.Server.DiagnosticsAddr; addr != "" {
		a.diag = diag.New(addr, x,
			diag.WithHistory(a.store),
			diag.WithHistoryLimit(cfg.History.Limit),
			diag.WithCheckers(
				health.Checker{Name: "audio", Check: a.CheckAudio},
				health.Checker{Name: "history", Check: a.store.Check},
			),
			diag.WithMetrics(a.metrics),
			diag.WithGatherer(a.gatherer),
			diag.WithLogger(a.log),
		)
	}

	a.log.Debug("app initialised",
		"backend", cfg.Audio.Backend,
		"history", historyMode(cfg.History),
		"diagnostics", cfg.Server.DiagnosticsAddr,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAudio() error {
	if a.device != nil {
		a.closers = append(a.closers, a.device.Close)
		return nil
	}
	dev, err := a.registry.CreateBackend(a.cfg.Audio, a.log)
	if err != nil {
		return err
	}
	a.device = dev
	a.closers = append(a.closers, dev.Close)
	return nil
}

func (a *App) initHistory() error {
	if a.store != nil {
		return nil
	}
	store, err := history.Open(history.Options{
		Dir:      a.cfg.History.Dir,
		InMemory: a.cfg.History.Dir == "",
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// BuiltinRegistry returns a registry with every backend shipped with
// Digi-Battle: "malgo", "portaudio" and "mock".
func BuiltinRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterBackend("malgo", func(_ config.AudioConfig, log *slog.Logger) (config.Backend, error) {
		return miniaudio.New(miniaudio.WithLogger(log))
	})
	reg.RegisterBackend("portaudio", func(_ config.AudioConfig, log *slog.Logger) (config.Backend, error) {
		return portaudio.New(portaudio.WithLogger(log))
	})
	reg.RegisterBackend("mock", func(c config.AudioConfig, _ *slog.Logger) (config.Backend, error) {
		return &mock.Device{
			InputRate:      c.SampleRate,
			OutputRate:     c.SampleRate,
			FramesPerBurst: c.PeriodFrames,
		}, nil
	})
	return reg
}

// rateHint fills in the configured sample rate on specs that leave it to the
// device.
type rateHint struct {
	audio.Device
	rate int
}

func (r rateHint) OpenInput(spec audio.StreamSpec, fn audio.InputFunc) (audio.Stream, error) {
	if spec.SampleRate == 0 {
		spec.SampleRate = r.rate
	}
	return r.Device.OpenInput(spec, fn)
}

func (r rateHint) OpenOutput(spec audio.StreamSpec, fn audio.OutputFunc) (audio.Stream, error) {
	if spec.SampleRate == 0 {
		spec.SampleRate = r.rate
	}
	return r.Device.OpenOutput(spec, fn)
}

// CheckAudio is the audio readiness probe. It fails after Shutdown and while
// the device breaker is open.
func (a *App) CheckAudio(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.breaker.Check(ctx)
}

// isDeviceFailure reports whether err means the audio streams could not be
// opened, as opposed to a peer that never answered.
func isDeviceFailure(err error) bool {
	var setup *exchange.SetupError
	return errors.As(err, &setup) && setup.Stage == "engine"
}

func historyMode(h config.HistoryConfig) string {
	if h.Dir == "" {
		return "memory"
	}
	return h.Dir
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Exchanger returns the exchanger.
func (a *App) Exchanger() *exchange.Exchanger { return a.exchanger }

// History returns the history store.
func (a *App) History() *history.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Exchange performs one exchange with the diagnostics server running beside
// it. An empty role is taken from link.role.
func (a *App) Exchange(ctx context.Context, role string, messages []string) (*exchange.Result, error) {
	r, err := a.role(role)
	if err != nil {
		return nil, err
	}

	var (
		res    *exchange.Result
		runErr error
	)
	err = a.withDiagnostics(ctx, func(ctx context.Context) error {
		res, runErr = a.exchanger.Run(ctx, exchange.Request{
			Role:     r,
			Messages: messages,
			OnProcessing: func() {
				a.log.Info("peer link established", "role", r)
			},
		})
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, runErr
}

// ServeRequest configures the responder loop.
type ServeRequest struct {
	// Role overrides link.role when set.
	Role string

	// Messages are played on every exchange.
	Messages []string

	// Rounds stops the loop after that many exchanges. Zero runs until ctx
	// is cancelled.
	Rounds int

	// OnResult, if set, receives every completed exchange.
	OnResult func(*exchange.Result, error)
}

// Serve runs exchanges back to back until ctx is cancelled or req.Rounds
// exchanges have run. When a config path was given, the file is watched and
// changes apply to the next exchange. Exchanges whose audio streams fail to
// open are retried; repeated failures trip the device breaker, and the loop
// waits it out without counting rounds.
func (a *App) Serve(ctx context.Context, req ServeRequest) error {
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload,
			config.WithInterval(a.reloadIvl),
			config.WithWatcherLogger(a.log),
		)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		defer w.Stop()
	}

	return a.withDiagnostics(ctx, func(ctx context.Context) error {
		for round := 1; req.Rounds == 0 || round <= req.Rounds; {
			role, err := a.role(req.Role)
			if err != nil {
				return err
			}

			var res *exchange.Result
			err = a.breaker.Do(func() error {
				var runErr error
				res, runErr = a.exchanger.Run(ctx, exchange.Request{Role: role, Messages: req.Messages})
				return runErr
			})
			if errors.Is(err, resilience.ErrCircuitOpen) {
				wait := a.breaker.RetryAfter()
				a.log.Warn("audio device unavailable, backing off", "retry_in", wait)
				if !sleep(ctx, wait) {
					return nil
				}
				continue
			}
			if req.OnResult != nil {
				req.OnResult(res, err)
			}

			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, exchange.ErrSessionTimeout):
				a.log.Info("exchange timed out, waiting for the next peer", "round", round)
			case isDeviceFailure(err):
				a.log.Error("exchange failed to start", "round", round, "err", err)
				if !sleep(ctx, a.retry) {
					return nil
				}
			case err != nil:
				return err
			default:
				a.log.Info("exchange finished",
					"round", round,
					"id", res.ID,
					"received", res.Received(),
					"rtt_ms", res.RoundTripMillis,
				)
			}
			round++
		}
		return nil
	})
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Reload applies a new config between exchanges. It is the callback of the
// config watcher in Serve.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LinkChanged || d.SignalChanged || d.CodecChanged {
		if err := a.exchanger.Configure(new); err != nil {
			a.log.Warn("config reload rejected", "err", err)
			return
		}
		a.log.Info("exchange settings reloaded",
			"link", d.LinkChanged,
			"signal", d.SignalChanged,
			"codec", d.CodecChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("some changes need a restart", "settings", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

func (a *App) role(override string) (engine.Role, error) {
	name := override
	if name == "" {
		name = string(a.Config().Link.Role)
	}
	r, err := engine.ParseRole(name)
	if err != nil {
		return r, fmt.Errorf("app: %w", err)
	}
	return r, nil
}

// withDiagnostics runs fn with the diagnostics server serving beside it.
// The server stops when fn returns.
func (a *App) withDiagnostics(ctx context.Context, fn func(context.Context) error) error {
	if a.diag == nil {
		return fn(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(func() error { return a.diag.Run(serveCtx) })
	g.Go(func() error {
		defer stopServe()
		return fn(gctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.closed.Store(true)
		a.log.Debug("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
