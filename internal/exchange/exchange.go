// Package exchange runs one complete message exchange over the audio link:
// it encodes the outgoing messages, plays them through a link engine while
// recording the peer, waits for the session to end, and decodes what was
// heard.
//
// Only one exchange may hold the audio device at a time; a concurrent
// [Exchanger.Run] fails fast with [ErrBusy].
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/digibattleapp/Digi-Battle/internal/codec"
	"github.com/digibattleapp/Digi-Battle/internal/config"
	"github.com/digibattleapp/Digi-Battle/internal/engine"
	"github.com/digibattleapp/Digi-Battle/internal/frame"
	"github.com/digibattleapp/Digi-Battle/internal/history"
	"github.com/digibattleapp/Digi-Battle/internal/observe"
	"github.com/digibattleapp/Digi-Battle/internal/signal"
	"github.com/digibattleapp/Digi-Battle/pkg/audio"
)

// changeThresholdAt48k is the partition change run length at 48 kHz. It is
// scaled to the codec rate when the config leaves the threshold unset.
const changeThresholdAt48k = 300

var (
	// ErrBusy is returned by [Exchanger.Run] while another exchange runs.
	ErrBusy = errors.New("exchange: another exchange is running")

	// ErrNoMessages is returned for a request without messages.
	ErrNoMessages = errors.New("exchange: at least one message is required")

	// ErrTooManyMessages is returned for a request with more messages than
	// one session can play. See [engine.MaxFrames].
	ErrTooManyMessages = errors.New("exchange: too many messages")

	// ErrSessionTimeout is returned when link.session_timeout elapses before
	// the engine finishes.
	ErrSessionTimeout = errors.New("exchange: session timed out")
)

// SetupError reports an exchange that failed before the engine ran. Stage
// is "codec" for a bad message or preset and "engine" when the audio streams
// could not be started.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string { return "exchange: " + e.Stage + ": " + e.Err.Error() }

func (e *SetupError) Unwrap() error { return e.Err }

// Recorder persists exchange records. [history.Store] implements it.
type Recorder interface {
	Put(ctx context.Context, r *history.Record) error
}

// Request describes one exchange.
type Request struct {
	// Role is the side this device plays.
	Role engine.Role

	// Messages are the 4-digit hex messages to play, one per turn.
	Messages []string

	// OnProcessing, if set, is called once when the engine leaves the
	// pending state: immediately for a sender, on the peer's first
	// handshake for a receiver.
	OnProcessing func()
}

// Result is the outcome of one exchange.
type Result struct {
	ID              string
	Role            engine.Role
	Preset          string
	Outcome         string
	StartedAt       time.Time
	FinishedAt      time.Time
	Sent            []string
	Messages        []history.Message
	RoundTripMillis int64
	InputRate       int
	Partitions      int
	Cutovers        int64
	Boundaries      []engine.Boundary
	Recording       []int16
}

// Received returns the hex messages decoded from the peer's turns, in
// partition order.
func (r *Result) Received() []string {
	var out []string
	for _, m := range r.Messages {
		if m.FromPeer {
			out = append(out, m.Hex)
		}
	}
	return out
}

// Record converts r into a history record.
func (r *Result) Record() *history.Record {
	return &history.Record{
		ID:              r.ID,
		Role:            r.Role.String(),
		Preset:          r.Preset,
		Outcome:         r.Outcome,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Sent:            r.Sent,
		Received:        r.Messages,
		RoundTripMillis: r.RoundTripMillis,
		InputRate:       r.InputRate,
		Partitions:      r.Partitions,
	}
}

// Session is the diagnostic view of the running exchange.
type Session struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Messages  []string        `json:"messages"`
	StartedAt time.Time       `json:"started_at"`
	Engine    engine.Snapshot `json:"engine"`
}

type session struct {
	id       string
	role     engine.Role
	messages []string
	started  time.Time
	eng      *engine.Engine
}

// Exchanger runs exchanges on one audio device.
type Exchanger struct {
	dev      audio.Device
	log      *slog.Logger
	metrics  *observe.Metrics
	recorder Recorder
	now      func() time.Time

	cfg     atomic.Pointer[config.Config]
	busy    atomic.Bool
	current atomic.Pointer[session]

	// lastMu guards last.
	lastMu sync.Mutex
	last   *Result
}

// Option configures an [Exchanger].
type Option func(*Exchanger)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(x *Exchanger) {
		if l != nil {
			x.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(x *Exchanger) {
		if m != nil {
			x.metrics = m
		}
	}
}

// WithRecorder persists every exchange, including failed ones.
func WithRecorder(r Recorder) Option {
	return func(x *Exchanger) { x.recorder = r }
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(x *Exchanger) {
		if now != nil {
			x.now = now
		}
	}
}

// New returns an Exchanger for dev using cfg's link, signal, codec and audio
// settings.
func New(dev audio.Device, cfg *config.Config, opts ...Option) (*Exchanger, error) {
	x := &Exchanger{
		dev: dev,
		log: slog.Default(),
		now: time.Now,
	}
	for _, o := range opts {
		o(x)
	}
	if x.metrics == nil {
		x.metrics = observe.DefaultMetrics()
	}
	if err := x.Configure(cfg); err != nil {
		return nil, err
	}
	return x, nil
}

// Configure replaces the settings used by the next exchange. A running
// exchange keeps the settings it started with.
func (x *Exchanger) Configure(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("exchange: config is required")
	}
	if _, err := codec.Lookup(cfg.Codec.Preset); err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	x.cfg.Store(cfg)
	return nil
}

// Current returns the running exchange, if any.
func (x *Exchanger) Current() (Session, bool) {
	s := x.current.Load()
	if s == nil {
		return Session{}, false
	}
	return Session{
		ID:        s.id,
		Role:      s.role.String(),
		Messages:  s.messages,
		StartedAt: s.started,
		Engine:    s.eng.Snapshot(),
	}, true
}

// Last returns the most recent completed exchange, or nil.
func (x *Exchanger) Last() *Result {
	x.lastMu.Lock()
	defer x.lastMu.Unlock()
	return x.last
}

// Run performs one exchange and blocks until the engine finishes, ctx is
// cancelled, or link.session_timeout elapses. On cancellation or timeout the
// partial result is returned together with the error.
func (x *Exchanger) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if len(req.Messages) > engine.MaxFrames {
		return nil, fmt.Errorf("%w: %d messages exceed the maximum of %d", ErrTooManyMessages, len(req.Messages), engine.MaxFrames)
	}
	if !x.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer x.busy.Store(false)

	cfg := x.cfg.Load()
	id := uuid.NewString()
	role := req.Role.String()

	ctx, span := observe.StartExchange(ctx, id, role, len(req.Messages))
	base := observe.Logger(ctx, x.log).With("exchange_id", id)
	log := base.With("role", role)

	res := &Result{
		ID:        id,
		Role:      req.Role,
		Preset:    cfg.Codec.Preset,
		StartedAt: x.now(),
		Sent:      append([]string(nil), req.Messages...),
	}

	c, err := codec.Lookup(cfg.Codec.Preset)
	if err != nil {
		return nil, x.fail(ctx, span, res, "codec", err)
	}
	bits, err := c.Frames(req.Messages)
	if err != nil {
		return nil, x.fail(ctx, span, res, "codec", err)
	}
	synth := signal.Synthesizer{
		Inverted:  cfg.Signal.IsInverted(),
		InitRatio: cfg.Signal.InitRatio,
		RampDelta: cfg.Signal.RampDelta,
	}

	eng := engine.New(engineConfig(cfg, c, req.Role, synth.SynthesizeAll(bits)), x.dev,
		engine.WithLogger(base),
		engine.WithClock(x.now),
	)
	if err := eng.Start(ctx); err != nil {
		eng.Stop()
		return nil, x.fail(ctx, span, res, "engine", err)
	}

	x.metrics.ActiveExchanges.Add(ctx, 1)
	x.current.Store(&session{
		id:       id,
		role:     req.Role,
		messages: res.Sent,
		started:  res.StartedAt,
		eng:      eng,
	})
	log.Info("exchange started", "messages", req.Messages)

	res.Outcome = wait(ctx, eng, cfg.Link, req.OnProcessing)

	eng.Stop()
	x.current.Store(nil)
	x.metrics.ActiveExchanges.Add(ctx, -1)

	x.collect(res, eng, c, cfg.Link.StartThreshold)
	for _, m := range res.Messages {
		result := "ok"
		if m.Truncated {
			result = "truncated"
		}
		x.metrics.RecordDecoded(ctx, result)
	}
	x.metrics.Cutovers.Add(ctx, res.Cutovers)
	x.metrics.RecordExchange(ctx, role, res.Outcome, res.FinishedAt.Sub(res.StartedAt).Seconds(), res.Partitions)
	if res.Outcome == history.OutcomeFinished && res.RoundTripMillis >= 0 {
		x.metrics.RoundTrip.Record(ctx, float64(res.RoundTripMillis))
	}
	x.store(ctx, log, res.Record())
	x.lastMu.Lock()
	x.last = res
	x.lastMu.Unlock()

	log.Info("exchange ended",
		"outcome", res.Outcome,
		"received", res.Received(),
		"rtt_ms", res.RoundTripMillis,
		"partitions", res.Partitions,
	)

	var runErr error
	switch res.Outcome {
	case history.OutcomeTimeout:
		runErr = ErrSessionTimeout
	case history.OutcomeCanceled:
		runErr = fmt.Errorf("exchange: %w", context.Cause(ctx))
	}
	observe.EndExchange(span, res.Outcome, res.Partitions, runErr)
	return res, runErr
}

// fail records a setup failure and returns the wrapped error.
func (x *Exchanger) fail(ctx context.Context, span trace.Span, res *Result, stage string, err error) error {
	err = &SetupError{Stage: stage, Err: err}
	observe.EndExchange(span, history.OutcomeFailed, 0, err)
	x.metrics.RecordSetupFailure(ctx, stage)

	rec := res.Record()
	rec.Outcome = history.OutcomeFailed
	rec.Error = err.Error()
	rec.FinishedAt = x.now()
	x.store(ctx, observe.Logger(ctx, x.log), rec)
	return err
}

func (x *Exchanger) store(ctx context.Context, log *slog.Logger, rec *history.Record) {
	if x.recorder == nil {
		return
	}
	if err := x.recorder.Put(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("exchange: failed to store history record", "err", err)
	}
}

// collect copies the engine's results into res and decodes the recording.
func (x *Exchanger) collect(res *Result, eng *engine.Engine, c *codec.Codec, threshold int) {
	snap := eng.Snapshot()
	res.FinishedAt = x.now()
	res.RoundTripMillis = eng.RoundTripMillis()
	res.InputRate = eng.RecordedInputRate()
	res.Partitions = snap.Partition
	res.Cutovers = snap.Cutovers
	res.Boundaries = eng.Boundaries()
	res.Recording = eng.RecordedSignal()
	res.Messages = Decode(c, res.Role, res.Boundaries,
		signal.DigitizeGuess(res.Recording, threshold), res.InputRate)
}

// engineConfig maps the link settings onto an engine config for frames
// encoded with c.
func engineConfig(cfg *config.Config, c *codec.Codec, role engine.Role, frames []frame.Frame) engine.Config {
	change := cfg.Link.PartitionChangeThreshold
	if change == 0 {
		change = c.Rate * changeThresholdAt48k / 48000
	}
	rtt := 0
	if cfg.Link.ExpectedRTT > 0 {
		rtt = int(cfg.Link.ExpectedRTT.Milliseconds())
	}
	return engine.Config{
		Role:                     role,
		Frames:                   frames,
		FrameRate:                c.Rate,
		StartThreshold:           cfg.Link.StartThreshold,
		HandshakeLength:          c.HandshakeLength,
		PartitionChangeThreshold: change,
		TimeoutToFinish:          cfg.Link.FinishOnTimeout(),
		ExpectedRTTMillis:        rtt,
		ExpectedMessageMillis:    c.MessageMillis(),
		HandoffRunLimit:          cfg.Link.HandoffRunLimit,
		FinishTimeoutFactor:      cfg.Link.FinishTimeoutFactor,
		FramesPerBuffer:          cfg.Audio.PeriodFrames,
	}
}

// StatusSource reports an engine's protocol status.
type StatusSource interface {
	Status() engine.Status
}

// wait polls src every link.PollInterval until it finishes, ctx is done, or
// link.SessionTimeout elapses, and returns the outcome. onProcessing is
// called once when the status first leaves PendingSignal.
func wait(ctx context.Context, src StatusSource, link config.LinkConfig, onProcessing func()) string {
	var timeout <-chan time.Time
	if link.SessionTimeout > 0 {
		t := time.NewTimer(link.SessionTimeout)
		defer t.Stop()
		timeout = t.C
	}
	interval := link.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	notified := false
	for {
		st := src.Status()
		if !notified && st != engine.PendingSignal {
			notified = true
			if onProcessing != nil {
				onProcessing()
			}
		}
		if st == engine.Finished {
			return history.OutcomeFinished
		}
		select {
		case <-ctx.Done():
			return history.OutcomeCanceled
		case <-timeout:
			return history.OutcomeTimeout
		case <-ticker.C:
		}
	}
}

// Decode reads the payload of every partition whose handshake end and signal
// end were both recorded. bits is the digitized recording at inputRate.
// Partitions role does not transmit in are marked FromPeer.
func Decode(c *codec.Codec, role engine.Role, bounds []engine.Boundary, bits []bool, inputRate int) []history.Message {
	if inputRate <= 0 {
		return nil
	}
	last := c.MarkerPositions(inputRate)[codec.BitsPerMessage-1]

	var out []history.Message
	for _, b := range bounds {
		if b.HandshakeEnd <= 0 || b.SignalEnd <= b.HandshakeEnd {
			continue
		}
		payload := signal.Slice(bits, b.HandshakeEnd, b.SignalEnd)
		hex, err := c.Hex(c.Decode(inputRate, payload))
		if err != nil {
			continue
		}
		out = append(out, history.Message{
			Partition: b.Partition,
			FromPeer:  !role.Transmits(b.Partition),
			Hex:       hex,
			Start:     b.HandshakeEnd,
			End:       b.SignalEnd,
			Truncated: len(payload) <= last,
		})
	}
	return out
}
