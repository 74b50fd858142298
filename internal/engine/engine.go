// Package engine runs one side of a half-duplex link-cable exchange over a
// pair of audio streams.
//
// An [Engine] owns a capture stream and a playback stream. The capture
// callback feeds every sample through a [partition.Machine], records the raw
// signal, and notes the input index at which each partition's handshake
// started, its payload started, and its payload ended. The playback callback
// plays this side's frame for each partition it owns and silence otherwise.
//
// The two callbacks run on threads owned by the audio backend. They share
// state only through atomics, plus one mutex around the recording, and never
// block on the host thread.
//
// Typical usage:
//
//	eng := engine.New(cfg, dev, engine.WithLogger(log))
//	if err := eng.Start(ctx); err != nil {
//		...
//	}
//	defer eng.Stop()
//	for eng.Status() != engine.Finished {
//		time.Sleep(100 * time.Millisecond)
//	}
//	samples := eng.RecordedSignal()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digibattleapp/Digi-Battle/internal/frame"
	"github.com/digibattleapp/Digi-Battle/internal/partition"
	"github.com/digibattleapp/Digi-Battle/pkg/audio"
)

// Engine is a single exchange session. It is started once; a stopped or
// failed engine stays inert and a new one must be built for the next session.
//
// The host-facing methods are safe to call concurrently with the audio
// callbacks.
type Engine struct {
	cfg     Config
	dev     audio.Device
	log     *slog.Logger
	now     func() time.Time
	epoch   time.Time
	finishK int

	// Lifecycle, guarded by mu.
	mu      sync.Mutex
	started bool
	input   audio.Stream
	output  audio.Stream

	// Written by Start before framesReady or machine is published, read-only
	// afterwards.
	frames          []frame.Frame
	outputRate      int
	nativeHandshake int
	margin          int64

	framesReady atomic.Bool
	machine     atomic.Pointer[partition.Machine]
	inputRate   atomic.Int32

	inputReady  atomic.Bool
	outputReady atomic.Bool
	running     atomic.Bool

	status atomic.Int32

	// Snapshot of the machine published by the input callback.
	state     atomic.Int32
	partition atomic.Int32

	prevPartition atomic.Int32
	cursor        atomic.Int64
	inputIdx      atomic.Int64
	cutovers      atomic.Int64

	// Nanoseconds since epoch, zero while unset.
	sentAt     atomic.Int64
	receivedAt atomic.Int64

	handshakeStart [MaxPartitions]atomic.Int64
	handshakeEnd   [MaxPartitions]atomic.Int64
	signalEnd      [MaxPartitions]atomic.Int64

	// Owned by the input callback.
	cutoverApplied bool
	lastClosed     int

	recMu     sync.Mutex
	recording []int16
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock replaces the clock used for the round-trip timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine for cfg that will open its streams on dev. The
// authored frames are copied.
func New(cfg Config, dev audio.Device, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		dev:     dev,
		log:     slog.Default(),
		now:     time.Now,
		finishK: DefaultFinishTimeoutFactor,
	}
	for _, o := range opts {
		o(e)
	}
	if cfg.FinishTimeoutFactor > 0 {
		e.finishK = cfg.FinishTimeoutFactor
	}
	e.cfg.Frames = make([]frame.Frame, len(cfg.Frames))
	for i, f := range cfg.Frames {
		e.cfg.Frames[i] = f.Clone()
	}
	e.epoch = e.now()
	e.log = e.log.With("role", cfg.Role.String())
	return e
}

// Start opens and starts the output stream, prepares the frames for its
// rate, then opens and starts the input stream and arms the partition
// machine. Any failure is returned and leaves the engine inert: both
// callbacks keep producing silence and recording nothing. Streams that were
// opened before the failure are released by [Engine.Stop].
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	if err := e.cfg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}

	spec := audio.MonoLowLatency(e.cfg.FramesPerBuffer)

	// ── Output ────────────────────────────────────────────────────────────
	out, err := e.dev.OpenOutput(spec, e.handleOutput)
	if err != nil {
		e.log.Error("engine: failed to open output stream", "err", err)
		return fmt.Errorf("engine: open output stream: %w", err)
	}
	e.output = out
	if ch := out.ChannelCount(); ch != 1 {
		e.log.Warn("engine: output stream is not mono", "channels", ch)
		return fmt.Errorf("engine: output stream has %d channels: %w", ch, ErrChannelCount)
	}
	if err := out.SetBufferSizeInFrames(out.FramesPerBurst()); err != nil {
		e.log.Debug("engine: output buffer size unchanged", "err", err)
	}
	if err := out.RequestStart(); err != nil {
		e.log.Error("engine: failed to start output stream", "err", err)
		return fmt.Errorf("engine: start output stream: %w", err)
	}

	e.outputRate = out.SampleRate()
	e.nativeHandshake = frame.Scale(e.cfg.HandshakeLength, e.cfg.FrameRate, e.outputRate)
	changeThreshold := frame.Scale(e.cfg.PartitionChangeThreshold, e.cfg.FrameRate, e.outputRate)

	prepared, err := frame.Prepare(e.cfg.Frames, e.cfg.FrameRate, e.outputRate)
	if err != nil {
		e.log.Warn("engine: cannot resample frames, output stays silent",
			"frame_rate", e.cfg.FrameRate,
			"output_rate", e.outputRate,
			"err", err,
		)
	} else {
		e.frames = prepared
		e.framesReady.Store(true)
	}

	// ── Input ─────────────────────────────────────────────────────────────
	in, err := e.dev.OpenInput(spec, e.handleInput)
	if err != nil {
		e.log.Error("engine: failed to open input stream", "err", err)
		return fmt.Errorf("engine: open input stream: %w", err)
	}
	e.input = in
	if ch := in.ChannelCount(); ch != 1 {
		e.log.Warn("engine: input stream is not mono", "channels", ch)
		return fmt.Errorf("engine: input stream has %d channels: %w", ch, ErrChannelCount)
	}
	if err := in.SetBufferSizeInFrames(in.FramesPerBurst()); err != nil {
		e.log.Debug("engine: input buffer size unchanged", "err", err)
	}
	if err := in.RequestStart(); err != nil {
		e.log.Error("engine: failed to start input stream", "err", err)
		return fmt.Errorf("engine: start input stream: %w", err)
	}
	e.inputRate.Store(int32(in.SampleRate()))

	// ── Machine ───────────────────────────────────────────────────────────
	e.margin = cutoverMargin(e.outputRate, e.cfg.ExpectedRTTMillis, e.cfg.ExpectedMessageMillis)
	m := partition.NewMachine(e.cfg.StartThreshold, changeThreshold,
		partition.WithHandoffRunLimit(e.cfg.HandoffRunLimit),
	)
	e.status.Store(int32(PendingSignal))
	e.running.Store(true)
	e.machine.Store(m)

	e.log.Info("engine: started",
		"output_rate", e.outputRate,
		"input_rate", in.SampleRate(),
		"frames", len(e.cfg.Frames),
		"handshake", e.nativeHandshake,
		"change_threshold", changeThreshold,
		"cutover_margin", e.margin,
	)
	return nil
}

// Stop stops and closes both streams. Errors are logged, never returned.
// Stop is safe on a nil engine, before Start, and when called repeatedly.
func (e *Engine) Stop() {
	if e == nil {
		return
	}
	e.mu.Lock()
	in, out := e.input, e.output
	e.input, e.output = nil, nil
	e.mu.Unlock()

	e.running.Store(false)
	e.closeStream("input", in)
	e.closeStream("output", out)
}

func (e *Engine) closeStream(dir string, s audio.Stream) {
	if s == nil {
		return
	}
	if err := s.RequestStop(); err != nil {
		e.log.Error("engine: failed to stop stream", "direction", dir, "err", err)
	}
	if err := s.Close(); err != nil {
		e.log.Error("engine: failed to close stream", "direction", dir, "err", err)
	}
}

// cutoverMargin returns the number of output samples after a peer's payload
// starts at which this side stops waiting for the peer's end marker. Zero
// disables early cutover.
func cutoverMargin(outputRate, rttMillis, messageMillis int) int64 {
	if rttMillis <= 0 || messageMillis <= 0 {
		return 0
	}
	rate := int64(outputRate)
	var m int64
	if messageMillis >= rttMillis {
		m = rate * int64(messageMillis-rttMillis/2) / 1000
	}
	return max(m, rate*int64(messageMillis)/1000/16)
}

// stamp returns the current time as nanoseconds since the engine was built,
// never zero.
func (e *Engine) stamp() int64 {
	return max(int64(e.now().Sub(e.epoch)), 1)
}

// ─── Callbacks ───────────────────────────────────────────────────────────────

// handleInput is the capture callback.
func (e *Engine) handleInput(samples []int16) {
	if !e.inputReady.Load() {
		e.inputReady.Store(true)
	}
	m := e.machine.Load()
	if m == nil || !e.outputReady.Load() {
		return
	}

	e.recMu.Lock()
	e.recording = append(e.recording, samples...)
	e.recMu.Unlock()

	sender := e.cfg.Role == Sender
	idx := e.inputIdx.Load()
	for _, s := range samples {
		changed := m.Update(s)
		state, p := m.State(), m.Partition()
		e.state.Store(int32(state))
		e.partition.Store(int32(p))

		active := p > 0 || state != partition.Pending
		if (active || sender) && e.status.CompareAndSwap(int32(PendingSignal), int32(ProcessingSignal)) {
			e.log.Info("engine: processing signal", "input_index", idx)
		}
		if active && e.receivedAt.Load() == 0 {
			e.receivedAt.CompareAndSwap(0, e.stamp())
		}
		if changed {
			e.markBoundary(state, p, idx)
		}

		if e.cutoverDue(state, p, idx) {
			if !e.cutoverApplied {
				e.cursor.Store(0)
				e.prevPartition.Store(int32(p + 1))
				e.cutovers.Add(1)
				e.log.Debug("engine: early cutover", "partition", p, "input_index", idx)
			}
			e.cutoverApplied = true
		} else {
			e.cutoverApplied = false
		}
		idx++
		e.inputIdx.Store(idx)
	}

	if Status(e.status.Load()) == PendingSignal {
		// Drop the array instead of truncating it: RecordedSignal may still
		// be copying from it outside the lock.
		e.recMu.Lock()
		e.recording = nil
		e.recMu.Unlock()
		e.inputIdx.Store(0)
	}
}

// markBoundary records the input index of a state transition.
func (e *Engine) markBoundary(state partition.State, p int, idx int64) {
	switch state {
	case partition.Pending:
		if p < 1 || p-1 >= MaxPartitions || p <= e.lastClosed {
			e.log.Error("engine: partition end out of range", "partition", p, "input_index", idx)
			return
		}
		e.lastClosed = p
		e.signalEnd[p-1].Store(idx)
	case partition.Handshake:
		if p >= MaxPartitions {
			e.log.Error("engine: handshake start out of range", "partition", p, "input_index", idx)
			return
		}
		e.handshakeStart[p].Store(idx)
	case partition.Processing:
		if p >= MaxPartitions {
			e.log.Error("engine: handshake end out of range", "partition", p, "input_index", idx)
			return
		}
		e.handshakeEnd[p].Store(idx)
	default:
		e.log.Error("engine: unknown partition state", "state", state.String())
	}
}

// cutoverDue reports whether the peer's payload in partition p has run long
// enough that this side should take its turn without waiting for the end
// marker.
func (e *Engine) cutoverDue(state partition.State, p int, idx int64) bool {
	if state != partition.Processing || e.cfg.Role.Transmits(p) {
		return false
	}
	if e.margin == 0 || p >= MaxPartitions || p+1 >= len(e.cfg.Frames)*2 {
		return false
	}
	start := e.handshakeEnd[p].Load()
	return start != 0 && idx-start >= e.margin
}

// handleOutput is the playback callback.
func (e *Engine) handleOutput(out []int16) {
	if !e.outputReady.Load() {
		e.outputReady.Store(true)
	}
	if !e.framesReady.Load() || e.machine.Load() == nil {
		clear(out)
		return
	}

	p := e.partition.Load()
	if prev := e.prevPartition.Load(); prev < p && e.prevPartition.CompareAndSwap(prev, p) {
		e.cursor.Store(0)
	}
	prev := int(e.prevPartition.Load())
	slot := prev / 2
	cursor := e.cursor.Load()

	send := e.inputReady.Load() && e.cfg.Role.Transmits(prev)
	n := len(e.frames)
	if slot >= n || (slot < n-1 && int64(len(e.frames[slot])) <= cursor) {
		send = false
		if e.cfg.TimeoutToFinish && cursor > int64(e.finishK*e.nativeHandshake) {
			if Status(e.status.Swap(int32(Finished))) != Finished {
				e.log.Info("engine: finished", "partition", p)
			}
		}
	}

	if send {
		if e.sentAt.Load() == 0 {
			e.sentAt.CompareAndSwap(0, e.stamp())
		}
		f := e.frames[slot]
		remaining := int64(len(f)) - cursor
		if int64(len(out)) <= remaining {
			copy(out, f[cursor:])
		} else {
			clear(out)
			if remaining > 0 {
				copy(out, f[cursor:])
			}
		}
	} else {
		clear(out)
	}

	if e.sentAt.Load() != 0 {
		e.cursor.Add(int64(len(out)))
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Status returns the current protocol status.
func (e *Engine) Status() Status { return Status(e.status.Load()) }

// Running reports whether Start succeeded and Stop has not been called.
func (e *Engine) Running() bool { return e.running.Load() }

// RoundTripMillis returns the time between this side's first transmitted
// sample and its first meaningful input. The value is meaningless until both
// have happened.
func (e *Engine) RoundTripMillis() int64 {
	return (e.receivedAt.Load() - e.sentAt.Load()) / int64(time.Millisecond)
}

// RecordedSignal returns a copy of the captured signal since the first
// meaningful input.
func (e *Engine) RecordedSignal() []int16 {
	// Capture only appends past len or swaps in a new array, so the prefix
	// seen here is stable and can be copied without holding the lock.
	e.recMu.Lock()
	rec := e.recording
	e.recMu.Unlock()
	return append([]int16(nil), rec...)
}

// RecordedInputRate returns the negotiated capture rate, or zero before the
// input stream is open.
func (e *Engine) RecordedInputRate() int { return int(e.inputRate.Load()) }

// PartitionBoundary returns the input index recorded for label in partition
// p. It returns -1 when p is outside [0, MaxPartitions) or label is unknown,
// and 0 when the transition has not been observed.
func (e *Engine) PartitionBoundary(p int, label Label) int {
	if p < 0 || p >= MaxPartitions {
		return -1
	}
	switch label {
	case LabelHandshakeStart:
		return int(e.handshakeStart[p].Load())
	case LabelHandshakeEnd:
		return int(e.handshakeEnd[p].Load())
	case LabelSignalEnd:
		return int(e.signalEnd[p].Load())
	}
	return -1
}

// Boundaries returns the recorded boundaries of every partition up to and
// including the current one.
func (e *Engine) Boundaries() []Boundary {
	last := min(int(e.partition.Load()), MaxPartitions-1)
	out := make([]Boundary, 0, last+1)
	for p := 0; p <= last; p++ {
		out = append(out, Boundary{
			Partition:      p,
			HandshakeStart: e.PartitionBoundary(p, LabelHandshakeStart),
			HandshakeEnd:   e.PartitionBoundary(p, LabelHandshakeEnd),
			SignalEnd:      e.PartitionBoundary(p, LabelSignalEnd),
		})
	}
	return out
}

// Snapshot returns a diagnostic view of the engine.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Role:              e.cfg.Role.String(),
		Status:            e.Status().String(),
		Running:           e.Running(),
		State:             partition.State(e.state.Load()).String(),
		Partition:         int(e.partition.Load()),
		PreviousPartition: int(e.prevPartition.Load()),
		InputIndex:        e.inputIdx.Load(),
		OutputCursor:      e.cursor.Load(),
		InputRate:         e.RecordedInputRate(),
		Cutovers:          e.cutovers.Load(),
		Boundaries:        e.Boundaries(),
	}
	if e.sentAt.Load() != 0 && e.receivedAt.Load() != 0 {
		s.RoundTripMillis = e.RoundTripMillis()
	}
	if e.machine.Load() != nil {
		s.OutputRate = e.outputRate
		s.CutoverMargin = int(e.margin)
	}
	if e.framesReady.Load() {
		s.FrameLengths = make([]int, len(e.frames))
		for i, f := range e.frames {
			s.FrameLengths[i] = len(f)
		}
	}
	e.recMu.Lock()
	s.Recorded = len(e.recording)
	e.recMu.Unlock()
	return s
}
