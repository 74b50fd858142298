// Package resilience guards the audio device against retry storms.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). The
// responder loop runs every exchange through one: when the device keeps
// refusing to open, the breaker trips and the loop backs off for the reset
// timeout instead of hammering the driver. Errors that say nothing about the
// device, such as a peer that never answered, are filtered out with
// [Config.IsFailure].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] and [Breaker.Check] while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets up to Config.Probes calls through. They all have to
	// succeed for the breaker to close; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero values take the defaults noted per field.
type Config struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default: 1.
	Probes int

	// IsFailure reports whether an error returned by the guarded call counts
	// against the breaker. Other errors count as successes. Default: every
	// non-nil error.
	IsFailure func(error) bool

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern around a single resource.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// New returns a closed [Breaker].
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn unless the breaker is open, and returns fn's error unchanged.
// While open, or once the half-open probe budget is spent, it returns
// [ErrCircuitOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.probeWins = 0, 0
		b.cfg.Logger.Info("circuit breaker half-open", "name", b.cfg.Name)
	}
	probing := b.state == StateHalfOpen
	if probing {
		if b.probes >= b.cfg.Probes {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.IsFailure(err) {
		b.failed(probing, err)
	} else {
		b.succeeded(probing)
	}
	return err
}

// failed must be called with b.mu held.
func (b *Breaker) failed(probing bool, err error) {
	if probing {
		b.trip()
		b.cfg.Logger.Warn("circuit breaker re-opened", "name", b.cfg.Name, "err", err)
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.trip()
		b.cfg.Logger.Warn("circuit breaker opened",
			"name", b.cfg.Name,
			"consecutive_failures", b.failures,
			"retry_in", b.cfg.ResetTimeout,
			"err", err,
		)
	}
}

// succeeded must be called with b.mu held.
func (b *Breaker) succeeded(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	b.probeWins++
	if b.probeWins >= b.cfg.Probes {
		b.state = StateClosed
		b.failures = 0
		b.cfg.Logger.Info("circuit breaker closed", "name", b.cfg.Name)
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.failures = b.cfg.MaxFailures
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// RetryAfter returns how long an open breaker keeps rejecting calls. It is
// zero in every other state.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	return max(b.cfg.ResetTimeout-b.cfg.Now().Sub(b.openedAt), 0)
}

// Check is a readiness probe: it fails while the breaker rejects calls.
func (b *Breaker) Check(context.Context) error {
	if wait := b.RetryAfter(); wait > 0 {
		return fmt.Errorf("%s: %w (retry in %s)", b.cfg.Name, ErrCircuitOpen, wait.Round(time.Second))
	}
	return nil
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probes, b.probeWins = 0, 0, 0
	b.cfg.Logger.Info("circuit breaker reset", "name", b.cfg.Name)
}
