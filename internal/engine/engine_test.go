package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/digibattleapp/Digi-Battle/internal/frame"
	"github.com/digibattleapp/Digi-Battle/pkg/audio/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// ramp returns n samples continuing from start, each step apart.
func ramp(start, step int16, n int) []int16 {
	out := make([]int16, n)
	v := start
	for i := range out {
		v += step
		out[i] = v
	}
	return out
}

// cycle returns runLen falling then runLen rising samples of 10 each,
// which drives a machine with threshold 10 and change threshold runLen
// through one full partition.
func cycle(level int16, runLen int) []int16 {
	down := ramp(level, -10, runLen)
	return append(down, ramp(down[len(down)-1], 10, runLen)...)
}

// toggles returns n samples alternating 10 below and at level.
func toggles(level int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = level - 10
		} else {
			out[i] = level
		}
	}
	return out
}

func counting(n int, base int16) frame.Frame {
	f := make(frame.Frame, n)
	for i := range f {
		f[i] = base + int16(i)
	}
	return f
}

func baseConfig(role Role, rate int, frames ...frame.Frame) Config {
	return Config{
		Role:                     role,
		Frames:                   frames,
		FrameRate:                rate,
		StartThreshold:           10,
		HandshakeLength:          10,
		PartitionChangeThreshold: 5,
	}
}

func startEngine(t *testing.T, cfg Config, dev *mock.Device, opts ...Option) *Engine {
	t.Helper()
	e := New(cfg, dev, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func assertSilent(t *testing.T, name string, got []int16) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: stream delivered no callback", name)
	}
	for i, v := range got {
		if v != 0 {
			t.Fatalf("%s: sample %d = %d, want 0", name, i, v)
		}
	}
}

// ─── Start / output path ─────────────────────────────────────────────────────

func TestEngine_SenderPlaysResampledFrame(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 16000, OutputRate: 16000}
	cfg := baseConfig(Sender, 8000, counting(100, 1), counting(100, 500))
	cfg.PartitionChangeThreshold = 50
	e := startEngine(t, cfg, dev)

	if got := e.Status(); got != PendingSignal {
		t.Fatalf("status after Start: got %v, want %v", got, PendingSignal)
	}
	if !e.Running() {
		t.Fatal("Running after Start: got false")
	}
	if got := e.RecordedInputRate(); got != 16000 {
		t.Errorf("RecordedInputRate: got %d, want 16000", got)
	}
	if got := e.Snapshot().FrameLengths; len(got) != 2 || got[0] != 200 || got[1] != 200 {
		t.Fatalf("frame lengths: got %v, want [200 200]", got)
	}

	out, in := dev.Output(), dev.Input()

	// The input stream has not delivered yet, so nothing is sent.
	assertSilent(t, "first pull", out.Pull(10))

	in.Feed([]int16{0})
	if got := e.Status(); got != ProcessingSignal {
		t.Fatalf("sender status after first input: got %v, want %v", got, ProcessingSignal)
	}

	got := out.Pull(150)
	for j, v := range got {
		if want := int16(1 + j/2); v != want {
			t.Fatalf("frame sample %d: got %d, want %d", j, v, want)
		}
	}

	tail := out.Pull(100)
	for j, v := range tail {
		want := int16(0)
		if j < 50 {
			want = int16(1 + (150+j)/2)
		}
		if v != want {
			t.Fatalf("tail sample %d: got %d, want %d", j, v, want)
		}
	}
}

func TestEngine_ReceiverStaysSilentOnSendersTurn(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	e := startEngine(t, baseConfig(Receiver, 1000, counting(20, 1)), dev)

	out, in := dev.Output(), dev.Input()
	out.Pull(4)
	in.Feed(append([]int16{0}, ramp(0, -10, 5)...))
	if got := e.Status(); got != ProcessingSignal {
		t.Fatalf("status after handshake: got %v, want %v", got, ProcessingSignal)
	}
	assertSilent(t, "receiver pull", out.Pull(8))
	if got := e.Snapshot().OutputCursor; got != 0 {
		t.Errorf("cursor before first send: got %d, want 0", got)
	}
}

func TestEngine_InvalidFrameRateKeepsOutputSilent(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	e := startEngine(t, baseConfig(Sender, 0, counting(20, 1)), dev)

	out, in := dev.Output(), dev.Input()
	out.Pull(4)
	in.Feed([]int16{0})
	assertSilent(t, "pull without frames", out.Pull(8))
	if got := e.Snapshot().FrameLengths; got != nil {
		t.Errorf("frame lengths: got %v, want nil", got)
	}
}

func TestEngine_FinishesAfterIdleTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout bool
		want    Status
	}{
		{"timeout enabled", true, Finished},
		{"timeout disabled", false, ProcessingSignal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
			cfg := baseConfig(Sender, 1000, counting(20, 1))
			cfg.TimeoutToFinish = tt.timeout
			e := startEngine(t, cfg, dev)

			out, in := dev.Output(), dev.Input()
			out.Pull(4)
			in.Feed([]int16{0})
			out.Pull(5)

			in.Feed(append(cycle(0, 5), cycle(0, 5)...))
			if got := e.Snapshot().Partition; got != 2 {
				t.Fatalf("partition: got %d, want 2", got)
			}

			// Cursor restarts at the new partition and must pass 4×10 samples.
			assertSilent(t, "idle pull", out.Pull(50))
			if got := e.Status(); got != ProcessingSignal {
				t.Fatalf("status before timeout: got %v, want %v", got, ProcessingSignal)
			}
			assertSilent(t, "final pull", out.Pull(1))
			if got := e.Status(); got != tt.want {
				t.Errorf("status: got %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Input path ──────────────────────────────────────────────────────────────

func TestEngine_RecordsHandshakeStart(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 16000, OutputRate: 16000}
	cfg := baseConfig(Sender, 16000, counting(100, 1))
	cfg.PartitionChangeThreshold = 50
	e := startEngine(t, cfg, dev)

	dev.Output().Pull(4)
	samples := append([]int16{0}, ramp(0, 10, 40)...)
	samples = append(samples, ramp(400, -10, 60)...)
	dev.Input().Feed(samples)

	if got := e.PartitionBoundary(0, LabelHandshakeStart); got != 90 {
		t.Errorf("handshake start: got %d, want 90", got)
	}
	if got := e.Snapshot().State; got != "handshake" {
		t.Errorf("state: got %q, want %q", got, "handshake")
	}
	if got := len(e.RecordedSignal()); got != len(samples) {
		t.Errorf("recorded samples: got %d, want %d", got, len(samples))
	}
}

func TestEngine_ReceiverDiscardsPendingInput(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	e := startEngine(t, baseConfig(Receiver, 1000, counting(20, 1)), dev)

	out, in := dev.Output(), dev.Input()
	out.Pull(4)
	in.Feed(append([]int16{0}, ramp(0, 10, 30)...))

	if got := e.Status(); got != PendingSignal {
		t.Fatalf("status: got %v, want %v", got, PendingSignal)
	}
	if got := len(e.RecordedSignal()); got != 0 {
		t.Fatalf("recording while pending: got %d samples, want 0", got)
	}
	if got := e.Snapshot().InputIndex; got != 0 {
		t.Fatalf("input index while pending: got %d, want 0", got)
	}

	in.Feed(ramp(300, -10, 5))
	if got := e.Status(); got != ProcessingSignal {
		t.Fatalf("status after handshake: got %v, want %v", got, ProcessingSignal)
	}
	if got := len(e.RecordedSignal()); got != 5 {
		t.Errorf("recording: got %d samples, want 5", got)
	}
	if got := e.PartitionBoundary(0, LabelHandshakeStart); got != 4 {
		t.Errorf("handshake start: got %d, want 4", got)
	}
}

func TestEngine_EarlyCutoverAppliesOnce(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	cfg := baseConfig(Sender, 1000, counting(50, 1), counting(50, 100))
	cfg.ExpectedRTTMillis = 4
	cfg.ExpectedMessageMillis = 10
	e := startEngine(t, cfg, dev)

	out, in := dev.Output(), dev.Input()
	out.Pull(4)
	in.Feed([]int16{0})
	out.Pull(6)
	if got := e.Snapshot().OutputCursor; got != 6 {
		t.Fatalf("cursor after first send: got %d, want 6", got)
	}

	// Partition 0 closes at index 10; partition 1's payload starts at 16
	// and runs without an end marker.
	samples := cycle(0, 5)
	samples = append(samples, ramp(0, -10, 5)...)
	samples = append(samples, -40)
	samples = append(samples, toggles(-40, 30)...)
	in.Feed(samples)

	snap := e.Snapshot()
	if snap.CutoverMargin != 8 {
		t.Fatalf("cutover margin: got %d, want 8", snap.CutoverMargin)
	}
	if snap.Partition != 1 || snap.State != "processing" {
		t.Fatalf("machine: got partition %d state %q, want 1 processing", snap.Partition, snap.State)
	}
	if got := e.PartitionBoundary(0, LabelSignalEnd); got != 10 {
		t.Errorf("signal end 0: got %d, want 10", got)
	}
	if got := e.PartitionBoundary(1, LabelHandshakeStart); got != 15 {
		t.Errorf("handshake start 1: got %d, want 15", got)
	}
	if got := e.PartitionBoundary(1, LabelHandshakeEnd); got != 16 {
		t.Errorf("handshake end 1: got %d, want 16", got)
	}
	if snap.Cutovers != 1 {
		t.Errorf("cutovers: got %d, want 1", snap.Cutovers)
	}
	if snap.PreviousPartition != 2 {
		t.Errorf("previous partition: got %d, want 2", snap.PreviousPartition)
	}
	if snap.OutputCursor != 0 {
		t.Errorf("cursor after cutover: got %d, want 0", snap.OutputCursor)
	}

	// The sender now plays its second frame from the start.
	got := out.Pull(3)
	for j, v := range got {
		if want := int16(100 + j); v != want {
			t.Fatalf("second frame sample %d: got %d, want %d", j, v, want)
		}
	}
}

func TestEngine_BoundariesStayInRange(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	e := startEngine(t, baseConfig(Sender, 1000, counting(20, 1)), dev)

	dev.Output().Pull(4)
	samples := []int16{0}
	for range MaxPartitions + 5 {
		samples = append(samples, cycle(0, 5)...)
	}
	dev.Input().Feed(samples)

	if got := e.Snapshot().Partition; got != MaxPartitions {
		t.Fatalf("partition: got %d, want %d", got, MaxPartitions)
	}
	// The 32nd partition closes at sample 32×10.
	if got := e.PartitionBoundary(MaxPartitions-1, LabelSignalEnd); got != MaxPartitions*10 {
		t.Errorf("last signal end: got %d, want %d", got, MaxPartitions*10)
	}
	if got := len(e.Boundaries()); got != MaxPartitions {
		t.Errorf("boundaries: got %d, want %d", got, MaxPartitions)
	}

	tests := []struct {
		name  string
		p     int
		label Label
	}{
		{"negative partition", -1, LabelHandshakeStart},
		{"partition at max", MaxPartitions, LabelSignalEnd},
		{"unknown label", 0, Label(7)},
	}
	for _, tt := range tests {
		if got := e.PartitionBoundary(tt.p, tt.label); got != -1 {
			t.Errorf("%s: got %d, want -1", tt.name, got)
		}
	}
}

// constant returns n samples of v.
func constant(v int16, n int) frame.Frame {
	f := make(frame.Frame, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestEngine_ReceiverPlaysEveryFrame(t *testing.T) {
	t.Parallel()

	frames := make([]frame.Frame, MaxFrames)
	for i := range frames {
		frames[i] = constant(int16(1000+i), 20)
	}
	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	cfg := baseConfig(Receiver, 1000, frames...)
	cfg.TimeoutToFinish = true
	e := startEngine(t, cfg, dev)

	out, in := dev.Output(), dev.Input()
	out.Pull(4)

	// The first cycle only establishes the baseline; every later one closes
	// a partition, so 33 cycles reach the partition limit.
	played := make(map[int16]bool)
	for range 40 {
		in.Feed(cycle(0, 5))
		for _, v := range out.Pull(20) {
			if v != 0 {
				played[v] = true
			}
		}
	}

	if got := e.Snapshot().Partition; got != MaxPartitions {
		t.Fatalf("partition: got %d, want %d", got, MaxPartitions)
	}
	for i := range frames {
		if !played[int16(1000+i)] {
			t.Errorf("frame %d was never played", i)
		}
	}
	if got := e.Status(); got != Finished {
		t.Errorf("status: got %v, want %v", got, Finished)
	}
}

// openTurn returns a falling handshake from level followed by a payload that
// never produces an end marker. It ends at level-40.
func openTurn(level int16) []int16 {
	s := ramp(level, -10, 5)
	top := s[len(s)-1] + 10
	s = append(s, top)
	return append(s, toggles(top, 30)...)
}

func TestEngine_ReceiverCutoverStopsAtLastTurn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		frames       int
		wantCutovers int64
		wantPrevious int
	}{
		// Partition 2 is the peer's last turn when only one frame is left to
		// answer, so the receiver waits for its end marker.
		{"one frame", 1, 1, 1},
		{"two frames", 2, 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var frames []frame.Frame
			for i := range tt.frames {
				frames = append(frames, counting(50, int16(100*i+1)))
			}
			dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
			cfg := baseConfig(Receiver, 1000, frames...)
			cfg.ExpectedRTTMillis = 4
			cfg.ExpectedMessageMillis = 10
			e := startEngine(t, cfg, dev)

			out, in := dev.Output(), dev.Input()
			out.Pull(4)

			// The sender's turn in partition 0 runs long: the receiver cuts
			// over and takes partition 1.
			in.Feed(append([]int16{0}, openTurn(0)...))
			snap := e.Snapshot()
			if snap.Partition != 0 || snap.State != "processing" {
				t.Fatalf("machine: got partition %d state %q, want 0 processing", snap.Partition, snap.State)
			}
			if snap.Cutovers != 1 || snap.PreviousPartition != 1 {
				t.Fatalf("after partition 0: got cutovers %d previous %d, want 1 and 1", snap.Cutovers, snap.PreviousPartition)
			}

			// Partition 0 ends, the receiver's own odd turn never cuts over,
			// then the sender's partition 2 runs long as well.
			samples := ramp(-40, 10, 5)
			samples = append(samples, openTurn(10)...)
			samples = append(samples, ramp(-30, 10, 5)...)
			samples = append(samples, openTurn(20)...)
			in.Feed(samples)

			snap = e.Snapshot()
			if snap.Partition != 2 || snap.State != "processing" {
				t.Fatalf("machine: got partition %d state %q, want 2 processing", snap.Partition, snap.State)
			}
			if snap.Cutovers != tt.wantCutovers {
				t.Errorf("cutovers: got %d, want %d", snap.Cutovers, tt.wantCutovers)
			}
			if snap.PreviousPartition != tt.wantPrevious {
				t.Errorf("previous partition: got %d, want %d", snap.PreviousPartition, tt.wantPrevious)
			}
		})
	}
}

func TestEngine_RecordedSignalIsACopy(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	e := startEngine(t, baseConfig(Sender, 1000, counting(20, 1)), dev)

	dev.Output().Pull(4)
	first := ramp(0, 1, 8)
	dev.Input().Feed(first)

	got := e.RecordedSignal()
	got[0] = -1
	dev.Input().Feed(ramp(8, 1, 8))

	if len(got) != len(first) {
		t.Fatalf("earlier copy grew to %d samples", len(got))
	}
	all := e.RecordedSignal()
	if len(all) != 16 {
		t.Fatalf("recorded: got %d samples, want 16", len(all))
	}
	for i, v := range all {
		if want := int16(i + 1); v != want {
			t.Fatalf("sample %d: got %d, want %d", i, v, want)
		}
	}
}

func TestEngine_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	dev := &mock.Device{InputRate: 1000, OutputRate: 1000}
	e := startEngine(t, baseConfig(Sender, 1000, counting(20, 1)), dev, WithClock(clock))

	out, in := dev.Output(), dev.Input()
	out.Pull(4)
	in.Feed([]int16{0})

	now = now.Add(100 * time.Millisecond)
	out.Pull(4)

	now = now.Add(30 * time.Millisecond)
	in.Feed(ramp(0, -10, 5))

	if got := e.RoundTripMillis(); got != 30 {
		t.Errorf("RoundTripMillis: got %d, want 30", got)
	}
	if got := e.Snapshot().RoundTripMillis; got != 30 {
		t.Errorf("snapshot round trip: got %d, want 30", got)
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestEngine_StartFailuresLeaveEngineInert(t *testing.T) {
	t.Parallel()

	errOpen := errors.New("no device")
	tests := []struct {
		name    string
		dev     *mock.Device
		cfg     func(*Config)
		wantErr error
	}{
		{"open output", &mock.Device{OpenOutputError: errOpen}, nil, errOpen},
		{"stereo output", &mock.Device{OutputChannels: 2}, nil, ErrChannelCount},
		{"start output", &mock.Device{OutputStartError: errOpen}, nil, errOpen},
		{"open input", &mock.Device{OpenInputError: errOpen}, nil, errOpen},
		{"stereo input", &mock.Device{InputChannels: 2}, nil, ErrChannelCount},
		{"no frames", &mock.Device{}, func(c *Config) { c.Frames = nil }, ErrInvalidConfig},
		{"zero threshold", &mock.Device{}, func(c *Config) { c.StartThreshold = 0 }, ErrInvalidConfig},
		{"frames past the partition limit", &mock.Device{}, func(c *Config) {
			c.Frames = nil
			for i := range MaxFrames + 1 {
				c.Frames = append(c.Frames, counting(20, int16(100*i)))
			}
		}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(Sender, mock.DefaultSampleRate, counting(20, 1))
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			e := New(cfg, tt.dev, WithLogger(quietLogger()))
			err := e.Start(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start: got %v, want %v", err, tt.wantErr)
			}
			if e.Running() {
				t.Error("Running after failed Start: got true")
			}
			if out := tt.dev.Output(); out != nil {
				if got := out.Pull(8); got != nil {
					assertSilent(t, "pull after failed start", got)
				}
			}
			if in := tt.dev.Input(); in != nil {
				in.Feed(ramp(0, -10, 20))
			}
			if got := e.Status(); got != PendingSignal {
				t.Errorf("status: got %v, want %v", got, PendingSignal)
			}
			if got := len(e.RecordedSignal()); got != 0 {
				t.Errorf("recorded: got %d, want 0", got)
			}

			e.Stop()
			for name, s := range map[string]*mock.Stream{"input": tt.dev.Input(), "output": tt.dev.Output()} {
				if s != nil && !s.Closed() {
					t.Errorf("%s stream not closed by Stop", name)
				}
			}
		})
	}
}

func TestEngine_StartTwice(t *testing.T) {
	t.Parallel()

	e := startEngine(t, baseConfig(Sender, 1000, counting(20, 1)), &mock.Device{})
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: got %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestEngine_StartCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := &mock.Device{}
	e := New(baseConfig(Sender, 1000, counting(20, 1)), dev, WithLogger(quietLogger()))
	if err := e.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start: got %v, want %v", err, context.Canceled)
	}
	if dev.CallCountOpenOutput != 0 {
		t.Errorf("OpenOutput calls: got %d, want 0", dev.CallCountOpenOutput)
	}
}

func TestEngine_Stop(t *testing.T) {
	t.Parallel()

	t.Run("nil engine", func(t *testing.T) {
		t.Parallel()
		var e *Engine
		e.Stop()
	})

	t.Run("before start", func(t *testing.T) {
		t.Parallel()
		e := New(baseConfig(Sender, 1000, counting(20, 1)), &mock.Device{}, WithLogger(quietLogger()))
		e.Stop()
		e.Stop()
	})

	t.Run("repeated with stop errors", func(t *testing.T) {
		t.Parallel()
		dev := &mock.Device{InputStopError: errors.New("stuck")}
		e := startEngine(t, baseConfig(Sender, 1000, counting(20, 1)), dev)
		e.Stop()
		e.Stop()

		if e.Running() {
			t.Error("Running after Stop: got true")
		}
		for name, s := range map[string]*mock.Stream{"input": dev.Input(), "output": dev.Output()} {
			if s.CallCountStop != 1 {
				t.Errorf("%s stop calls: got %d, want 1", name, s.CallCountStop)
			}
			if s.CallCountClose != 1 {
				t.Errorf("%s close calls: got %d, want 1", name, s.CallCountClose)
			}
		}
	})
}

func TestEngine_RequestsMonoLowLatency(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{FramesPerBurst: 96}
	cfg := baseConfig(Sender, 1000, counting(20, 1))
	cfg.FramesPerBuffer = 96
	startEngine(t, cfg, dev)

	if len(dev.Specs) != 2 {
		t.Fatalf("opened streams: got %d, want 2", len(dev.Specs))
	}
	for i, s := range dev.Specs {
		if s.Channels != 1 || s.FramesPerBuffer != 96 {
			t.Errorf("spec %d: got %v, want mono with 96 frames", i, s)
		}
	}
	if got := dev.Output().BufferSize; got != 96 {
		t.Errorf("output buffer size: got %d, want 96", got)
	}
}

// ─── Pure functions ──────────────────────────────────────────────────────────

func TestCutoverMargin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		rate, rtt, ms int
		want          int64
	}{
		{"typical", 48000, 30, 500, 23280},
		{"message shorter than rtt uses floor", 48000, 30, 20, 60},
		{"long rtt", 48000, 300, 160, 480},
		{"no rtt", 48000, 0, 500, 0},
		{"no message", 48000, 30, 0, 0},
	}
	for _, tt := range tests {
		if got := cutoverMargin(tt.rate, tt.rtt, tt.ms); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"sender", Sender, false},
		{"SEND", Sender, false},
		{"receiver", Receiver, false},
		{"reply", Receiver, false},
		{"both", Receiver, true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error: got %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	tests := map[Status]string{
		PendingSignal:    "pending",
		ProcessingSignal: "processing",
		Finished:         "finished",
		Status(9):        "status(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String: got %q, want %q", int32(s), got, want)
		}
	}
}
