package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/digibattleapp/Digi-Battle/internal/frame"
	"github.com/digibattleapp/Digi-Battle/internal/partition"
)

// MaxPartitions is the number of partitions whose boundaries are recorded.
const MaxPartitions = partition.MaxPartitions

// MaxFrames is the most frames one session can play. Every frame takes two
// partitions, one per side, and the partition counter saturates at
// [MaxPartitions].
const MaxFrames = MaxPartitions / 2

// DefaultFinishTimeoutFactor is how many resampled handshake lengths the
// output cursor may run past the last frame before a timeout-finishing
// session is declared Finished.
const DefaultFinishTimeoutFactor = 4

var (
	// ErrChannelCount is returned by [Engine.Start] when a stream negotiates
	// something other than mono.
	ErrChannelCount = errors.New("engine: stream is not mono")

	// ErrAlreadyStarted is returned by a second call to [Engine.Start].
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrInvalidConfig wraps every [Config.Validate] failure.
	ErrInvalidConfig = errors.New("engine: invalid config")
)

// Role selects which side of the exchange this engine plays.
type Role int

const (
	// Receiver waits for the peer's first frame and replies on odd
	// partitions.
	Receiver Role = iota

	// Sender transmits first and owns even partitions.
	Sender
)

// String returns "sender" or "receiver".
func (r Role) String() string {
	if r == Sender {
		return "sender"
	}
	return "receiver"
}

// ParseRole parses "sender" or "receiver", case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "sender", "send":
		return Sender, nil
	case "receiver", "reply", "wait":
		return Receiver, nil
	}
	return Receiver, fmt.Errorf("engine: unknown role %q", s)
}

// Transmits reports whether r plays during partition p.
func (r Role) Transmits(p int) bool {
	if r == Sender {
		return p%2 == 0
	}
	return p%2 == 1
}

// Status is the overall protocol status of a session.
type Status int32

const (
	// PendingSignal waits for the first meaningful input.
	PendingSignal Status = iota

	// ProcessingSignal is exchanging partitions.
	ProcessingSignal

	// Finished is terminal.
	Finished
)

// String returns the lowercase name of s.
func (s Status) String() string {
	switch s {
	case PendingSignal:
		return "pending"
	case ProcessingSignal:
		return "processing"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Label names one of the three boundaries recorded per partition.
type Label int

const (
	// LabelHandshakeStart is the input index where the handshake tone began.
	LabelHandshakeStart Label = iota

	// LabelHandshakeEnd is the input index where the payload began.
	LabelHandshakeEnd

	// LabelSignalEnd is the input index where the payload ended.
	LabelSignalEnd
)

// String returns the snake_case name of l.
func (l Label) String() string {
	switch l {
	case LabelHandshakeStart:
		return "handshake_start"
	case LabelHandshakeEnd:
		return "handshake_end"
	case LabelSignalEnd:
		return "signal_end"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

// Config is fixed for the lifetime of an [Engine].
type Config struct {
	// Role selects sender or receiver behaviour.
	Role Role

	// Frames are the authored output frames, one per turn this side plays.
	// They are copied by [New].
	Frames []frame.Frame

	// FrameRate is the sample rate Frames were authored at.
	FrameRate int

	// StartThreshold is the hysteresis threshold of the envelope detector.
	StartThreshold int

	// HandshakeLength is the handshake length in samples at FrameRate.
	HandshakeLength int

	// PartitionChangeThreshold is the run length, at FrameRate, that opens a
	// handshake or closes a payload.
	PartitionChangeThreshold int

	// TimeoutToFinish marks the session Finished once the output has been
	// idle past the last frame for FinishTimeoutFactor handshake lengths.
	TimeoutToFinish bool

	// ExpectedRTTMillis and ExpectedMessageMillis size the early cutover
	// margin. Either being zero disables early cutover.
	ExpectedRTTMillis     int
	ExpectedMessageMillis int

	// HandoffRunLimit overrides [partition.DefaultHandoffRunLimit] when
	// positive.
	HandoffRunLimit int

	// FinishTimeoutFactor overrides [DefaultFinishTimeoutFactor] when
	// positive.
	FinishTimeoutFactor int

	// FramesPerBuffer is the callback size requested from the device. Zero
	// lets the device choose.
	FramesPerBuffer int
}

// Validate checks the fields that would make a session meaningless. Sample
// rates are not checked here: an unusable rate leaves the output silent
// instead of failing the session.
func (c Config) Validate() error {
	var errs []error
	if len(c.Frames) == 0 {
		errs = append(errs, errors.New("at least one frame is required"))
	}
	if len(c.Frames) > MaxFrames {
		errs = append(errs, fmt.Errorf("%d frames exceed the maximum of %d", len(c.Frames), MaxFrames))
	}
	if c.StartThreshold <= 0 {
		errs = append(errs, fmt.Errorf("start threshold %d must be positive", c.StartThreshold))
	}
	if c.PartitionChangeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("partition change threshold %d must be positive", c.PartitionChangeThreshold))
	}
	if c.HandshakeLength < 0 {
		errs = append(errs, fmt.Errorf("handshake length %d must not be negative", c.HandshakeLength))
	}
	if c.ExpectedRTTMillis < 0 || c.ExpectedMessageMillis < 0 {
		errs = append(errs, errors.New("expected rtt and message length must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Boundary holds the recorded input indices of one partition. Zero means
// the transition has not been observed.
type Boundary struct {
	Partition      int `json:"partition"`
	HandshakeStart int `json:"handshake_start"`
	HandshakeEnd   int `json:"handshake_end"`
	SignalEnd      int `json:"signal_end"`
}

// Snapshot is a point-in-time view of a running engine for diagnostics.
// Fields written by the audio callbacks may be one buffer apart.
type Snapshot struct {
	Role              string     `json:"role"`
	Status            string     `json:"status"`
	Running           bool       `json:"running"`
	State             string     `json:"state"`
	Partition         int        `json:"partition"`
	PreviousPartition int        `json:"previous_partition"`
	InputIndex        int64      `json:"input_index"`
	OutputCursor      int64      `json:"output_cursor"`
	InputRate         int        `json:"input_rate"`
	OutputRate        int        `json:"output_rate"`
	FrameLengths      []int      `json:"frame_lengths"`
	CutoverMargin     int        `json:"cutover_margin"`
	Cutovers          int64      `json:"cutovers"`
	RoundTripMillis   int64      `json:"round_trip_ms"`
	Recorded          int        `json:"recorded"`
	Boundaries        []Boundary `json:"boundaries"`
}
