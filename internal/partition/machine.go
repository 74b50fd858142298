package partition

import "fmt"

// MaxPartitions is the number of partitions a single exchange can track.
// The partition counter saturates at this value.
const MaxPartitions = 32

// DefaultHandoffRunLimit is the longest high or low run still considered part
// of a modulated payload. A Handshake becomes Processing as soon as both runs
// are at or below this limit.
const DefaultHandoffRunLimit = 3

// State is the phase of the current partition.
type State int

const (
	// Pending waits for a sustained low run that marks a handshake.
	Pending State = iota

	// Handshake is inside the sustained low tone that precedes a payload.
	Handshake

	// Processing is inside the modulated payload.
	Processing
)

// String returns the lowercase name of s.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Handshake:
		return "handshake"
	case Processing:
		return "processing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Machine is the partition state machine. It is not safe for concurrent use;
// callers that publish its state across goroutines must copy it out.
type Machine struct {
	det *Detector

	changeThreshold int
	handoffRunLimit int
	maxPartitions   int

	state     State
	partition int
}

// Option configures a [Machine].
type Option func(*Machine)

// WithHandoffRunLimit overrides [DefaultHandoffRunLimit]. Non-positive values
// are ignored.
func WithHandoffRunLimit(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.handoffRunLimit = n
		}
	}
}

// WithMaxPartitions lowers the saturation point of the partition counter.
// Values outside (0, MaxPartitions] are ignored.
func WithMaxPartitions(n int) Option {
	return func(m *Machine) {
		if n > 0 && n <= MaxPartitions {
			m.maxPartitions = n
		}
	}
}

// NewMachine creates a Machine with the given hysteresis threshold and the
// run length that opens a handshake or closes a payload.
func NewMachine(threshold, changeThreshold int, opts ...Option) *Machine {
	m := &Machine{
		det:             NewDetector(threshold),
		changeThreshold: changeThreshold,
		handoffRunLimit: DefaultHandoffRunLimit,
		maxPartitions:   MaxPartitions,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Update feeds one sample and reports whether the state changed. At most one
// transition happens per sample.
func (m *Machine) Update(sample int16) bool {
	if _, first := m.det.Step(sample); first {
		return false
	}
	high, low := m.det.Runs()

	switch m.state {
	case Pending:
		if low >= m.changeThreshold {
			m.state = Handshake
			return true
		}
	case Handshake:
		if low <= m.handoffRunLimit && high <= m.handoffRunLimit {
			m.state = Processing
			return true
		}
	case Processing:
		if low >= m.changeThreshold || high >= m.changeThreshold {
			m.state = Pending
			if m.partition < m.maxPartitions {
				m.partition++
			}
			return true
		}
	}
	return false
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Partition returns the number of completed partitions. It never decreases
// and never exceeds the configured maximum.
func (m *Machine) Partition() int { return m.partition }

// Level returns the current envelope level.
func (m *Machine) Level() bool { return m.det.Level() }
