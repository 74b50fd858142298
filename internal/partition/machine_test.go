package partition_test

import (
	"math/rand/v2"
	"testing"

	"github.com/digibattleapp/Digi-Battle/internal/partition"
)

// ramp returns n samples continuing from start, each step apart.
func ramp(start int16, step int16, n int) []int16 {
	out := make([]int16, n)
	v := start
	for i := range out {
		v += step
		out[i] = v
	}
	return out
}

// cycle returns one full Pending→Handshake→Processing→Pending cycle for a
// machine with threshold 10 and change threshold runLen, starting at level.
func cycle(level int16, runLen int) []int16 {
	down := ramp(level, -10, runLen)
	up := ramp(down[len(down)-1], 10, runLen)
	return append(down, up...)
}

func TestDetector_BaselineIsHigh(t *testing.T) {
	t.Parallel()
	d := partition.NewDetector(10)
	level, first := d.Step(-20000)
	if !first {
		t.Fatal("first Step: want first=true")
	}
	if !level {
		t.Error("baseline level: got low, want high")
	}
	if h, l := d.Runs(); h != 0 || l != 0 {
		t.Errorf("runs after baseline: got (%d, %d), want (0, 0)", h, l)
	}
}

func TestDetector_Hysteresis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
		want    bool
		high    int
		low     int
	}{
		{"exact positive threshold flips high", []int16{0, -10, 0}, true, 1, 0},
		{"exact negative threshold flips low", []int16{0, -10}, false, 0, 1},
		{"small delta keeps low", []int16{0, -10, -1, 5}, false, 0, 3},
		{"small delta keeps high", []int16{0, 9, 18, 27}, true, 3, 0},
		{"alternating", []int16{0, -10, 0, -10}, false, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := partition.NewDetector(10)
			var level bool
			for _, s := range tt.samples {
				level, _ = d.Step(s)
			}
			if level != tt.want {
				t.Errorf("level: got %v, want %v", level, tt.want)
			}
			if h, l := d.Runs(); h != tt.high || l != tt.low {
				t.Errorf("runs: got (%d, %d), want (%d, %d)", h, l, tt.high, tt.low)
			}
		})
	}
}

func TestMachine_HandshakeAfterLowRun(t *testing.T) {
	t.Parallel()
	m := partition.NewMachine(10, 50)

	samples := []int16{0}
	samples = append(samples, ramp(0, 10, 40)...)
	samples = append(samples, ramp(400, -10, 60)...)

	var transitions []int
	for i, s := range samples {
		if m.Update(s) {
			transitions = append(transitions, i)
		}
	}
	if len(transitions) != 1 || transitions[0] != 90 {
		t.Fatalf("transitions: got %v, want [90]", transitions)
	}
	if m.State() != partition.Handshake {
		t.Errorf("state: got %v, want %v", m.State(), partition.Handshake)
	}
	if m.Partition() != 0 {
		t.Errorf("partition: got %d, want 0", m.Partition())
	}
}

func TestMachine_OneIncrementPerCycle(t *testing.T) {
	t.Parallel()
	const runLen = 5
	m := partition.NewMachine(10, runLen)
	m.Update(0)

	want := []partition.State{partition.Handshake, partition.Processing, partition.Pending}
	for c := 1; c <= 3; c++ {
		var got []partition.State
		for _, s := range cycle(0, runLen) {
			if m.Update(s) {
				got = append(got, m.State())
			}
		}
		if len(got) != len(want) {
			t.Fatalf("cycle %d: transitions %v, want %v", c, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("cycle %d: transition %d got %v, want %v", c, i, got[i], want[i])
			}
		}
		if m.Partition() != c {
			t.Fatalf("cycle %d: partition got %d, want %d", c, m.Partition(), c)
		}
	}
}

func TestMachine_PartitionSaturates(t *testing.T) {
	t.Parallel()
	const runLen = 5
	m := partition.NewMachine(10, runLen)
	m.Update(0)
	for range partition.MaxPartitions + 8 {
		for _, s := range cycle(0, runLen) {
			m.Update(s)
		}
	}
	if m.Partition() != partition.MaxPartitions {
		t.Errorf("partition: got %d, want %d", m.Partition(), partition.MaxPartitions)
	}
}

func TestMachine_HandoffRunLimitOverride(t *testing.T) {
	t.Parallel()
	// The first rising sample after a handshake has a high run of 1.
	m := partition.NewMachine(10, 5, partition.WithHandoffRunLimit(1))
	m.Update(0)
	for _, s := range ramp(0, -10, 5) {
		m.Update(s)
	}
	if m.State() != partition.Handshake {
		t.Fatalf("state: got %v, want handshake", m.State())
	}
	if !m.Update(-40) {
		t.Fatal("expected handoff on first rising sample")
	}
	if m.State() != partition.Processing {
		t.Errorf("state: got %v, want processing", m.State())
	}
}

func TestMachine_RandomInputIsMonotonicAndBounded(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 11))
	m := partition.NewMachine(10, 4)

	prev := 0
	for range 200_000 {
		m.Update(int16(rng.IntN(120) - 60))
		p := m.Partition()
		if p < prev {
			t.Fatalf("partition decreased: %d -> %d", prev, p)
		}
		if p > partition.MaxPartitions {
			t.Fatalf("partition %d exceeds max %d", p, partition.MaxPartitions)
		}
		prev = p
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[partition.State]string{
		partition.Pending:    "pending",
		partition.Handshake:  "handshake",
		partition.Processing: "processing",
		partition.State(9):   "state(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String(): got %q, want %q", int(s), got, want)
		}
	}
}
