// Package partition turns a raw PCM16 stream into a coarse binary envelope and
// segments it into alternating partitions, one per turn of the exchange.
//
// A [Detector] applies hysteresis to the sample-to-sample delta and tracks how
// long the envelope has stayed high or low. A [Machine] feeds those run
// lengths through a three-state cycle (Pending, Handshake, Processing) and
// counts completed partitions.
//
// Neither type allocates or blocks; both are meant to be driven from an audio
// input callback by a single goroutine.
package partition

// Detector is a hysteresis envelope detector over PCM16 samples. The zero
// value is not usable; construct with [NewDetector].
type Detector struct {
	threshold int

	started bool
	prev    int16
	level   bool

	highRun int
	lowRun  int
}

// NewDetector returns a Detector that flips its level only when two
// consecutive samples differ by at least threshold.
func NewDetector(threshold int) *Detector {
	return &Detector{threshold: threshold}
}

// Step consumes one sample and returns the resulting binary level and whether
// this was the first sample seen. The first sample only establishes the
// baseline: the level is assumed high and no run is counted.
func (d *Detector) Step(sample int16) (level, first bool) {
	if !d.started {
		d.started = true
		d.prev = sample
		d.level = true
		return d.level, true
	}

	delta := int(sample) - int(d.prev)
	switch {
	case delta >= d.threshold:
		d.level = true
	case delta <= -d.threshold:
		d.level = false
	}

	if d.level {
		d.highRun++
		d.lowRun = 0
	} else {
		d.lowRun++
		d.highRun = 0
	}
	d.prev = sample
	return d.level, false
}

// Level reports the current binary level.
func (d *Detector) Level() bool { return d.level }

// Runs reports the number of consecutive samples spent at the current high
// and low levels. One of the two is always zero once a sample past the
// baseline has been seen.
func (d *Detector) Runs() (high, low int) { return d.highRun, d.lowRun }
