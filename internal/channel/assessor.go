// Package channel maintains per-module energy-detection history and makes
// the clear-channel-assessment (CCA) decision gating every transmission.
package channel

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Sample is a single energy-detection reading. Immutable once captured.
type Sample struct {
	EDV  float64 // dBm
	Time time.Time
}

// Config holds the assessor thresholds.
type Config struct {
	// WindowSize is the fixed capacity of the sample ring.
	WindowSize int
	// ThresholdDB is how far above the rolling noise floor the smoothed
	// energy must rise before the channel is classified busy.
	ThresholdDB float64
	// NoiseQuantile selects the quantile of the history window used as
	// the noise-floor estimate.
	NoiseQuantile float64
	// MinSamples is how much history is needed before the assessment is
	// flagged confident.
	MinSamples int
}

// DefaultConfig mirrors the transceiver defaults: a 64-sample window and a
// 10 dB busy margin over the 10th-percentile noise floor.
func DefaultConfig() Config {
	return Config{
		WindowSize:    64,
		ThresholdDB:   10,
		NoiseQuantile: 0.10,
		MinSamples:    4,
	}
}

// State is the derived channel occupancy classification. It has no
// identity beyond "current state"; a new one is computed per assessment.
type State struct {
	Clear      bool
	Confident  bool
	NoiseFloor float64 // dBm
	Smoothed   float64 // dBm, EMA of recent energy
	Samples    int
}

// Assessor owns one module's bounded sample history. Fixed-capacity ring:
// the oldest sample is evicted past capacity, and the hot sampling path
// never allocates. Not safe for concurrent use; owned by the module's
// session.
type Assessor struct {
	cfg  Config
	ring []Sample
	head int
	n    int

	smoothed    float64
	hasSmoothed bool

	scratch []float64
}

// NewAssessor creates an assessor with the given thresholds. Zero config
// fields fall back to defaults.
func NewAssessor(cfg Config) *Assessor {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.ThresholdDB <= 0 {
		cfg.ThresholdDB = def.ThresholdDB
	}
	if cfg.NoiseQuantile <= 0 || cfg.NoiseQuantile >= 1 {
		cfg.NoiseQuantile = def.NoiseQuantile
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	return &Assessor{
		cfg:     cfg,
		ring:    make([]Sample, cfg.WindowSize),
		scratch: make([]float64, 0, cfg.WindowSize),
	}
}

// Record appends one energy-detection reading to the history and updates
// the exponential moving average (alpha 0.2).
func (a *Assessor) Record(edv float64, now time.Time) Sample {
	s := Sample{EDV: edv, Time: now}
	a.ring[a.head] = s
	a.head = (a.head + 1) % len(a.ring)
	if a.n < len(a.ring) {
		a.n++
	}

	if !a.hasSmoothed {
		a.smoothed = edv
		a.hasSmoothed = true
	} else {
		a.smoothed = (4*a.smoothed + edv) / 5
	}
	return s
}

// Assess classifies the channel. With zero history the channel is
// reported clear but not confident: without samples we cannot assert
// busy.
func (a *Assessor) Assess() State {
	if a.n == 0 {
		return State{Clear: true, Confident: false, NoiseFloor: -127, Smoothed: -127}
	}

	a.scratch = a.scratch[:0]
	for i := 0; i < a.n; i++ {
		a.scratch = append(a.scratch, a.ring[i].EDV)
	}
	sort.Float64s(a.scratch)
	floor := stat.Quantile(a.cfg.NoiseQuantile, stat.Empirical, a.scratch, nil)

	return State{
		Clear:      a.smoothed <= floor+a.cfg.ThresholdDB,
		Confident:  a.n >= a.cfg.MinSamples,
		NoiseFloor: floor,
		Smoothed:   a.smoothed,
		Samples:    a.n,
	}
}

// Margin reports how far the smoothed energy sits above the noise floor,
// in dB. Used to scale the CCA backoff.
func (a *Assessor) Margin() float64 {
	st := a.Assess()
	return st.Smoothed - st.NoiseFloor
}

// ThresholdDB returns the busy margin the assessor classifies against.
func (a *Assessor) ThresholdDB() float64 {
	return a.cfg.ThresholdDB
}

// Reset discards the history, e.g. after retuning to a new channel.
func (a *Assessor) Reset() {
	a.head = 0
	a.n = 0
	a.hasSmoothed = false
}
