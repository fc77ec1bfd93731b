package channel

import (
	"math"
	"testing"
	"time"
)

func TestAssessor_EmptyHistoryIsClear(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	st := a.Assess()
	if !st.Clear {
		t.Error("empty history should assess clear")
	}
	if st.Confident {
		t.Error("empty history should not be confident")
	}
	if st.Samples != 0 {
		t.Errorf("samples = %d, want 0", st.Samples)
	}
}

func TestAssessor_QuietChannel(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	now := time.Now()
	for i := 0; i < 32; i++ {
		a.Record(-95+float64(i%3), now.Add(time.Duration(i)*time.Millisecond))
	}

	st := a.Assess()
	if !st.Clear {
		t.Errorf("quiet channel assessed busy: smoothed=%.1f floor=%.1f", st.Smoothed, st.NoiseFloor)
	}
	if !st.Confident {
		t.Error("32 samples should be confident")
	}
	if st.NoiseFloor > -90 || st.NoiseFloor < -96 {
		t.Errorf("noise floor = %.1f, want near -95", st.NoiseFloor)
	}
}

func TestAssessor_BusyChannel(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	now := time.Now()
	// Establish a quiet floor, then a sustained interferer.
	for i := 0; i < 40; i++ {
		a.Record(-95, now)
	}
	for i := 0; i < 10; i++ {
		a.Record(-60, now)
	}

	st := a.Assess()
	if st.Clear {
		t.Errorf("sustained -60 dBm over -95 floor should be busy: smoothed=%.1f floor=%.1f",
			st.Smoothed, st.NoiseFloor)
	}
	if !st.Confident {
		t.Error("full window should be confident")
	}
}

func TestAssessor_SingleSpikeIsSmoothedOut(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	now := time.Now()
	for i := 0; i < 40; i++ {
		a.Record(-95, now)
	}
	// One transient spike must not flip the assessment.
	a.Record(-50, now)
	a.Record(-95, now)
	a.Record(-95, now)
	a.Record(-95, now)

	st := a.Assess()
	if !st.Clear {
		t.Errorf("single spike should be absorbed by the EMA: smoothed=%.1f floor=%.1f",
			st.Smoothed, st.NoiseFloor)
	}
}

func TestAssessor_EMASmoothing(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	now := time.Now()
	a.Record(-100, now)
	a.Record(-80, now)

	// (4*-100 + -80) / 5 = -96
	st := a.Assess()
	if math.Abs(st.Smoothed-(-96)) > 1e-9 {
		t.Errorf("smoothed = %v, want -96", st.Smoothed)
	}
}

func TestAssessor_RingEviction(t *testing.T) {
	a := NewAssessor(Config{WindowSize: 8})
	now := time.Now()
	// Fill with loud samples, then overwrite the whole window with quiet
	// ones. The floor must track only the surviving window.
	for i := 0; i < 8; i++ {
		a.Record(-40, now)
	}
	for i := 0; i < 16; i++ {
		a.Record(-95, now)
	}

	st := a.Assess()
	if st.Samples != 8 {
		t.Errorf("samples = %d, want 8", st.Samples)
	}
	if st.NoiseFloor > -90 {
		t.Errorf("noise floor = %.1f, want quiet floor after eviction", st.NoiseFloor)
	}
	if !st.Clear {
		t.Error("channel should be clear after loud samples age out")
	}
}

func TestAssessor_Reset(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	now := time.Now()
	for i := 0; i < 50; i++ {
		a.Record(-60, now)
	}
	a.Reset()

	st := a.Assess()
	if !st.Clear || st.Confident || st.Samples != 0 {
		t.Errorf("state after reset = %+v, want empty clear state", st)
	}
}
