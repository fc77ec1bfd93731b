package session

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeongseonghan/radiolink/internal/channel"
	"github.com/jeongseonghan/radiolink/internal/fec"
	"github.com/jeongseonghan/radiolink/internal/frame"
	"github.com/jeongseonghan/radiolink/internal/link"
	"github.com/jeongseonghan/radiolink/internal/metrics"
	"github.com/jeongseonghan/radiolink/internal/radio"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func newTestSession(t *testing.T, cfg Config, hal radio.Radio) *Session {
	t.Helper()
	met := metrics.New(prometheus.NewRegistry())
	s, err := New(frame.ModuleA, cfg, hal, met, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func quietSim(opts ...radio.SimOption) *radio.Sim {
	return radio.NewSim(append([]radio.SimOption{
		radio.WithSeed(1), radio.WithJitter(0), radio.WithAmbientEDV(-95),
	}, opts...)...)
}

func TestSession_SubmitBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueLimit = 2
	s := newTestSession(t, cfg, quietSim())
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, err := s.Submit([]byte("x"), now); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if _, err := s.Submit([]byte("x"), now); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestSession_SubmitOversizePayload(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), quietSim())
	big := make([]byte, frame.MaxPayloadSize+1)
	if _, err := s.Submit(big, time.Now()); !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSession_TransmitStepClearChannel(t *testing.T) {
	sim := quietSim()
	s := newTestSession(t, DefaultConfig(), sim)
	now := time.Now()

	id, err := s.Submit([]byte("hello radio"), now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := s.TransmitStep(now)
	if err != nil {
		t.Fatalf("TransmitStep: %v", err)
	}
	if !res.Sent || res.ID != id {
		t.Errorf("result = %+v, want sent id %s", res, id)
	}
	if st := s.Status(); st.QueueDepth != 0 {
		t.Errorf("queue depth = %d, want 0 after send", st.QueueDepth)
	}

	// Empty queue: a step is a no-op.
	res, err = s.TransmitStep(now)
	if err != nil || res.Sent || res.Busy {
		t.Errorf("idle step = %+v, %v, want no-op", res, err)
	}
}

func TestSession_TransmitStepBusyChannel(t *testing.T) {
	sim := quietSim()
	s := newTestSession(t, DefaultConfig(), sim)
	now := time.Now()

	// Establish a quiet noise floor with real traffic.
	for i := 0; i < 12; i++ {
		if _, err := s.Submit([]byte("warm"), now); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if res, err := s.TransmitStep(now); err != nil || !res.Sent {
			t.Fatalf("warm-up step %d: %+v, %v", i, res, err)
		}
		now = now.Add(10 * time.Millisecond)
	}

	sim.SetAmbientEDV(-40)
	id, err := s.Submit([]byte("blocked"), now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := s.TransmitStep(now)
	if err != nil {
		t.Fatalf("TransmitStep: %v", err)
	}
	if !res.Busy || res.Sent {
		t.Fatalf("result = %+v, want busy", res)
	}
	if res.RetryAfter <= 0 {
		t.Error("busy result must carry a retry delay")
	}
	if st := s.Status(); st.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want payload retained", st.QueueDepth)
	}
	if !s.Cancel(id) {
		t.Error("retained payload should be cancellable")
	}
}

func TestSession_BusyBudgetFeedsController(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBudget = 2
	sim := quietSim()
	s := newTestSession(t, cfg, sim)
	now := time.Now()

	for i := 0; i < 12; i++ {
		s.Submit([]byte("warm"), now)
		s.TransmitStep(now)
		now = now.Add(10 * time.Millisecond)
	}
	sim.SetAmbientEDV(-40)
	s.Submit([]byte("blocked"), now)

	for i := 0; i < 3; i++ {
		now = now.Add(20 * time.Millisecond)
		if res, err := s.TransmitStep(now); err != nil || !res.Busy {
			t.Fatalf("step %d: %+v, %v, want busy", i, res, err)
		}
	}
	if st := s.Status(); st.State != "degrading" {
		t.Errorf("state = %q, want degrading after budget exhaustion", st.State)
	}
}

// failingRadio accepts configuration but cannot transmit.
type failingRadio struct {
	*radio.Sim
}

func (f *failingRadio) Transmit([]byte) error {
	return errors.New("spi write failed")
}

func TestSession_HalErrorsLeadToFailedLink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ladder = []link.Profile{
		{Scheme: link.SchemeFSK, Fsk: link.FskParams{SymbolRateKHz: 50, ModIndex: 1.0}, Rate: fec.Rate12},
	}
	cfg.Link.BasePowerDBm = link.BandSubGHz.MaxTxPowerDBm()
	s := newTestSession(t, cfg, &failingRadio{quietSim()})
	now := time.Now()

	if _, err := s.Submit([]byte("doomed"), now); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// First failure degrades, second exhausts the single-rung ladder at
	// ceiling power.
	if _, err := s.TransmitStep(now); err == nil {
		t.Fatal("want transmit error")
	}
	if _, err := s.TransmitStep(now); err == nil {
		t.Fatal("want transmit error")
	}

	if _, err := s.TransmitStep(now); !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("err = %v, want ErrLinkUnavailable", err)
	}
	if _, err := s.Submit([]byte("x"), now); !errors.Is(err, ErrLinkUnavailable) {
		t.Errorf("Submit err = %v, want ErrLinkUnavailable", err)
	}
	if st := s.Status(); st.State != "failed" {
		t.Errorf("state = %q, want failed", st.State)
	}

	s.Reset()
	if st := s.Status(); st.State != "nominal" {
		t.Errorf("state after reset = %q, want nominal", st.State)
	}
	if _, err := s.Submit([]byte("x"), now); err != nil {
		t.Errorf("Submit after reset: %v", err)
	}
}

func TestSession_RequestProfile(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), quietSim())

	ladder := link.DefaultLadder()
	fsk := ladder[len(ladder)-1]
	if err := s.RequestProfile(fsk); err != nil {
		t.Fatalf("RequestProfile: %v", err)
	}
	if st := s.Status(); st.Scheme != "fsk" || st.Rate != "1/2" {
		t.Errorf("status = %+v, want requested fsk rung", st)
	}

	off := link.Profile{Scheme: link.SchemeOFDM, Ofdm: link.OfdmParams{MCS: 2, Option: 3}, Rate: fec.Rate23}
	if err := s.RequestProfile(off); !errors.Is(err, link.ErrProfileNotInLadder) {
		t.Errorf("err = %v, want ErrProfileNotInLadder", err)
	}

	// The requested rung is what the radio gets configured with.
	now := time.Now()
	if _, err := s.Submit([]byte("pinned"), now); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res, err := s.TransmitStep(now); err != nil || !res.Sent {
		t.Fatalf("TransmitStep: %+v, %v", res, err)
	}
	if !s.active.RSCoded() {
		t.Errorf("active profile = %v, want RS-coded fsk", s.active)
	}
}

func TestSession_BusyBackoffScalesWithMargin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = 20 * time.Millisecond
	s := newTestSession(t, cfg, quietSim())

	base := 20 * time.Millisecond
	tests := []struct {
		name string
		st   channel.State
		want time.Duration
	}{
		{"below threshold", channel.State{Smoothed: -90, NoiseFloor: -95}, base},
		{"just busy", channel.State{Smoothed: -80, NoiseFloor: -95}, base},
		{"10 dB over threshold", channel.State{Smoothed: -73, NoiseFloor: -95}, 2 * base},
		{"25 dB over threshold", channel.State{Smoothed: -60, NoiseFloor: -95}, 4 * base},
		{"capped", channel.State{Smoothed: 0, NoiseFloor: -95}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.busyBackoff(tt.st); got != tt.want {
				t.Errorf("backoff = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Cancel(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), quietSim())
	now := time.Now()

	s.Submit([]byte("first"), now)
	id, _ := s.Submit([]byte("second"), now)

	if !s.Cancel(id) {
		t.Error("cancel of queued payload failed")
	}
	if s.Cancel(id) {
		t.Error("double cancel should report false")
	}
	if s.Cancel(uuid.New()) {
		t.Error("cancel of unknown id should report false")
	}
	if st := s.Status(); st.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", st.QueueDepth)
	}
}

func TestSession_EndToEndReceive(t *testing.T) {
	simA := quietSim()
	simB := radio.NewSim(radio.WithSeed(2), radio.WithJitter(0), radio.WithAmbientEDV(-95))
	radio.Link(simA, simB)

	tx := newTestSession(t, DefaultConfig(), simA)
	rx := newTestSession(t, DefaultConfig(), simB)
	now := time.Now()

	// Large enough to segment on the fastest rung.
	payload := bytes.Repeat([]byte{0xA5, 0x5A, 0x01}, 600)
	if _, err := tx.Submit(payload, now); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res, err := tx.TransmitStep(now); err != nil || !res.Sent {
		t.Fatalf("TransmitStep: %+v, %v", res, err)
	}

	rx.PollReceive(now)

	select {
	case ev := <-rx.Events():
		if !bytes.Equal(ev.Payload, payload) {
			t.Errorf("payload mismatch: got %d bytes, want %d", len(ev.Payload), len(payload))
		}
		if ev.Corrections != 0 {
			t.Errorf("corrections = %d, want 0 on a clean channel", ev.Corrections)
		}
		if ev.Module != frame.ModuleA {
			t.Errorf("module = %v, want a", ev.Module)
		}
		if ev.RSSIDBm > -30 || ev.RSSIDBm < -90 {
			t.Errorf("rssi = %.1f, want a plausible receive level", ev.RSSIDBm)
		}
	default:
		t.Fatal("no receive event after transmission")
	}

	if st := rx.Status(); st.Reassembly != 0 {
		t.Errorf("reassembly pending = %d, want 0", st.Reassembly)
	}
}

func TestSession_CorruptFrameCountsAsDecodeFailure(t *testing.T) {
	sim := quietSim(radio.WithLoopback())
	s := newTestSession(t, DefaultConfig(), sim)
	now := time.Now()

	s.Submit([]byte("garble me"), now)
	if res, err := s.TransmitStep(now); err != nil || !res.Sent {
		t.Fatalf("TransmitStep: %+v, %v", res, err)
	}

	pkt, ok := sim.Receive()
	if !ok {
		t.Fatal("loopback frame missing")
	}
	// Corrupt beyond any FEC capacity.
	for i := range pkt.Data {
		pkt.Data[i] ^= 0xFF
	}
	s.onFrame(now, pkt.Data, pkt.RSSI)

	if st := s.Status(); st.State != "degrading" {
		t.Errorf("state = %q, want degrading after decode failure", st.State)
	}
	if st := s.Status(); st.PER <= 0 {
		t.Errorf("per = %v, want positive after a failed frame", st.PER)
	}
	select {
	case <-s.Events():
		t.Error("corrupt frame must not produce an event")
	default:
	}
}
