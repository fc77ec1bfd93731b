package radio

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jeongseonghan/radiolink/internal/link"
)

// Sim is an in-process transceiver used by the simulator backend and the
// tests. Two Sims linked with Link form a lossy pipe; a single Sim with
// Loopback enabled receives its own transmissions. Bit errors and channel
// energy are injected deterministically from a seeded source.
type Sim struct {
	mu sync.Mutex

	profile    link.Profile
	configured bool

	peer     *Sim
	loopback bool

	queue []*Packet

	// BER is the per-bit flip probability applied to every frame the
	// Sim delivers.
	ber        float64
	ambientEDV float64
	jitterDB   float64
	txBoostDB  float64

	rng *rand.Rand
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithBER sets the injected bit-error rate.
func WithBER(ber float64) SimOption {
	return func(s *Sim) { s.ber = ber }
}

// WithAmbientEDV sets the idle-channel energy level in dBm.
func WithAmbientEDV(dbm float64) SimOption {
	return func(s *Sim) { s.ambientEDV = dbm }
}

// WithJitter sets the peak-to-peak noise added to energy readings.
func WithJitter(db float64) SimOption {
	return func(s *Sim) { s.jitterDB = db }
}

// WithSeed makes the Sim's randomness reproducible.
func WithSeed(seed int64) SimOption {
	return func(s *Sim) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithLoopback makes the Sim deliver its own transmissions to itself.
func WithLoopback() SimOption {
	return func(s *Sim) { s.loopback = true }
}

// NewSim creates a simulator radio. The defaults model a quiet channel
// with no bit errors.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		ambientEDV: -95,
		jitterDB:   2,
		txBoostDB:  40,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Link couples two Sims so each receives the other's transmissions.
func Link(a, b *Sim) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// Configure records the profile. The simulator accepts any profile.
func (s *Sim) Configure(p link.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.configured = true
	return nil
}

// Transmit corrupts a copy of the frame per the configured bit-error
// rate and delivers it to the peer, or back to this Sim in loopback.
func (s *Sim) Transmit(data []byte) error {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	dst := s.peer
	if s.loopback {
		dst = s
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.corruptLocked(buf)
	edv := s.ambientEDV + s.txBoostDB + s.jitterLocked()
	rssi := edv - 6 + s.jitterLocked()
	s.mu.Unlock()

	if dst == nil {
		// Unlinked Sim: the frame vanishes into the ether.
		return nil
	}
	dst.deliver(&Packet{Data: buf, EDV: edv, RSSI: rssi, At: time.Now()})
	return nil
}

func (s *Sim) deliver(p *Packet) {
	s.mu.Lock()
	s.queue = append(s.queue, p)
	s.mu.Unlock()
}

// Receive pops the next pending frame.
func (s *Sim) Receive() (*Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p, true
}

// EnergyDetection samples the simulated channel: the ambient level plus
// jitter.
func (s *Sim) EnergyDetection() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ambientEDV + s.jitterLocked()
}

// SetAmbientEDV changes the idle-channel energy level, e.g. to simulate
// an interferer appearing mid-test.
func (s *Sim) SetAmbientEDV(dbm float64) {
	s.mu.Lock()
	s.ambientEDV = dbm
	s.mu.Unlock()
}

// SetBER changes the injected bit-error rate.
func (s *Sim) SetBER(ber float64) {
	s.mu.Lock()
	s.ber = ber
	s.mu.Unlock()
}

// Pending reports the number of undelivered frames.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close discards any queued frames.
func (s *Sim) Close() error {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return nil
}

func (s *Sim) corruptLocked(buf []byte) {
	if s.ber <= 0 {
		return
	}
	for i := range buf {
		for bit := 0; bit < 8; bit++ {
			if s.rng.Float64() < s.ber {
				buf[i] ^= 1 << bit
			}
		}
	}
}

func (s *Sim) jitterLocked() float64 {
	if s.jitterDB <= 0 {
		return 0
	}
	return (s.rng.Float64() - 0.5) * s.jitterDB
}
