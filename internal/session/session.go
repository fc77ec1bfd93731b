// Package session ties one module's stack together: the transmit queue,
// clear-channel assessment, framing, FEC and the adaptive link
// controller, all driven against a radio.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jeongseonghan/radiolink/internal/channel"
	"github.com/jeongseonghan/radiolink/internal/frame"
	"github.com/jeongseonghan/radiolink/internal/link"
	"github.com/jeongseonghan/radiolink/internal/metrics"
	"github.com/jeongseonghan/radiolink/internal/radio"
)

// ErrLinkUnavailable is returned while the controller is in the failed
// state. Only an explicit Reset re-arms the link.
var ErrLinkUnavailable = errors.New("session: link failed, reset required")

// Config tunes one module session.
type Config struct {
	// QueueLimit bounds the transmit queue.
	QueueLimit int
	// RetryBudget is how many busy assessments in a row are tolerated
	// before the controller is told the channel is blocked.
	RetryBudget int
	// RetryBackoff is how long the scheduler should wait before the
	// next attempt on a busy channel.
	RetryBackoff time.Duration

	Band    link.Band
	Ladder  []link.Profile
	Link    link.Config
	Channel channel.Config
	// ReassemblyTimeout bounds how long partial messages are held.
	ReassemblyTimeout time.Duration
}

// DefaultConfig returns the per-module defaults.
func DefaultConfig() Config {
	return Config{
		QueueLimit:        32,
		RetryBudget:       8,
		RetryBackoff:      20 * time.Millisecond,
		Band:              link.BandSubGHz,
		Link:              link.DefaultConfig(),
		Channel:           channel.DefaultConfig(),
		ReassemblyTimeout: frame.DefaultReassemblyTimeout,
	}
}

// StepResult reports what one scheduler step did. The scheduler never
// sleeps inside the session; RetryAfter tells it when to come back.
type StepResult struct {
	// Sent is true when a queued payload went out in full.
	Sent bool
	// ID identifies the payload that was sent.
	ID uuid.UUID
	// Busy is true when the channel assessment deferred the attempt.
	Busy bool
	// RetryAfter suggests when to try again. Zero means immediately.
	RetryAfter time.Duration
}

// ReceiveEvent is one fully reassembled inbound message.
type ReceiveEvent struct {
	Module      frame.Module `json:"module"`
	Payload     []byte       `json:"payload"`
	Corrections int          `json:"corrections"`
	RSSIDBm     float64      `json:"rssi_dbm"`
	At          time.Time    `json:"at"`
}

// LinkStatus is a point-in-time snapshot for the status API.
type LinkStatus struct {
	Module     frame.Module  `json:"module"`
	State      string        `json:"state"`
	Profile    string        `json:"profile"`
	Scheme     string        `json:"scheme"`
	Rate       string        `json:"rate"`
	TxPowerDBm float64       `json:"tx_power_dbm"`
	QueueDepth int           `json:"queue_depth"`
	Reassembly int           `json:"reassembly_pending"`
	Channel    channel.State `json:"channel"`
	RSSIDBm    float64       `json:"rssi_dbm"`
	PER        float64       `json:"per"`
	Seq        uint32        `json:"seq"`
}

// Session is the per-module pipeline. All methods are called from the
// module's worker goroutine; the session itself does no locking.
type Session struct {
	module frame.Module
	cfg    Config
	logger *log.Logger

	hal   radio.Radio
	codec *frame.Codec
	ctrl  *link.Controller
	cca   *channel.Assessor
	reasm *frame.Reassembler
	q     *queue
	met   *metrics.Metrics

	seq         uint32
	busyRetries int

	// Smoothed receive statistics, EMA alpha 0.2 like the channel ring.
	rssi    float64
	hasRSSI bool
	per     float64

	active     link.Profile
	configured bool

	events chan ReceiveEvent
}

// New wires a session for one module.
func New(module frame.Module, cfg Config, hal radio.Radio, met *metrics.Metrics, logger *log.Logger) (*Session, error) {
	def := DefaultConfig()
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = def.QueueLimit
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.ReassemblyTimeout <= 0 {
		cfg.ReassemblyTimeout = def.ReassemblyTimeout
	}
	codec, err := frame.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Session{
		module: module,
		cfg:    cfg,
		logger: logger.With("module", module.String()),
		hal:    hal,
		codec:  codec,
		ctrl:   link.NewController(cfg.Link, cfg.Band, cfg.Ladder),
		cca:    channel.NewAssessor(cfg.Channel),
		reasm:  frame.NewReassembler(4, cfg.ReassemblyTimeout),
		q:      newQueue(cfg.QueueLimit),
		met:    met,
		events: make(chan ReceiveEvent, 32),
	}, nil
}

// Submit queues a payload for transmission and returns its handle.
func (s *Session) Submit(payload []byte, now time.Time) (uuid.UUID, error) {
	if !s.ctrl.Available() {
		return uuid.Nil, ErrLinkUnavailable
	}
	if len(payload) > frame.MaxPayloadSize {
		return uuid.Nil, frame.ErrPayloadTooLarge
	}
	it, err := s.q.push(payload, now)
	if err != nil {
		return uuid.Nil, err
	}
	s.met.QueueDepth.WithLabelValues(s.module.String()).Set(float64(s.q.depth()))
	s.logger.Debug("payload queued", "id", it.ID, "bytes", len(payload))
	return it.ID, nil
}

// RequestProfile pins the link to an operator-requested ladder rung. The
// next transmit step reconfigures the radio.
func (s *Session) RequestProfile(p link.Profile) error {
	if !s.ctrl.Available() {
		return ErrLinkUnavailable
	}
	if err := s.ctrl.Request(p); err != nil {
		return err
	}
	s.logger.Info("profile requested", "profile", s.ctrl.Profile().String())
	return nil
}

// Cancel removes a queued payload. It reports false when the payload
// already left or never existed.
func (s *Session) Cancel(id uuid.UUID) bool {
	ok := s.q.cancel(id)
	if ok {
		s.met.QueueDepth.WithLabelValues(s.module.String()).Set(float64(s.q.depth()))
		s.logger.Debug("payload cancelled", "id", id)
	}
	return ok
}

// TransmitStep attempts to send the head of the queue. It never blocks:
// a busy channel comes back as a StepResult with RetryAfter set.
func (s *Session) TransmitStep(now time.Time) (StepResult, error) {
	it := s.q.peek()
	if it == nil {
		return StepResult{}, nil
	}
	if !s.ctrl.Available() {
		return StepResult{}, ErrLinkUnavailable
	}

	if err := s.ensureConfigured(); err != nil {
		return StepResult{}, err
	}

	s.cca.Record(s.hal.EnergyDetection(), now)
	st := s.cca.Assess()
	s.met.NoiseFloor.WithLabelValues(s.module.String()).Set(st.NoiseFloor)
	if !st.Clear {
		s.met.CCABusy.WithLabelValues(s.module.String()).Inc()
		s.busyRetries++
		if s.busyRetries > s.cfg.RetryBudget {
			// The channel has been blocked for the whole budget.
			// Tell the controller, keep the payload queued, and let
			// the stepped-down profile have a go.
			s.busyRetries = 0
			s.observe(link.OutcomeChannelBusy)
			s.logger.Warn("channel busy budget exhausted",
				"smoothed", st.Smoothed, "floor", st.NoiseFloor)
		}
		return StepResult{Busy: true, RetryAfter: s.busyBackoff(st)}, nil
	}
	s.busyRetries = 0

	p := s.ctrl.Profile()
	frames, err := frame.Split(s.module, s.seq, it.Payload, p.Rate, p.RSCoded())
	if err != nil {
		// Cannot happen for payloads Submit accepted; drop rather
		// than wedge the queue.
		s.q.pop()
		return StepResult{}, fmt.Errorf("session: split payload %s: %w", it.ID, err)
	}
	for _, f := range frames {
		raw, err := s.codec.EncodeFrame(f)
		if err != nil {
			s.q.pop()
			return StepResult{}, fmt.Errorf("session: encode frame: %w", err)
		}
		if err := s.hal.Transmit(raw); err != nil {
			s.observe(link.OutcomeHalError)
			return StepResult{}, fmt.Errorf("session: transmit: %w", err)
		}
		s.met.FramesTx.WithLabelValues(s.module.String()).Inc()
	}

	s.q.pop()
	s.seq++
	s.met.QueueDepth.WithLabelValues(s.module.String()).Set(float64(s.q.depth()))
	s.logger.Debug("payload transmitted",
		"id", it.ID, "frames", len(frames), "profile", p.String())
	return StepResult{Sent: true, ID: it.ID}, nil
}

// busyBackoff scales the retry delay with the interference margin:
// every full 10 dB the smoothed energy sits above the busy threshold
// doubles the wait, capped at one second.
func (s *Session) busyBackoff(st channel.State) time.Duration {
	backoff := s.cfg.RetryBackoff
	excess := st.Smoothed - st.NoiseFloor - s.cca.ThresholdDB()
	for ; excess >= 10 && backoff < time.Second; excess -= 10 {
		backoff *= 2
	}
	if backoff > time.Second {
		backoff = time.Second
	}
	return backoff
}

// PollReceive drains the radio's receive queue through the decode
// pipeline.
func (s *Session) PollReceive(now time.Time) {
	for {
		pkt, ok := s.hal.Receive()
		if !ok {
			return
		}
		s.cca.Record(pkt.EDV, pkt.At)
		s.onFrame(now, pkt.Data, pkt.RSSI)
	}
}

// onFrame runs one raw radio frame through FEC decode, validation and
// reassembly.
func (s *Session) onFrame(now time.Time, raw []byte, rssi float64) {
	mod := s.module.String()
	if s.hasRSSI {
		s.rssi = (4*s.rssi + rssi) / 5
	} else {
		s.rssi = rssi
		s.hasRSSI = true
	}

	f, corrections, err := s.codec.DecodeFrame(raw)
	s.trackPER(err != nil)
	if err != nil {
		s.met.FramesRx.WithLabelValues(mod, "failed").Inc()
		s.observe(link.OutcomeDecodeFailure)
		s.logger.Debug("frame decode failed", "err", err)
		return
	}
	if f.Module != s.module {
		// Mis-tuned peer or reflection; not our traffic.
		s.met.FramesRx.WithLabelValues(mod, "foreign").Inc()
		return
	}

	if corrections > 0 {
		s.met.FramesRx.WithLabelValues(mod, "corrected").Inc()
		s.met.Corrections.WithLabelValues(mod).Add(float64(corrections))
		s.observe(link.OutcomeCorrected)
	} else {
		s.met.FramesRx.WithLabelValues(mod, "ok").Inc()
		s.observe(link.OutcomeClean)
	}

	payload, total, complete := s.reasm.Add(now, f, corrections)
	if !complete {
		return
	}
	ev := ReceiveEvent{Module: s.module, Payload: payload, Corrections: total, RSSIDBm: rssi, At: now}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("receive event dropped, consumer too slow")
	}
}

// trackPER folds one receive result into the smoothed packet error
// ratio.
func (s *Session) trackPER(failed bool) {
	x := 0.0
	if failed {
		x = 1.0
	}
	s.per = (4*s.per + x) / 5
	s.met.PER.WithLabelValues(s.module.String()).Set(s.per)
}

// observe feeds the controller and mirrors its state into the gauges.
func (s *Session) observe(kind link.OutcomeKind) {
	changed := s.ctrl.Observe(kind)
	mod := s.module.String()
	s.met.LinkState.WithLabelValues(mod).Set(float64(s.ctrl.State()))
	if changed {
		p := s.ctrl.Profile()
		s.met.TxPower.WithLabelValues(mod).Set(p.TxPowerDBm)
		s.logger.Info("link profile stepped down",
			"state", s.ctrl.State().String(), "profile", p.String())
	}
}

// ensureConfigured pushes the active profile to the radio, but only when
// it actually changed.
func (s *Session) ensureConfigured() error {
	p := s.ctrl.Profile()
	if s.configured && p == s.active {
		return nil
	}
	if err := s.hal.Configure(p); err != nil {
		s.observe(link.OutcomeHalError)
		return fmt.Errorf("session: configure radio: %w", err)
	}
	s.active = p
	s.configured = true
	s.met.TxPower.WithLabelValues(s.module.String()).Set(p.TxPowerDBm)
	s.logger.Info("radio configured", "profile", p.String())
	return nil
}

// Status snapshots the session for the API.
func (s *Session) Status() LinkStatus {
	p := s.ctrl.Profile()
	return LinkStatus{
		Module:     s.module,
		State:      s.ctrl.State().String(),
		Profile:    p.String(),
		Scheme:     p.Scheme.String(),
		Rate:       p.Rate.String(),
		TxPowerDBm: p.TxPowerDBm,
		QueueDepth: s.q.depth(),
		Reassembly: s.reasm.Pending(),
		Channel:    s.cca.Assess(),
		RSSIDBm:    s.rssi,
		PER:        s.per,
		Seq:        s.seq,
	}
}

// Reset re-arms a failed link on the most conservative profile and
// clears the channel history. Queued payloads survive.
func (s *Session) Reset() {
	s.ctrl.Reset()
	s.cca.Reset()
	s.busyRetries = 0
	s.configured = false
	s.met.LinkState.WithLabelValues(s.module.String()).Set(float64(s.ctrl.State()))
	s.logger.Info("link reset", "profile", s.ctrl.Profile().String())
}

// Events exposes reassembled inbound messages.
func (s *Session) Events() <-chan ReceiveEvent { return s.events }

// Module returns the module this session serves.
func (s *Session) Module() frame.Module { return s.module }

// Close releases the radio.
func (s *Session) Close() error { return s.hal.Close() }
