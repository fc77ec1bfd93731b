package link

import (
	"errors"
	"fmt"
)

// ErrProfileNotInLadder rejects a requested profile that matches no
// configured ladder rung.
var ErrProfileNotInLadder = errors.New("link: requested profile not on the ladder")

// OutcomeKind classifies what happened to one frame exchange. Outcomes
// feed the controller; it never inspects frames itself.
type OutcomeKind uint8

const (
	// OutcomeClean is a frame decoded with zero corrections.
	OutcomeClean OutcomeKind = iota
	// OutcomeCorrected is a frame decoded after the FEC repaired bits.
	OutcomeCorrected
	// OutcomeDecodeFailure is a frame the FEC could not repair.
	OutcomeDecodeFailure
	// OutcomeChannelBusy is a transmission abandoned after the CCA
	// retry budget ran out.
	OutcomeChannelBusy
	// OutcomeHalError is a transceiver I/O failure.
	OutcomeHalError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeClean:
		return "clean"
	case OutcomeCorrected:
		return "corrected"
	case OutcomeDecodeFailure:
		return "decode-failure"
	case OutcomeChannelBusy:
		return "channel-busy"
	case OutcomeHalError:
		return "hal-error"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(k))
	}
}

// State is the controller's position in the adaptation cycle.
type State uint8

const (
	// StateNominal holds the current profile steady.
	StateNominal State = iota
	// StateDegrading has seen trouble and is deciding whether to step
	// down.
	StateDegrading
	// StateRecovering has changed the profile and is waiting for a run
	// of clean outcomes before declaring the link stable again.
	StateRecovering
	// StateFailed means the ladder and the power range are exhausted.
	// Failed is sticky until Reset.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNominal:
		return "nominal"
	case StateDegrading:
		return "degrading"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config tunes the controller's hysteresis.
type Config struct {
	// Window is how many recent outcomes the corrected-frame trigger
	// looks at.
	Window int
	// HighWaterCorrections: this many corrected frames inside Window
	// counts as degradation even without a hard failure.
	HighWaterCorrections int
	// RecoveryConfirmations is the clean-outcome streak required to
	// leave Recovering.
	RecoveryConfirmations int
	// PowerStepDB is added per power escalation once the ladder is
	// exhausted.
	PowerStepDB float64
	// BasePowerDBm is the starting transmit power for every rung.
	BasePowerDBm float64
	// MaxPowerDBm caps power escalation. Zero means the band's
	// regulatory ceiling; a configured value above the ceiling is
	// clamped to it.
	MaxPowerDBm float64
}

// DefaultConfig matches the field-tested tuning: react after 3 corrected
// frames in a 16-frame window, demand 5 clean frames to recover, step
// power in 2 dB increments.
func DefaultConfig() Config {
	return Config{
		Window:                16,
		HighWaterCorrections:  3,
		RecoveryConfirmations: 5,
		PowerStepDB:           2,
		BasePowerDBm:          8,
	}
}

// Controller walks the robustness ladder for one module. Modulation and
// coding are stepped down before transmit power is raised; power is the
// last lever because it costs energy and interferes with neighbours.
// Not safe for concurrent use.
type Controller struct {
	cfg    Config
	band   Band
	ladder []Profile

	state    State
	rung     int
	power    float64
	maxPower float64

	window      []OutcomeKind
	windowHead  int
	windowCount int

	cleanStreak int
}

// NewController starts at the fastest rung of the ladder in Nominal.
// A nil ladder uses DefaultLadder.
func NewController(cfg Config, band Band, ladder []Profile) *Controller {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.HighWaterCorrections <= 0 {
		cfg.HighWaterCorrections = def.HighWaterCorrections
	}
	if cfg.RecoveryConfirmations <= 0 {
		cfg.RecoveryConfirmations = def.RecoveryConfirmations
	}
	if cfg.PowerStepDB <= 0 {
		cfg.PowerStepDB = def.PowerStepDB
	}
	if cfg.BasePowerDBm == 0 {
		cfg.BasePowerDBm = def.BasePowerDBm
	}
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	maxPower := band.MaxTxPowerDBm()
	if cfg.MaxPowerDBm > 0 && cfg.MaxPowerDBm < maxPower {
		maxPower = cfg.MaxPowerDBm
	}
	power := cfg.BasePowerDBm
	if power > maxPower {
		power = maxPower
	}
	return &Controller{
		cfg:      cfg,
		band:     band,
		ladder:   ladder,
		power:    power,
		maxPower: maxPower,
		window:   make([]OutcomeKind, cfg.Window),
	}
}

// State returns the current adaptation state.
func (c *Controller) State() State { return c.state }

// Profile returns the active profile with the current transmit power
// applied.
func (c *Controller) Profile() Profile {
	return c.ladder[c.rung].WithTxPower(c.power, c.band)
}

// Available reports whether the controller will accept traffic. Only
// Failed refuses.
func (c *Controller) Available() bool { return c.state != StateFailed }

// Observe feeds one outcome into the state machine. It returns true when
// the active profile changed and the radio must be reconfigured.
func (c *Controller) Observe(kind OutcomeKind) bool {
	if c.state == StateFailed {
		return false
	}

	c.window[c.windowHead] = kind
	c.windowHead = (c.windowHead + 1) % len(c.window)
	if c.windowCount < len(c.window) {
		c.windowCount++
	}
	if kind == OutcomeClean {
		c.cleanStreak++
	} else {
		c.cleanStreak = 0
	}

	switch c.state {
	case StateNominal:
		if c.troubled(kind) {
			c.state = StateDegrading
		}
		return false

	case StateDegrading:
		if kind == OutcomeClean && !c.correctionsHigh() {
			// Isolated glitch, the link cleared up on its own.
			c.state = StateNominal
			return false
		}
		return c.stepDown()

	case StateRecovering:
		if c.cleanStreak >= c.cfg.RecoveryConfirmations {
			c.state = StateNominal
			return false
		}
		if c.troubled(kind) {
			return c.stepDown()
		}
		return false
	}
	return false
}

// troubled reports whether an outcome, in the context of the window,
// signals degradation.
func (c *Controller) troubled(kind OutcomeKind) bool {
	switch kind {
	case OutcomeDecodeFailure, OutcomeChannelBusy, OutcomeHalError:
		return true
	case OutcomeCorrected:
		return c.correctionsHigh()
	}
	return false
}

func (c *Controller) correctionsHigh() bool {
	n := 0
	for i := 0; i < c.windowCount; i++ {
		if c.window[i] == OutcomeCorrected {
			n++
		}
	}
	return n >= c.cfg.HighWaterCorrections
}

// stepDown makes the link more robust: first the next ladder rung, then
// power increments, then Failed. Returns true when the profile changed.
func (c *Controller) stepDown() bool {
	c.cleanStreak = 0
	if c.rung < len(c.ladder)-1 {
		c.rung++
		c.state = StateRecovering
		return true
	}
	if c.power < c.maxPower {
		c.power += c.cfg.PowerStepDB
		if c.power > c.maxPower {
			c.power = c.maxPower
		}
		c.state = StateRecovering
		return true
	}
	c.state = StateFailed
	return false
}

// Request pins the controller to an operator-requested profile. The
// profile must match a ladder rung, transmit power aside; a requested
// power is clamped to the ceiling, zero keeps the current power. The
// adaptation cycle restarts from Nominal on the requested rung.
func (c *Controller) Request(p Profile) error {
	want := p
	want.TxPowerDBm = 0
	for i, r := range c.ladder {
		r.TxPowerDBm = 0
		if r != want {
			continue
		}
		c.rung = i
		if p.TxPowerDBm != 0 {
			c.power = p.TxPowerDBm
			if c.power > c.maxPower {
				c.power = c.maxPower
			}
		}
		c.state = StateNominal
		c.cleanStreak = 0
		return nil
	}
	return ErrProfileNotInLadder
}

// Reset returns to Nominal on the most conservative rung at base power.
// This is the only exit from Failed; it is driven by the operator, not
// the state machine.
func (c *Controller) Reset() {
	c.state = StateNominal
	c.rung = len(c.ladder) - 1
	c.power = c.cfg.BasePowerDBm
	if c.power > c.maxPower {
		c.power = c.maxPower
	}
	c.windowHead = 0
	c.windowCount = 0
	c.cleanStreak = 0
}
