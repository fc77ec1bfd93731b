// Package link holds the radio profile model and the adaptive controller
// that walks the robustness ladder in response to receive outcomes.
package link

import (
	"fmt"

	"github.com/jeongseonghan/radiolink/internal/fec"
)

// Band identifies the RF band a module operates in.
type Band uint8

const (
	BandSubGHz Band = iota
	Band24GHz
)

func (b Band) String() string {
	switch b {
	case BandSubGHz:
		return "sub-ghz"
	case Band24GHz:
		return "2.4ghz"
	default:
		return fmt.Sprintf("band(%d)", uint8(b))
	}
}

// MaxTxPowerDBm is the regulatory ceiling for the band.
func (b Band) MaxTxPowerDBm() float64 {
	if b == Band24GHz {
		return 20
	}
	return 14
}

// Scheme is the physical-layer modulation family.
type Scheme uint8

const (
	SchemeOFDM Scheme = iota
	SchemeQPSK
	SchemeFSK
)

func (s Scheme) String() string {
	switch s {
	case SchemeOFDM:
		return "ofdm"
	case SchemeQPSK:
		return "qpsk"
	case SchemeFSK:
		return "fsk"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// OfdmParams selects the OFDM option and modulation-coding scheme.
// MCS 6 is the fastest, MCS 0 the most robust.
type OfdmParams struct {
	MCS    uint8 // 0..6
	Option uint8 // 1..4
}

func (p OfdmParams) valid() bool {
	return p.MCS <= 6 && p.Option >= 1 && p.Option <= 4
}

// QpskParams selects the O-QPSK chip rate and spreading mode.
type QpskParams struct {
	ChipRate uint16 // kchip/s: 100, 200, 1000 or 2000
	RateMode uint8  // 0..3, lower spreads more
}

func (p QpskParams) valid() bool {
	switch p.ChipRate {
	case 100, 200, 1000, 2000:
		return p.RateMode <= 3
	}
	return false
}

// FskParams selects the FSK symbol rate and deviation. FSK is the
// last-resort scheme and trades nearly all throughput for link margin.
type FskParams struct {
	SymbolRateKHz uint16
	ModIndex      float64
	PreambleLen   uint8
}

func (p FskParams) valid() bool {
	return p.SymbolRateKHz > 0 && p.ModIndex > 0
}

// Profile is one rung of the robustness ladder: a modulation scheme with
// its parameters, a payload coding rate and a transmit power. Profiles
// are value types; the controller hands copies to the radio.
type Profile struct {
	Scheme Scheme
	Ofdm   OfdmParams
	Qpsk   QpskParams
	Fsk    FskParams

	Rate       fec.CodingRate
	TxPowerDBm float64
}

// RSCoded reports whether payloads under this profile travel under the
// Reed-Solomon coder instead of LDPC. Only the FSK fallback does; its
// airtime per frame is long enough that burst errors dominate and the
// byte-oriented coder recovers them better.
func (p Profile) RSCoded() bool {
	return p.Scheme == SchemeFSK
}

// WithTxPower returns a copy with the transmit power clamped to the
// band ceiling.
func (p Profile) WithTxPower(dbm float64, band Band) Profile {
	if max := band.MaxTxPowerDBm(); dbm > max {
		dbm = max
	}
	p.TxPowerDBm = dbm
	return p
}

// Valid checks the scheme parameters and coding rate.
func (p Profile) Valid() bool {
	if !p.Rate.Valid() {
		return false
	}
	switch p.Scheme {
	case SchemeOFDM:
		return p.Ofdm.valid()
	case SchemeQPSK:
		return p.Qpsk.valid()
	case SchemeFSK:
		return p.Fsk.valid()
	}
	return false
}

func (p Profile) String() string {
	switch p.Scheme {
	case SchemeOFDM:
		return fmt.Sprintf("ofdm/opt%d/mcs%d rate=%s pwr=%.0fdBm",
			p.Ofdm.Option, p.Ofdm.MCS, p.Rate, p.TxPowerDBm)
	case SchemeQPSK:
		return fmt.Sprintf("qpsk/%dkchip/mode%d rate=%s pwr=%.0fdBm",
			p.Qpsk.ChipRate, p.Qpsk.RateMode, p.Rate, p.TxPowerDBm)
	case SchemeFSK:
		return fmt.Sprintf("fsk/%dksym rate=%s pwr=%.0fdBm",
			p.Fsk.SymbolRateKHz, p.Rate, p.TxPowerDBm)
	default:
		return fmt.Sprintf("scheme(%d)", uint8(p.Scheme))
	}
}

// DefaultLadder is the ordered robustness ladder, fastest first. The
// controller steps down this list before it ever raises transmit power.
func DefaultLadder() []Profile {
	return []Profile{
		{Scheme: SchemeOFDM, Ofdm: OfdmParams{MCS: 6, Option: 1}, Rate: fec.Rate56},
		{Scheme: SchemeOFDM, Ofdm: OfdmParams{MCS: 5, Option: 1}, Rate: fec.Rate34},
		{Scheme: SchemeOFDM, Ofdm: OfdmParams{MCS: 3, Option: 2}, Rate: fec.Rate23},
		{Scheme: SchemeOFDM, Ofdm: OfdmParams{MCS: 0, Option: 4}, Rate: fec.Rate12},
		{Scheme: SchemeQPSK, Qpsk: QpskParams{ChipRate: 2000, RateMode: 2}, Rate: fec.Rate23},
		{Scheme: SchemeQPSK, Qpsk: QpskParams{ChipRate: 100, RateMode: 0}, Rate: fec.Rate12},
		{Scheme: SchemeFSK, Fsk: FskParams{SymbolRateKHz: 50, ModIndex: 1.0, PreambleLen: 8}, Rate: fec.Rate12},
	}
}
