package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeongseonghan/radiolink/internal/fec"
)

// Wire layout, little-endian:
//
//	[Magic(1B)][Module(1B)][Flags(1B)][Rate(1B)]
//	[Seq(4B)][SegIndex(1B)][SegCount(1B)][PayloadLen(2B)][CRC-32(4B)]
//	[Payload]
//
// The CRC covers the first 12 header bytes plus the payload, so any single
// flipped bit in a frame is caught.
const (
	HeaderSize     = 16
	MaxPayloadSize = 2047

	// RadioFrameBytes is the radio HAL transmit buffer size; an encoded
	// frame (header codeword plus payload codewords) must fit it.
	RadioFrameBytes = 2048

	magic = 0xBA
)

// Frame flags.
const (
	// FlagSegmented marks one segment of a payload split across frames.
	FlagSegmented = 0x01
	// FlagRSCoded marks a payload coded with RS(255,223) instead of LDPC,
	// used by the FSK modulation mode.
	FlagRSCoded = 0x02

	flagsKnown = FlagSegmented | FlagRSCoded
)

// Module identifies a radio module. Module A drives the sub-GHz
// transceiver, module B the 2.4 GHz one.
type Module uint8

const (
	ModuleA Module = iota
	ModuleB

	NumModules = 2
)

func (m Module) Valid() bool {
	return m < NumModules
}

func (m Module) String() string {
	switch m {
	case ModuleA:
		return "a"
	case ModuleB:
		return "b"
	default:
		return fmt.Sprintf("module(%d)", uint8(m))
	}
}

// ParseModule parses the module names used in configuration and the API.
func ParseModule(s string) (Module, error) {
	switch s {
	case "a", "A":
		return ModuleA, nil
	case "b", "B":
		return ModuleB, nil
	default:
		return 0, fmt.Errorf("frame: unknown module %q", s)
	}
}

var (
	// ErrPayloadTooLarge is returned for payloads over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	// ErrChecksumMismatch is returned when the frame CRC does not match.
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	// ErrMalformed is returned when header fields are inconsistent with
	// the buffer.
	ErrMalformed = errors.New("frame: malformed header")
)

// Frame is one link-layer frame. Immutable once validated.
type Frame struct {
	Module   Module
	Seq      uint32
	Flags    uint8
	Rate     fec.CodingRate
	SegIndex uint8
	SegCount uint8
	Payload  []byte
}

// New builds an unsegmented frame for a payload submitted for
// transmission.
func New(module Module, seq uint32, payload []byte) (*Frame, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return &Frame{
		Module:   module,
		Seq:      seq,
		Rate:     fec.Rate12,
		SegCount: 1,
		Payload:  payload,
	}, nil
}

// Encode serializes the frame to header plus payload with the CRC filled
// in. Deterministic for given inputs.
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	f.packHeader(buf)
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

func (f *Frame) packHeader(buf []byte) {
	buf[0] = magic
	buf[1] = byte(f.Module)
	buf[2] = f.Flags
	buf[3] = byte(f.Rate)
	binary.LittleEndian.PutUint32(buf[4:8], f.Seq)
	buf[8] = f.SegIndex
	buf[9] = f.SegCount
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint32(buf[12:16], f.crc())
}

// crc computes the frame checksum over the first 12 header bytes and the
// payload.
func (f *Frame) crc() uint32 {
	var hdr [12]byte
	hdr[0] = magic
	hdr[1] = byte(f.Module)
	hdr[2] = f.Flags
	hdr[3] = byte(f.Rate)
	binary.LittleEndian.PutUint32(hdr[4:8], f.Seq)
	hdr[8] = f.SegIndex
	hdr[9] = f.SegCount
	binary.LittleEndian.PutUint16(hdr[10:12], uint16(len(f.Payload)))

	crc := fec.CRC32(hdr[:])
	if len(f.Payload) > 0 {
		crc = fec.CRC32(append(hdr[:], f.Payload...))
	}
	return crc
}

// Decode deserializes a header-plus-payload buffer into a validated
// Frame. Pure transform: no side effects, the input is copied.
func Decode(data []byte) (*Frame, error) {
	f, plen, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) != HeaderSize+plen {
		return nil, ErrMalformed
	}

	f.Payload = make([]byte, plen)
	copy(f.Payload, data[HeaderSize:])

	want := binary.LittleEndian.Uint32(data[12:16])
	if f.crc() != want {
		return nil, ErrChecksumMismatch
	}
	return f, nil
}

// parseHeader validates the fixed header fields and returns the declared
// payload length. The payload itself is not inspected.
func parseHeader(data []byte) (*Frame, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, ErrMalformed
	}
	if data[0] != magic {
		return nil, 0, ErrMalformed
	}

	f := &Frame{
		Module:   Module(data[1]),
		Flags:    data[2],
		Rate:     fec.CodingRate(data[3]),
		Seq:      binary.LittleEndian.Uint32(data[4:8]),
		SegIndex: data[8],
		SegCount: data[9],
	}
	plen := int(binary.LittleEndian.Uint16(data[10:12]))

	if !f.Module.Valid() || !f.Rate.Valid() || f.Flags&^flagsKnown != 0 {
		return nil, 0, ErrMalformed
	}
	if plen > MaxPayloadSize {
		return nil, 0, ErrMalformed
	}
	if f.SegCount == 0 || f.SegIndex >= f.SegCount {
		return nil, 0, ErrMalformed
	}
	return f, plen, nil
}
