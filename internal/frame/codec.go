package frame

import (
	"fmt"

	"github.com/jeongseonghan/radiolink/internal/fec"
)

// Codec translates frames to and from the FEC-protected wire form handed
// to the radio HAL. The header travels in a fixed rate-1/2 header codeword
// so the receiver can learn the payload coding rate before decoding the
// payload blocks. Not safe for concurrent use; each module owns one.
type Codec struct {
	ldpc *fec.Codec
	rs   *fec.RSCoder
}

// NewCodec creates a wire codec.
func NewCodec() (*Codec, error) {
	rs, err := fec.NewRSCoder()
	if err != nil {
		return nil, err
	}
	return &Codec{
		ldpc: fec.NewCodec(),
		rs:   rs,
	}, nil
}

// EncodeFrame produces the over-the-air bytes for a frame: the header
// codeword followed by the payload codewords.
func (c *Codec) EncodeFrame(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	var hdr [HeaderSize]byte
	f.packHeader(hdr[:])
	hcw, err := c.ldpc.EncodeHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	var pcw []byte
	if f.Flags&FlagRSCoded != 0 {
		pcw, err = c.rs.Encode(f.Payload)
	} else {
		pcw, err = c.ldpc.Encode(f.Payload, f.Rate)
	}
	if err != nil {
		return nil, err
	}

	if len(hcw)+len(pcw) > RadioFrameBytes {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, 0, len(hcw)+len(pcw))
	out = append(out, hcw...)
	out = append(out, pcw...)
	return out, nil
}

// DecodeFrame recovers and validates a frame from over-the-air bytes,
// reporting the total number of FEC bit corrections. Failures follow the
// error taxonomy: fec.ErrDecodeFailure for uncorrectable codewords,
// ErrMalformed and ErrChecksumMismatch for frame validation.
func (c *Codec) DecodeFrame(raw []byte) (*Frame, int, error) {
	if len(raw) < fec.HeaderBlockBytes {
		return nil, 0, ErrMalformed
	}

	hdr, hc, err := c.ldpc.DecodeHeader(raw[:fec.HeaderBlockBytes])
	if err != nil {
		return nil, hc, fmt.Errorf("header: %w", err)
	}

	f, plen, err := parseHeader(hdr)
	if err != nil {
		return nil, hc, err
	}

	body := raw[fec.HeaderBlockBytes:]
	var (
		decoded []byte
		pc      int
	)
	if f.Flags&FlagRSCoded != 0 {
		decoded, err = c.rs.Decode(body)
	} else {
		decoded, pc, err = c.ldpc.Decode(body, f.Rate)
	}
	if err != nil {
		return nil, hc + pc, fmt.Errorf("payload: %w", err)
	}
	if len(decoded) < plen {
		return nil, hc + pc, ErrMalformed
	}

	// Strip the coder's block padding and re-validate the frame as a
	// whole, checksum included.
	buf := make([]byte, HeaderSize+plen)
	copy(buf, hdr)
	copy(buf[HeaderSize:], decoded[:plen])

	out, err := Decode(buf)
	if err != nil {
		return nil, hc + pc, err
	}
	return out, hc + pc, nil
}
