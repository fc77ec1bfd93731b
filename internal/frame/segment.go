package frame

import (
	"time"

	"github.com/jeongseonghan/radiolink/internal/fec"
)

// MaxSegments bounds how many frames one payload may be split into.
const MaxSegments = 15

// DefaultReassemblyTimeout is how long a partial payload waits for its
// remaining segments before being discarded.
const DefaultReassemblyTimeout = 500 * time.Millisecond

// MaxFramePayload returns the largest segment payload that still fits the
// radio frame buffer after FEC expansion.
func MaxFramePayload(rate fec.CodingRate, rsCoded bool) int {
	room := RadioFrameBytes - fec.HeaderBlockBytes
	if rsCoded {
		// RS(255,223) expands by whole shard columns.
		shardSize := room / 255
		n := 223 * shardSize
		if n > MaxPayloadSize {
			n = MaxPayloadSize
		}
		return n
	}
	blocks := room / fec.BlockBytes
	n := blocks * rate.BlockDataBytes()
	if n > MaxPayloadSize {
		n = MaxPayloadSize
	}
	return n
}

// Split breaks an application payload into segment frames sharing one
// sequence number. Payloads that fit a single frame produce one
// unsegmented frame; an empty payload is legal and produces one empty
// frame.
func Split(module Module, seq uint32, payload []byte, rate fec.CodingRate, rsCoded bool) ([]*Frame, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	var flags uint8
	if rsCoded {
		flags |= FlagRSCoded
	}

	segSize := MaxFramePayload(rate, rsCoded)
	segCount := (len(payload) + segSize - 1) / segSize
	if segCount == 0 {
		segCount = 1
	}
	if segCount > MaxSegments {
		return nil, ErrPayloadTooLarge
	}
	if segCount > 1 {
		flags |= FlagSegmented
	}

	frames := make([]*Frame, 0, segCount)
	for i := 0; i < segCount; i++ {
		start := i * segSize
		end := start + segSize
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, &Frame{
			Module:   module,
			Seq:      seq,
			Flags:    flags,
			Rate:     rate,
			SegIndex: uint8(i),
			SegCount: uint8(segCount),
			Payload:  payload[start:end],
		})
	}
	return frames, nil
}

type partial struct {
	module      Module
	seq         uint32
	segCount    uint8
	have        uint8
	segments    [][]byte
	corrections int
	lastUpdate  time.Time
	inUse       bool
}

func (p *partial) release() {
	*p = partial{segments: p.segments[:0]}
}

// Reassembler collects segment frames back into whole payloads. It holds a
// bounded number of in-flight reassemblies; partial payloads whose
// segments stop arriving are discarded after a timeout.
type Reassembler struct {
	slots   []partial
	timeout time.Duration
}

// NewReassembler creates a reassembler with the given number of slots.
func NewReassembler(slots int, timeout time.Duration) *Reassembler {
	if slots <= 0 {
		slots = 6
	}
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		slots:   make([]partial, slots),
		timeout: timeout,
	}
}

// Add feeds one validated frame into the reassembler. When the frame
// completes a payload, the assembled payload and the accumulated
// correction count are returned with ok true. Duplicate segments are
// ignored; frames that cannot be accepted (no free slot) are dropped.
func (r *Reassembler) Add(now time.Time, f *Frame, corrections int) ([]byte, int, bool) {
	r.expire(now)

	if f.Flags&FlagSegmented == 0 {
		return f.Payload, corrections, true
	}

	slot := r.find(f.Module, f.Seq)
	if slot == nil {
		slot = r.takeFree()
		if slot == nil {
			return nil, 0, false
		}
		slot.inUse = true
		slot.module = f.Module
		slot.seq = f.Seq
		slot.segCount = f.SegCount
		if cap(slot.segments) < int(f.SegCount) {
			slot.segments = make([][]byte, f.SegCount)
		} else {
			slot.segments = slot.segments[:f.SegCount]
			for i := range slot.segments {
				slot.segments[i] = nil
			}
		}
	}

	if f.SegCount != slot.segCount || int(f.SegIndex) >= len(slot.segments) {
		return nil, 0, false
	}
	if slot.segments[f.SegIndex] != nil {
		return nil, 0, false // duplicate
	}

	slot.segments[f.SegIndex] = f.Payload
	slot.have++
	slot.corrections += corrections
	slot.lastUpdate = now

	if slot.have < slot.segCount {
		return nil, 0, false
	}

	var payload []byte
	for _, seg := range slot.segments {
		payload = append(payload, seg...)
	}
	total := slot.corrections
	slot.release()
	return payload, total, true
}

func (r *Reassembler) find(module Module, seq uint32) *partial {
	for i := range r.slots {
		p := &r.slots[i]
		if p.inUse && p.module == module && p.seq == seq {
			return p
		}
	}
	return nil
}

func (r *Reassembler) takeFree() *partial {
	for i := range r.slots {
		if !r.slots[i].inUse {
			return &r.slots[i]
		}
	}
	return nil
}

func (r *Reassembler) expire(now time.Time) {
	for i := range r.slots {
		p := &r.slots[i]
		if p.inUse && now.Sub(p.lastUpdate) > r.timeout {
			p.release()
		}
	}
}

// Pending reports how many reassemblies are in flight.
func (r *Reassembler) Pending() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].inUse {
			n++
		}
	}
	return n
}
