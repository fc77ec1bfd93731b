package fec

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

const (
	// BlockBytes is the payload codeword block size (2048 bits).
	BlockBytes = 256

	// HeaderBlockBytes is the codeword size of the fixed rate-1/2 header
	// code (256 bits), HeaderDataBytes its information size.
	HeaderBlockBytes = 32
	HeaderDataBytes  = 16

	// maxIterations bounds the bit-flipping decode loop per block.
	maxIterations = 20
)

// ErrDecodeFailure is returned when the iteration budget exhausts without
// reaching a zero syndrome. The codeword is uncorrectable.
var ErrDecodeFailure = errors.New("fec: uncorrectable codeword")

// ldpcCode is a systematic LDPC code with parity-check matrix H = [A | I].
// Data columns have weight 3 and no two data columns share more than one
// check row, so any single flipped bit per block is always corrected by
// the bit-flipping decoder.
type ldpcCode struct {
	k, m    int     // information / parity bits, both byte-aligned
	colRows [][]int // check rows per data column, len k
	rowCols [][]int // data columns per check row, len m
}

func newLDPCCode(k, m int, seed int64) *ldpcCode {
	rng := rand.New(rand.NewSource(seed))
	c := &ldpcCode{
		k:       k,
		m:       m,
		colRows: make([][]int, k),
		rowCols: make([][]int, m),
	}

	pairKey := func(a, b int) int {
		if a > b {
			a, b = b, a
		}
		return a*m + b
	}
	used := make(map[int]struct{}, 3*k)

	for col := 0; col < k; col++ {
		var rows [3]int
		for attempt := 0; ; attempt++ {
			rows[0] = rng.Intn(m)
			rows[1] = rng.Intn(m)
			rows[2] = rng.Intn(m)
			if rows[0] == rows[1] || rows[1] == rows[2] || rows[0] == rows[2] {
				continue
			}
			p01 := pairKey(rows[0], rows[1])
			p02 := pairKey(rows[0], rows[2])
			p12 := pairKey(rows[1], rows[2])
			if attempt < 10000 {
				if _, ok := used[p01]; ok {
					continue
				}
				if _, ok := used[p02]; ok {
					continue
				}
				if _, ok := used[p12]; ok {
					continue
				}
			}
			used[p01] = struct{}{}
			used[p02] = struct{}{}
			used[p12] = struct{}{}
			break
		}
		c.colRows[col] = []int{rows[0], rows[1], rows[2]}
		for _, r := range rows {
			c.rowCols[r] = append(c.rowCols[r], col)
		}
	}

	return c
}

func (c *ldpcCode) codewordBytes() int { return (c.k + c.m) / 8 }
func (c *ldpcCode) dataBytes() int     { return c.k / 8 }

// encodeBlock writes the systematic codeword (data bits followed by parity
// bits) for one block. len(data) must be dataBytes, len(out) codewordBytes.
func (c *ldpcCode) encodeBlock(data, out []byte) {
	copy(out, data[:c.dataBytes()])
	parity := out[c.dataBytes():]
	for i := range parity {
		parity[i] = 0
	}
	for r, cols := range c.rowCols {
		bit := byte(0)
		for _, col := range cols {
			bit ^= getBit(data, col)
		}
		if bit != 0 {
			setBit(parity, r)
		}
	}
}

// decodeBlock runs the bounded bit-flipping decode over one codeword block
// and returns the recovered information bytes plus the number of bit flips
// applied. The returned slice aliases scratch and is only valid until the
// next decode call.
func (c *ldpcCode) decodeBlock(cw []byte, scratch *ldpcScratch) ([]byte, int, error) {
	bits := scratch.bits[:c.codewordBytes()]
	copy(bits, cw[:c.codewordBytes()])
	unsat := scratch.unsat[:c.m]
	counts := scratch.counts[:c.k]

	corrections := 0
	for iter := 0; iter < maxIterations; iter++ {
		if c.syndrome(bits, unsat) == 0 {
			return bits[:c.dataBytes()], corrections, nil
		}

		for i := range counts {
			counts[i] = 0
		}
		best, bestCount := -1, 1
		for r := range unsat {
			if !unsat[r] {
				continue
			}
			for _, col := range c.rowCols[r] {
				counts[col]++
				if int(counts[col]) > bestCount {
					best, bestCount = col, int(counts[col])
				}
			}
		}

		if best >= 0 {
			flipBit(bits, best)
			corrections++
			continue
		}

		// No data bit is implicated by two or more checks; the remaining
		// disagreements can only be parity-bit errors.
		for r := range unsat {
			if unsat[r] {
				flipBit(bits, c.k+r)
				corrections++
			}
		}
	}

	if c.syndrome(bits, unsat) != 0 {
		return nil, corrections, ErrDecodeFailure
	}
	return bits[:c.dataBytes()], corrections, nil
}

// syndrome fills unsat with the per-check parity result and returns the
// number of unsatisfied checks.
func (c *ldpcCode) syndrome(bits []byte, unsat []bool) int {
	n := 0
	for r, cols := range c.rowCols {
		s := getBit(bits, c.k+r)
		for _, col := range cols {
			s ^= getBit(bits, col)
		}
		unsat[r] = s != 0
		if s != 0 {
			n++
		}
	}
	return n
}

type ldpcScratch struct {
	bits   []byte
	unsat  []bool
	counts []byte
}

// Code parameters are deterministic: each code is grown from a fixed seed
// so both ends of a link agree on the parity-check matrix.
var (
	codesOnce    sync.Once
	payloadCodes [numRates]*ldpcCode
	headerCode   *ldpcCode
)

func initCodes() {
	headerCode = newLDPCCode(HeaderDataBytes*8, (HeaderBlockBytes-HeaderDataBytes)*8, 0xC0DE00)
	for r := Rate12; r < numRates; r++ {
		k := r.BlockDataBytes() * 8
		payloadCodes[r] = newLDPCCode(k, BlockBytes*8-k, 0xC0DE01+int64(r))
	}
}

// Codec encodes and decodes LDPC codewords. It reuses internal working
// buffers and is therefore not safe for concurrent use; each radio module
// owns its own instance.
type Codec struct {
	scratch ldpcScratch
}

// NewCodec builds the shared code tables on first use and returns a codec.
func NewCodec() *Codec {
	codesOnce.Do(initCodes)
	return &Codec{
		scratch: ldpcScratch{
			bits:   make([]byte, BlockBytes),
			unsat:  make([]bool, BlockBytes*8),
			counts: make([]byte, BlockBytes*8),
		},
	}
}

// Encode produces the codeword for data at the given rate. The final block
// is zero-padded; the framing layer strips the padding via the header
// length field on the far side.
func (c *Codec) Encode(data []byte, rate CodingRate) ([]byte, error) {
	if !rate.Valid() {
		return nil, fmt.Errorf("fec: invalid coding rate %d", rate)
	}
	if len(data) == 0 {
		return nil, nil
	}

	code := payloadCodes[rate]
	bs := code.dataBytes()
	out := make([]byte, EncodedLen(len(data), rate))
	blockIn := make([]byte, bs)

	blk := 0
	for off := 0; off < len(data); off += bs {
		for i := range blockIn {
			blockIn[i] = 0
		}
		copy(blockIn, data[off:])
		code.encodeBlock(blockIn, out[blk*BlockBytes:(blk+1)*BlockBytes])
		blk++
	}
	return out, nil
}

// Decode recovers the information bytes from a codeword, reporting the
// total number of bit corrections applied across all blocks. A block that
// fails to converge within the iteration budget yields ErrDecodeFailure.
func (c *Codec) Decode(cw []byte, rate CodingRate) ([]byte, int, error) {
	if !rate.Valid() {
		return nil, 0, fmt.Errorf("fec: invalid coding rate %d", rate)
	}
	if len(cw) == 0 {
		return nil, 0, nil
	}
	if len(cw)%BlockBytes != 0 {
		return nil, 0, fmt.Errorf("fec: codeword length %d not a multiple of %d", len(cw), BlockBytes)
	}

	code := payloadCodes[rate]
	out := make([]byte, 0, len(cw)/BlockBytes*code.dataBytes())
	corrections := 0

	for off := 0; off < len(cw); off += BlockBytes {
		data, n, err := code.decodeBlock(cw[off:off+BlockBytes], &c.scratch)
		corrections += n
		if err != nil {
			return nil, corrections, err
		}
		out = append(out, data...)
	}
	return out, corrections, nil
}

// EncodeHeader encodes one 16-byte header with the fixed rate-1/2 header
// code.
func (c *Codec) EncodeHeader(hdr []byte) ([]byte, error) {
	if len(hdr) != HeaderDataBytes {
		return nil, fmt.Errorf("fec: header must be %d bytes, got %d", HeaderDataBytes, len(hdr))
	}
	out := make([]byte, HeaderBlockBytes)
	headerCode.encodeBlock(hdr, out)
	return out, nil
}

// DecodeHeader decodes and corrects one header codeword.
func (c *Codec) DecodeHeader(cw []byte) ([]byte, int, error) {
	if len(cw) < HeaderBlockBytes {
		return nil, 0, fmt.Errorf("fec: header codeword must be %d bytes, got %d", HeaderBlockBytes, len(cw))
	}
	data, n, err := headerCode.decodeBlock(cw, &c.scratch)
	if err != nil {
		return nil, n, err
	}
	out := make([]byte, HeaderDataBytes)
	copy(out, data)
	return out, n, nil
}

func getBit(b []byte, i int) byte {
	return (b[i>>3] >> (uint(i) & 7)) & 1
}

func setBit(b []byte, i int) {
	b[i>>3] |= 1 << (uint(i) & 7)
}

func flipBit(b []byte, i int) {
	b[i>>3] ^= 1 << (uint(i) & 7)
}
