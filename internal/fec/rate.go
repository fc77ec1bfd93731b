package fec

import "fmt"

// CodingRate selects one of the supported LDPC payload codes. All payload
// codes share a 2048-bit codeword block; the rate determines how many of
// those bits carry information.
type CodingRate uint8

const (
	Rate12 CodingRate = iota // 1/2
	Rate23                   // 2/3
	Rate34                   // 3/4
	Rate56                   // 5/6

	numRates
)

// Valid reports whether r is one of the supported rates.
func (r CodingRate) Valid() bool {
	return r < numRates
}

func (r CodingRate) String() string {
	switch r {
	case Rate12:
		return "1/2"
	case Rate23:
		return "2/3"
	case Rate34:
		return "3/4"
	case Rate56:
		return "5/6"
	default:
		return fmt.Sprintf("rate(%d)", uint8(r))
	}
}

// BlockDataBytes returns the number of information bytes carried by one
// 256-byte codeword block at this rate.
func (r CodingRate) BlockDataBytes() int {
	switch r {
	case Rate12:
		return 128
	case Rate23:
		return 170
	case Rate34:
		return 192
	case Rate56:
		return 213
	default:
		return 0
	}
}

// ParseCodingRate parses the "n/d" notation used in configuration files.
func ParseCodingRate(s string) (CodingRate, error) {
	for r := Rate12; r < numRates; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("fec: unknown coding rate %q", s)
}

// EncodedLen returns the codeword length produced by Encode for dataLen
// information bytes at the given rate. The final block is zero-padded.
func EncodedLen(dataLen int, rate CodingRate) int {
	bs := rate.BlockDataBytes()
	if bs == 0 || dataLen == 0 {
		return 0
	}
	blocks := (dataLen + bs - 1) / bs
	return blocks * BlockBytes
}
