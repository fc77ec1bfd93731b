package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// RSCoder wraps Reed-Solomon encoding/decoding with RS(255,223). It is the
// payload coder for the FSK low-rate modulation mode, where the 2048-bit
// LDPC block would not fit a practical airtime budget. RS parity recovers
// erasures and detects residual corruption; validation is left to the frame
// checksum.
type RSCoder struct {
	enc        reedsolomon.Encoder
	dataShards int
	parShards  int
}

const (
	rsDataShards   = 223
	rsParityShards = 32
)

// NewRSCoder creates an RS(255,223) coder.
func NewRSCoder() (*RSCoder, error) {
	enc, err := reedsolomon.New(rsDataShards, rsParityShards)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}
	return &RSCoder{
		enc:        enc,
		dataShards: rsDataShards,
		parShards:  rsParityShards,
	}, nil
}

// Encode adds Reed-Solomon parity to the data. Output length is
// RSEncodedLen(len(data)).
func (rs *RSCoder) Encode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	shards := rs.splitData(data)
	if err := rs.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	result := make([]byte, 0, (rs.dataShards+rs.parShards)*len(shards[0]))
	for _, shard := range shards {
		result = append(result, shard...)
	}
	return result, nil
}

// Decode recovers the original data (including shard padding) from an
// encoded buffer, verifying the parity.
func (rs *RSCoder) Decode(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, nil
	}

	shards, err := rs.splitEncoded(encoded)
	if err != nil {
		return nil, err
	}

	if err := rs.enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	ok, err := rs.enc.Verify(shards)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if !ok {
		return nil, ErrDecodeFailure
	}

	var result []byte
	for i := 0; i < rs.dataShards; i++ {
		result = append(result, shards[i]...)
	}
	return result, nil
}

// RSEncodedLen returns the encoded length for dataLen input bytes.
func RSEncodedLen(dataLen int) int {
	if dataLen == 0 {
		return 0
	}
	shardSize := (dataLen + rsDataShards - 1) / rsDataShards
	return (rsDataShards + rsParityShards) * shardSize
}

func (rs *RSCoder) splitData(data []byte) [][]byte {
	totalShards := rs.dataShards + rs.parShards
	shardSize := (len(data) + rs.dataShards - 1) / rs.dataShards

	shards := make([][]byte, totalShards)
	for i := 0; i < rs.dataShards; i++ {
		shards[i] = make([]byte, shardSize)
		start := i * shardSize
		end := start + shardSize
		if start < len(data) {
			if end > len(data) {
				end = len(data)
			}
			copy(shards[i], data[start:end])
		}
	}
	for i := rs.dataShards; i < totalShards; i++ {
		shards[i] = make([]byte, shardSize)
	}
	return shards
}

func (rs *RSCoder) splitEncoded(encoded []byte) ([][]byte, error) {
	totalShards := rs.dataShards + rs.parShards
	shardSize := len(encoded) / totalShards
	if shardSize == 0 || len(encoded)%totalShards != 0 {
		return nil, fmt.Errorf("encoded data size %d not divisible by %d shards", len(encoded), totalShards)
	}

	shards := make([][]byte, totalShards)
	for i := 0; i < totalShards; i++ {
		shards[i] = make([]byte, shardSize)
		copy(shards[i], encoded[i*shardSize:(i+1)*shardSize])
	}
	return shards, nil
}
