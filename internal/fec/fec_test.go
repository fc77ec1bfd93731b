package fec

import (
	"bytes"
	"testing"
)

func TestCRC32_Basic(t *testing.T) {
	data := []byte("Hello, World!")
	checksum := CRC32(data)

	if checksum == 0 {
		t.Error("CRC32 should not be 0 for non-empty data")
	}

	// Same data should produce same CRC
	checksum2 := CRC32(data)
	if checksum != checksum2 {
		t.Errorf("CRC32 not deterministic: %x != %x", checksum, checksum2)
	}

	// Different data should produce different CRC
	data2 := []byte("Hello, World?")
	checksum3 := CRC32(data2)
	if checksum == checksum3 {
		t.Error("Different data produced same CRC32")
	}
}

func TestRSCoder_RoundTrip(t *testing.T) {
	rs, err := NewRSCoder()
	if err != nil {
		t.Fatalf("Failed to create RS coder: %v", err)
	}

	tests := []struct {
		name string
		size int
	}{
		{"small", 20},
		{"one shard column", 223},
		{"several columns", 900},
		{"max fsk segment", 1561},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i * 13)
			}

			encoded, err := rs.Encode(data)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(encoded) != RSEncodedLen(tt.size) {
				t.Fatalf("encoded length %d, want %d", len(encoded), RSEncodedLen(tt.size))
			}

			decoded, err := rs.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(decoded[:tt.size], data) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestRSCoder_DetectsCorruption(t *testing.T) {
	rs, err := NewRSCoder()
	if err != nil {
		t.Fatalf("Failed to create RS coder: %v", err)
	}

	data := make([]byte, 400)
	for i := range data {
		data[i] = byte(i)
	}

	encoded, err := rs.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	encoded[10] ^= 0xFF
	if _, err := rs.Decode(encoded); err == nil {
		t.Error("Decode accepted corrupted buffer")
	}
}

func TestRSCoder_Empty(t *testing.T) {
	rs, err := NewRSCoder()
	if err != nil {
		t.Fatalf("Failed to create RS coder: %v", err)
	}

	encoded, err := rs.Encode(nil)
	if err != nil || encoded != nil {
		t.Errorf("Encode(nil) = %v, %v", encoded, err)
	}
	decoded, err := rs.Decode(nil)
	if err != nil || decoded != nil {
		t.Errorf("Decode(nil) = %v, %v", decoded, err)
	}
}
