package fec

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

var allRates = []CodingRate{Rate12, Rate23, Rate34, Rate56}

func TestEncodedLen(t *testing.T) {
	tests := []struct {
		name    string
		dataLen int
		rate    CodingRate
		want    int
	}{
		{"empty", 0, Rate12, 0},
		{"one byte", 1, Rate12, 256},
		{"exact block 1/2", 128, Rate12, 256},
		{"block plus one 1/2", 129, Rate12, 512},
		{"exact block 2/3", 170, Rate23, 256},
		{"exact block 3/4", 192, Rate34, 256},
		{"exact block 5/6", 213, Rate56, 256},
		{"max payload 1/2", 2047, Rate12, 16 * 256},
		{"max payload 5/6", 2047, Rate56, 10 * 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodedLen(tt.dataLen, tt.rate); got != tt.want {
				t.Errorf("EncodedLen(%d, %s) = %d, want %d", tt.dataLen, tt.rate, got, tt.want)
			}
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec()

	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.SampledFrom(allRates).Draw(t, "rate")
		data := rapid.SliceOfN(rapid.Byte(), 0, 2047).Draw(t, "data")

		cw, err := c.Encode(data, rate)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(cw) != EncodedLen(len(data), rate) {
			t.Fatalf("codeword length %d, want %d", len(cw), EncodedLen(len(data), rate))
		}

		out, corrections, err := c.Decode(cw, rate)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if corrections != 0 {
			t.Fatalf("clean decode reported %d corrections", corrections)
		}
		if !bytes.Equal(out[:len(data)], data) {
			t.Fatalf("round trip mismatch")
		}
		for _, b := range out[len(data):] {
			if b != 0 {
				t.Fatalf("padding not zero-filled")
			}
		}
	})
}

// One flipped bit per block is within the guaranteed correction capacity of
// the bit-flipping decoder.
func TestCodec_CorrectsSingleBitPerBlock(t *testing.T) {
	c := NewCodec()

	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.SampledFrom(allRates).Draw(t, "rate")
		data := rapid.SliceOfN(rapid.Byte(), 1, 1024).Draw(t, "data")

		cw, err := c.Encode(data, rate)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		flipped := 0
		for off := 0; off < len(cw); off += BlockBytes {
			bit := rapid.IntRange(0, BlockBytes*8-1).Draw(t, "bit")
			cw[off+bit/8] ^= 1 << (uint(bit) % 8)
			flipped++
		}

		out, corrections, err := c.Decode(cw, rate)
		if err != nil {
			t.Fatalf("Decode after %d flips: %v", flipped, err)
		}
		if corrections < flipped {
			t.Fatalf("corrections = %d, want >= %d", corrections, flipped)
		}
		if !bytes.Equal(out[:len(data)], data) {
			t.Fatalf("corrected payload mismatch")
		}
	})
}

// Beyond the correction capacity the decoder may fail or return corrupted
// data, but the recovered length never changes.
func TestCodec_HeavyCorruption(t *testing.T) {
	c := NewCodec()

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 7)
	}

	for _, rate := range allRates {
		cw, err := c.Encode(data, rate)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		for i := 0; i < len(cw); i += 3 {
			cw[i] ^= 0xA5
		}

		out, _, err := c.Decode(cw, rate)
		if err == nil {
			want := len(cw) / BlockBytes * rate.BlockDataBytes()
			if len(out) != want {
				t.Errorf("rate %s: decoded length %d, want %d", rate, len(out), want)
			}
		}
	}
}

func TestCodec_Header(t *testing.T) {
	c := NewCodec()

	hdr := []byte{0xBA, 0x01, 0x02, 0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x03, 0xFF, 0x07, 0x11, 0x22, 0x33, 0x44}
	cw, err := c.EncodeHeader(hdr)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if len(cw) != HeaderBlockBytes {
		t.Fatalf("header codeword length %d, want %d", len(cw), HeaderBlockBytes)
	}

	out, corrections, err := c.DecodeHeader(cw)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if corrections != 0 || !bytes.Equal(out, hdr) {
		t.Fatalf("clean header round trip failed (corrections=%d)", corrections)
	}

	// Single flipped bit must be corrected.
	for bit := 0; bit < HeaderBlockBytes*8; bit += 37 {
		corrupted := make([]byte, len(cw))
		copy(corrupted, cw)
		corrupted[bit/8] ^= 1 << (uint(bit) % 8)

		out, corrections, err := c.DecodeHeader(corrupted)
		if err != nil {
			t.Fatalf("DecodeHeader bit %d: %v", bit, err)
		}
		if corrections == 0 {
			t.Errorf("bit %d: no correction reported", bit)
		}
		if !bytes.Equal(out, hdr) {
			t.Errorf("bit %d: header not recovered", bit)
		}
	}
}

func TestCodec_BadInputs(t *testing.T) {
	c := NewCodec()

	if _, err := c.Encode([]byte{1}, CodingRate(9)); err == nil {
		t.Error("Encode accepted invalid rate")
	}
	if _, _, err := c.Decode(make([]byte, 100), Rate12); err == nil {
		t.Error("Decode accepted codeword not block aligned")
	}
	if _, err := c.EncodeHeader([]byte{1, 2, 3}); err == nil {
		t.Error("EncodeHeader accepted short header")
	}
	if _, _, err := c.DecodeHeader([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeHeader accepted short codeword")
	}
}

func TestParseCodingRate(t *testing.T) {
	for _, rate := range allRates {
		got, err := ParseCodingRate(rate.String())
		if err != nil || got != rate {
			t.Errorf("ParseCodingRate(%q) = %v, %v", rate.String(), got, err)
		}
	}
	if _, err := ParseCodingRate("7/8"); err == nil {
		t.Error("ParseCodingRate accepted unsupported rate")
	}
}
