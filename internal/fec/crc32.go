package fec

import "hash/crc32"

// CRC32 computes the CRC-32 checksum using the IEEE polynomial.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
