package utils

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32C uses the Castagnoli polynomial for better error detection.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC32C computes CRC32C checksum for the given data.
func ComputeCRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// VerifyCRC32C verifies that the given CRC matches the data.
func VerifyCRC32C(data []byte, expected uint32) bool {
	return ComputeCRC32C(data) == expected
}

// AppendCRC32C appends the CRC32C of data to data, little-endian.
func AppendCRC32C(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(data, ComputeCRC32C(data))
}

// ReadCRC32C reads a CRC32C value from a byte slice at the specified offset.
func ReadCRC32C(data []byte, offset int) uint32 {
	if offset < 0 || offset+4 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint32(data[offset:])
}
