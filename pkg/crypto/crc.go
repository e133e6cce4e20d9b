package crypto

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32 computes the CRC-32/ISO-HDLC checksum of data as 4 big-endian bytes.
func CRC32(data []byte) [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], crc32.ChecksumIEEE(data))
	return out
}

// VerifyCRC32 reports whether the last 4 bytes of frame match the checksum of
// everything before them.
func VerifyCRC32(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	body := frame[:len(frame)-4]
	want := binary.BigEndian.Uint32(frame[len(frame)-4:])
	return crc32.ChecksumIEEE(body) == want
}
