package protocol

import (
	"encoding/binary"
	"fmt"
)

// ===== FILE TRANSFER =====

// FileMetadata announces an incoming file: identity, size, content hash and
// the chunking scheme. DataShards/ParityShards are zero when the sender did
// not add erasure coding.
type FileMetadata struct {
	FileID       [16]byte // random identifier shared by all chunks
	Name         string
	Size         uint64
	Hash         [32]byte // SHA-256 of the whole file
	ChunkCount   uint16
	ChunkSize    uint32
	DataShards   uint8
	ParityShards uint8
}

// Encode encodes file metadata to bytes.
func (m *FileMetadata) Encode() []byte {
	name := []byte(m.Name)
	size := 16 + 2 + len(name) + 8 + 32 + 2 + 4 + 1 + 1
	buf := make([]byte, size)
	offset := 0

	copy(buf[offset:], m.FileID[:])
	offset += 16

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(name)))
	offset += 2

	copy(buf[offset:], name)
	offset += len(name)

	binary.BigEndian.PutUint64(buf[offset:], m.Size)
	offset += 8

	copy(buf[offset:], m.Hash[:])
	offset += 32

	binary.BigEndian.PutUint16(buf[offset:], m.ChunkCount)
	offset += 2

	binary.BigEndian.PutUint32(buf[offset:], m.ChunkSize)
	offset += 4

	buf[offset] = m.DataShards
	offset++

	buf[offset] = m.ParityShards

	return buf
}

// Decode decodes file metadata from bytes.
func (m *FileMetadata) Decode(buf []byte) error {
	if len(buf) < 66 {
		return fmt.Errorf("buffer too short for file metadata")
	}
	offset := 0

	copy(m.FileID[:], buf[offset:offset+16])
	offset += 16

	nameLen := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2

	if len(buf) < offset+nameLen+48 {
		return fmt.Errorf("buffer too short for file name")
	}
	m.Name = string(buf[offset : offset+nameLen])
	offset += nameLen

	m.Size = binary.BigEndian.Uint64(buf[offset:])
	offset += 8

	copy(m.Hash[:], buf[offset:offset+32])
	offset += 32

	m.ChunkCount = binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	m.ChunkSize = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	m.DataShards = buf[offset]
	offset++

	m.ParityShards = buf[offset]

	return nil
}

// FileChunk carries one chunk of file content. Index counts data chunks
// first, then parity chunks when erasure coding is in use.
type FileChunk struct {
	FileID [16]byte
	Index  uint16
	Total  uint16
	Hash   [32]byte // SHA-256 of Data
	Data   []byte
}

// Encode encodes a file chunk to bytes.
func (c *FileChunk) Encode() []byte {
	size := 16 + 2 + 2 + 32 + 4 + len(c.Data)
	buf := make([]byte, size)
	offset := 0

	copy(buf[offset:], c.FileID[:])
	offset += 16

	binary.BigEndian.PutUint16(buf[offset:], c.Index)
	offset += 2

	binary.BigEndian.PutUint16(buf[offset:], c.Total)
	offset += 2

	copy(buf[offset:], c.Hash[:])
	offset += 32

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(c.Data)))
	offset += 4

	copy(buf[offset:], c.Data)

	return buf
}

// Decode decodes a file chunk from bytes.
func (c *FileChunk) Decode(buf []byte) error {
	if len(buf) < 56 {
		return fmt.Errorf("buffer too short for file chunk")
	}
	offset := 0

	copy(c.FileID[:], buf[offset:offset+16])
	offset += 16

	c.Index = binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	c.Total = binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	copy(c.Hash[:], buf[offset:offset+32])
	offset += 32

	dataLen := binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	if len(buf) < offset+int(dataLen) {
		return fmt.Errorf("buffer too short for chunk data")
	}
	c.Data = make([]byte, dataLen)
	copy(c.Data, buf[offset:offset+int(dataLen)])

	return nil
}

// ===== ACK =====

// Ack acknowledges receipt of a direct message.
type Ack struct {
	MessageID [16]byte
	SeqNum    uint32
	Timestamp uint64
}

// Encode encodes an ack to bytes.
func (a *Ack) Encode() []byte {
	buf := make([]byte, 16+4+8)
	copy(buf, a.MessageID[:])
	binary.BigEndian.PutUint32(buf[16:], a.SeqNum)
	binary.BigEndian.PutUint64(buf[20:], a.Timestamp)
	return buf
}

// Decode decodes an ack from bytes.
func (a *Ack) Decode(buf []byte) error {
	if len(buf) < 28 {
		return fmt.Errorf("buffer too short for ack")
	}
	copy(a.MessageID[:], buf[:16])
	a.SeqNum = binary.BigEndian.Uint32(buf[16:])
	a.Timestamp = binary.BigEndian.Uint64(buf[20:])
	return nil
}
