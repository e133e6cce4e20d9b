package network

import (
	"encoding/binary"
	"errors"
	"sync"
)

// The packet-oriented transport (a GATT characteristic) carries one write
// per frame with no length prefix, and large frames must be split to the
// negotiated MTU. Each chunk is msgId(4) | index(2) | total(2) | data.

const chunkHeaderSize = 8

var ErrChunkMismatch = errors.New("chunk does not match reassembly state")

// ChunkFrame splits frame into MTU-sized chunks under msgID. mtu must
// exceed the chunk header size.
func ChunkFrame(msgID uint32, frame []byte, mtu int) ([][]byte, error) {
	if mtu <= chunkHeaderSize {
		return nil, errors.New("mtu too small for chunk header")
	}
	dataPer := mtu - chunkHeaderSize
	total := (len(frame) + dataPer - 1) / dataPer
	if total == 0 {
		total = 1
	}
	if total > 0xFFFF {
		return nil, errors.New("frame needs too many chunks")
	}

	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * dataPer
		end := start + dataPer
		if end > len(frame) {
			end = len(frame)
		}
		chunk := make([]byte, chunkHeaderSize+end-start)
		binary.BigEndian.PutUint32(chunk[0:4], msgID)
		binary.BigEndian.PutUint16(chunk[4:6], uint16(i))
		binary.BigEndian.PutUint16(chunk[6:8], uint16(total))
		copy(chunk[chunkHeaderSize:], frame[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Reassembler rebuilds frames from chunks arriving in any order. One
// reassembler serves one link.
type Reassembler struct {
	mu      sync.Mutex
	pending map[uint32]*partial
}

type partial struct {
	total  int
	got    int
	chunks [][]byte
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[uint32]*partial)}
}

// Add consumes one chunk. It returns the whole frame once every chunk of
// its message has arrived, nil otherwise.
func (r *Reassembler) Add(chunk []byte) ([]byte, error) {
	if len(chunk) < chunkHeaderSize {
		return nil, ErrChunkMismatch
	}
	msgID := binary.BigEndian.Uint32(chunk[0:4])
	index := int(binary.BigEndian.Uint16(chunk[4:6]))
	total := int(binary.BigEndian.Uint16(chunk[6:8]))
	if total == 0 || index >= total {
		return nil, ErrChunkMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[msgID]
	if !ok {
		p = &partial{total: total, chunks: make([][]byte, total)}
		r.pending[msgID] = p
	}
	if p.total != total {
		delete(r.pending, msgID)
		return nil, ErrChunkMismatch
	}
	if p.chunks[index] == nil {
		p.chunks[index] = append([]byte(nil), chunk[chunkHeaderSize:]...)
		p.got++
	}
	if p.got < p.total {
		return nil, nil
	}

	delete(r.pending, msgID)
	var frame []byte
	for _, c := range p.chunks {
		frame = append(frame, c...)
	}
	return frame, nil
}
