// Package files implements file transfer over the mesh: sender-side
// chunking with optional Reed-Solomon parity for lossy radio links, and
// receiver-side reassembly with per-chunk integrity checks.
package files

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/reedsolomon"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

const (
	// DefaultChunkSize fits a chunk comfortably inside one radio frame.
	DefaultChunkSize = 8 * 1024

	// Default parity geometry for lossy links: any 10 of 15 chunks
	// reconstruct the file.
	DefaultDataShards   = 10
	DefaultParityShards = 5
)

var (
	ErrHashMismatch = errors.New("file hash mismatch")
	ErrChunkCorrupt = errors.New("chunk hash mismatch")
	ErrIncomplete   = errors.New("not enough chunks to reconstruct")
	ErrUnknownFile  = errors.New("no transfer in progress for file")
)

// Split prepares a file for sending: metadata plus the ordered chunk list.
// withParity adds Reed-Solomon parity chunks so the receiver can survive
// lost frames.
func Split(name string, content []byte, withParity bool) (*protocol.FileMetadata, []*protocol.FileChunk, error) {
	if len(content) == 0 {
		return nil, nil, errors.New("empty file")
	}

	meta := &protocol.FileMetadata{
		Name:      name,
		Size:      uint64(len(content)),
		ChunkSize: DefaultChunkSize,
	}
	if _, err := rand.Read(meta.FileID[:]); err != nil {
		return nil, nil, err
	}
	copy(meta.Hash[:], crypto.SHA256(content))

	var shards [][]byte
	if withParity {
		meta.DataShards = DefaultDataShards
		meta.ParityShards = DefaultParityShards

		enc, err := reedsolomon.New(DefaultDataShards, DefaultParityShards)
		if err != nil {
			return nil, nil, err
		}
		shards, err = enc.Split(content)
		if err != nil {
			return nil, nil, err
		}
		if err := enc.Encode(shards); err != nil {
			return nil, nil, err
		}
	} else {
		for off := 0; off < len(content); off += DefaultChunkSize {
			end := off + DefaultChunkSize
			if end > len(content) {
				end = len(content)
			}
			shards = append(shards, content[off:end])
		}
	}

	meta.ChunkCount = uint16(len(shards))
	chunks := make([]*protocol.FileChunk, len(shards))
	for i, shard := range shards {
		c := &protocol.FileChunk{
			FileID: meta.FileID,
			Index:  uint16(i),
			Total:  meta.ChunkCount,
			Data:   shard,
		}
		copy(c.Hash[:], crypto.SHA256(shard))
		chunks[i] = c
	}
	return meta, chunks, nil
}

// transfer is the receive state for one incoming file.
type transfer struct {
	meta    *protocol.FileMetadata
	chunks  [][]byte
	got     int
	started time.Time
}

// Receiver reassembles incoming files from metadata and chunk packets.
type Receiver struct {
	mu        sync.Mutex
	transfers map[[16]byte]*transfer
}

// NewReceiver creates an empty receiver.
func NewReceiver() *Receiver {
	return &Receiver{transfers: make(map[[16]byte]*transfer)}
}

// HandleMetadata opens the receive state for an announced file.
func (r *Receiver) HandleMetadata(meta *protocol.FileMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transfers[meta.FileID]; ok {
		return
	}
	r.transfers[meta.FileID] = &transfer{
		meta:    meta,
		chunks:  make([][]byte, meta.ChunkCount),
		started: time.Now(),
	}
}

// HandleChunk consumes one chunk. Once enough chunks are present the file
// is reconstructed, verified against the announced hash and returned; until
// then it returns (nil, nil). Corrupt chunks are dropped, not fatal.
func (r *Receiver) HandleChunk(c *protocol.FileChunk) ([]byte, *protocol.FileMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.transfers[c.FileID]
	if !ok {
		return nil, nil, ErrUnknownFile
	}
	if int(c.Index) >= len(tr.chunks) {
		return nil, nil, ErrChunkCorrupt
	}
	if !bytes.Equal(crypto.SHA256(c.Data), c.Hash[:]) {
		return nil, nil, ErrChunkCorrupt
	}
	if tr.chunks[c.Index] == nil {
		tr.chunks[c.Index] = append([]byte(nil), c.Data...)
		tr.got++
	}

	needed := int(tr.meta.ChunkCount)
	if tr.meta.DataShards > 0 {
		needed = int(tr.meta.DataShards)
	}
	if tr.got < needed {
		return nil, nil, nil
	}

	content, err := reconstruct(tr)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(crypto.SHA256(content), tr.meta.Hash[:]) {
		return nil, nil, ErrHashMismatch
	}
	delete(r.transfers, c.FileID)
	return content, tr.meta, nil
}

func reconstruct(tr *transfer) ([]byte, error) {
	if tr.meta.DataShards == 0 {
		// Plain chunking: every chunk is required and concatenates in order.
		var out []byte
		for _, c := range tr.chunks {
			if c == nil {
				return nil, ErrIncomplete
			}
			out = append(out, c...)
		}
		return out, nil
	}

	enc, err := reedsolomon.New(int(tr.meta.DataShards), int(tr.meta.ParityShards))
	if err != nil {
		return nil, err
	}
	shards := make([][]byte, len(tr.chunks))
	copy(shards, tr.chunks)
	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	var buf bytes.Buffer
	if err := enc.Join(&buf, shards, int(tr.meta.Size)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pending returns the number of in-flight transfers.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}
