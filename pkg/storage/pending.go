// Package storage persists node state: the store-and-forward queues for
// offline peers, node settings and the local message history.
package storage

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

// PendingRecord is one queued payload awaiting an offline destination.
// Records are stored one JSON object per line.
type PendingRecord struct {
	MessageID              string `json:"messageId"`
	Timestamp              int64  `json:"timestamp"`
	DestinationFingerprint string `json:"destinationFingerprint"`
	EncryptedPayload       string `json:"encryptedPayloadBase64"`
	Expiry                 int64  `json:"expiry"`
}

// PendingQueue is the per-destination store-and-forward queue, backed by
// pending/<fingerprint>.jsonl files. Payloads are already encrypted; the
// queue never sees plaintext.
type PendingQueue struct {
	dir string
}

// NewPendingQueue creates the queue rooted at dir/pending.
func NewPendingQueue(dir string) (*PendingQueue, error) {
	root := filepath.Join(dir, "pending")
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create pending directory: %w", err)
	}
	return &PendingQueue{dir: root}, nil
}

func (q *PendingQueue) path(destFP string) string {
	return filepath.Join(q.dir, destFP+".jsonl")
}

// Queue appends an encrypted payload for destFP. When the file exceeds the
// per-peer cap the oldest records are discarded so at most the cap remains.
func (q *PendingQueue) Queue(destFP string, encrypted []byte) error {
	now := time.Now()
	rec := PendingRecord{
		MessageID:              uuid.NewString(),
		Timestamp:              now.UnixMilli(),
		DestinationFingerprint: destFP,
		EncryptedPayload:       base64.StdEncoding.EncodeToString(encrypted),
		Expiry:                 now.Add(protocol.QueueExpiry).UnixMilli(),
	}

	records, err := q.read(destFP)
	if err != nil {
		return err
	}
	records = append(records, rec)
	if len(records) > protocol.StoreAndForwardPerPeer {
		records = records[len(records)-protocol.StoreAndForwardPerPeer:]
	}
	return q.write(destFP, records)
}

// Flush returns every unexpired payload for destFP in insertion order and
// deletes the file. A missing file returns an empty slice.
func (q *PendingQueue) Flush(destFP string) ([][]byte, error) {
	records, err := q.read(destFP)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	var out [][]byte
	for _, rec := range records {
		if rec.Expiry < now {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(rec.EncryptedPayload)
		if err != nil {
			continue
		}
		out = append(out, payload)
	}

	if err := os.Remove(q.path(destFP)); err != nil && !os.IsNotExist(err) {
		return out, err
	}
	return out, nil
}

// Depth returns the number of queued records for destFP.
func (q *PendingQueue) Depth(destFP string) int {
	records, err := q.read(destFP)
	if err != nil {
		return 0
	}
	return len(records)
}

// Destinations lists every fingerprint with a non-empty queue.
func (q *PendingQueue) Destinations() []string {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".jsonl" {
			out = append(out, name[:len(name)-len(".jsonl")])
		}
	}
	return out
}

func (q *PendingQueue) read(destFP string) ([]PendingRecord, error) {
	f, err := os.Open(q.path(destFP))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	defer f.Close()

	var records []PendingRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxPayloadFrame)
	for scanner.Scan() {
		var rec PendingRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip torn or corrupt lines
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func (q *PendingQueue) write(destFP string, records []PendingRecord) error {
	tmp := q.path(destFP) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to write queue: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, q.path(destFP))
}
