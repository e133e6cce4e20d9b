package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Message delivery states.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
)

// StoredMessage is one chat history row.
type StoredMessage struct {
	ID          int64
	MessageID   string
	PeerFP      string // remote party fingerprint
	ChannelName string // empty for direct messages
	Content     string
	Timestamp   int64
	Status      string
	IsOutgoing  bool
}

// History is the SQLite-backed local chat history.
type History struct {
	db *sql.DB
}

// OpenHistory opens (and if needed creates) messages.db under dir.
func OpenHistory(dir string) (*History, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, "messages.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL keeps the write path from blocking readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			peer_fp TEXT NOT NULL,
			channel_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			is_outgoing INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_peer_fp ON messages(peer_fp);
		CREATE INDEX IF NOT EXISTS idx_channel ON messages(channel_name);
		CREATE INDEX IF NOT EXISTS idx_timestamp ON messages(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &History{db: db}, nil
}

// Save inserts a message row.
func (h *History) Save(msg *StoredMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	res, err := h.db.Exec(
		`INSERT INTO messages (message_id, peer_fp, channel_name, content, timestamp, status, is_outgoing)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.PeerFP, msg.ChannelName, msg.Content,
		msg.Timestamp, msg.Status, boolToInt(msg.IsOutgoing),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	return err
}

// SetStatus updates the delivery status of a message.
func (h *History) SetStatus(messageID, status string) error {
	res, err := h.db.Exec(`UPDATE messages SET status = ? WHERE message_id = ?`, status, messageID)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Conversation returns the most recent limit messages exchanged with a
// peer, oldest first.
func (h *History) Conversation(peerFP string, limit int) ([]*StoredMessage, error) {
	return h.query(
		`SELECT id, message_id, peer_fp, channel_name, content, timestamp, status, is_outgoing
		 FROM messages WHERE peer_fp = ? AND channel_name = ''
		 ORDER BY timestamp DESC LIMIT ?`, peerFP, limit)
}

// ChannelHistory returns the most recent limit messages in a channel,
// oldest first.
func (h *History) ChannelHistory(channelName string, limit int) ([]*StoredMessage, error) {
	return h.query(
		`SELECT id, message_id, peer_fp, channel_name, content, timestamp, status, is_outgoing
		 FROM messages WHERE channel_name = ?
		 ORDER BY timestamp DESC LIMIT ?`, channelName, limit)
}

func (h *History) query(q string, args ...any) ([]*StoredMessage, error) {
	rows, err := h.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*StoredMessage
	for rows.Next() {
		var msg StoredMessage
		var outgoing int
		if err := rows.Scan(&msg.ID, &msg.MessageID, &msg.PeerFP, &msg.ChannelName,
			&msg.Content, &msg.Timestamp, &msg.Status, &outgoing); err != nil {
			return nil, err
		}
		msg.IsOutgoing = outgoing != 0
		out = append(out, &msg)
	}
	// Reverse to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
