package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RoutedMessage is the relay envelope carried in a routed-message packet.
// The payload is opaque ciphertext; relays never see plaintext. SeenByNodes
// lists the fingerprints of every node that has handled the envelope and is
// the loop-prevention record for multi-hop delivery.
type RoutedMessage struct {
	ID          string   `json:"id"`
	OriginFP    string   `json:"origin"`
	DestFP      string   `json:"dest,omitempty"` // empty means broadcast
	TTL         int      `json:"ttl"`
	SeenByNodes []string `json:"seenBy,omitempty"`
	Payload     []byte   `json:"payload"`
	Timestamp   int64    `json:"ts"`
}

// NewRoutedMessage wraps an encrypted payload for mesh delivery.
func NewRoutedMessage(originFP, destFP string, payload []byte) *RoutedMessage {
	return &RoutedMessage{
		ID:        uuid.NewString(),
		OriginFP:  originFP,
		DestFP:    destFP,
		TTL:       DefaultTTL,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode serialises the envelope for transport inside a packet payload.
func (m *RoutedMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeRoutedMessage parses a routed-message packet payload.
func DecodeRoutedMessage(data []byte) (*RoutedMessage, error) {
	var m RoutedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SeenBy reports whether fp already handled this envelope.
func (m *RoutedMessage) SeenBy(fp string) bool {
	for _, s := range m.SeenByNodes {
		if s == fp {
			return true
		}
	}
	return false
}
