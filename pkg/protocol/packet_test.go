package protocol

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func TestPacketRoundTripV1(t *testing.T) {
	tests := []struct {
		name    string
		packet  *Packet
		payload []byte
	}{
		{
			name: "text message",
			packet: &Packet{
				Version: Version1,
				Type:    TypeTextMessage,
				SeqNum:  42,
				Payload: []byte("hello"),
			},
		},
		{
			name: "empty payload",
			packet: &Packet{
				Version: Version1,
				Type:    TypeAck,
				SeqNum:  0xFFFFFFFF,
				Payload: []byte{},
			},
		},
		{
			name: "noise msg",
			packet: &Packet{
				Version: Version1,
				Type:    TypeNoiseMsg1,
				SeqNum:  1,
				Payload: bytes.Repeat([]byte{0xEE}, 32),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			copy(tt.packet.SenderID[:], bytes.Repeat([]byte{0xAA}, 16))

			wire := tt.packet.Serialize()
			if len(wire) != V1HeaderSize+len(tt.packet.Payload) {
				t.Errorf("Serialize() length = %d, want %d", len(wire), V1HeaderSize+len(tt.packet.Payload))
			}

			parsed := Parse(wire)
			if parsed == nil {
				t.Fatal("Parse() = nil for valid frame")
			}
			if parsed.Version != Version1 || parsed.Type != tt.packet.Type {
				t.Errorf("header mismatch: version=%d type=%#x", parsed.Version, parsed.Type)
			}
			if parsed.SeqNum != tt.packet.SeqNum {
				t.Errorf("SeqNum = %d, want %d", parsed.SeqNum, tt.packet.SeqNum)
			}
			if parsed.SenderID != tt.packet.SenderID {
				t.Error("SenderID mismatch")
			}
			if !bytes.Equal(parsed.Payload, tt.packet.Payload) {
				t.Error("payload mismatch")
			}
			// v2-only fields stay zero
			if parsed.HopCount != 0 || parsed.TTL != 0 || !IsBroadcast(parsed.DestinationPub) {
				t.Error("v1 parse populated v2 fields")
			}
		})
	}
}

func TestPacketRoundTripV2WithMetadata(t *testing.T) {
	p := &Packet{
		Version:      Version2,
		Type:         TypeChannelMessage,
		SeqNum:       0x01020304,
		HopCount:     2,
		TTL:          5,
		ChannelName:  "#general",
		RouteHistory: []string{"ab", "cd"},
		Payload:      []byte("hi"),
	}
	copy(p.SenderID[:], bytes.Repeat([]byte{0xAA}, 16))
	copy(p.OriginatorPub[:], bytes.Repeat([]byte{0xBB}, 32))

	wire := p.Serialize()

	meta, _ := json.Marshal(packetMetadata{RouteHistory: p.RouteHistory, ChannelName: p.ChannelName})
	wantLen := V2HeaderSize + 4 + len(meta) + len(p.Payload)
	if len(wire) != wantLen {
		t.Errorf("Serialize() length = %d, want %d", len(wire), wantLen)
	}

	parsed := Parse(wire)
	if parsed == nil {
		t.Fatal("Parse() = nil for valid frame")
	}
	if !reflect.DeepEqual(parsed, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", parsed, p)
	}
}

func TestPacketRoundTripV2Bare(t *testing.T) {
	p := &Packet{
		Version:  Version2,
		Type:     TypeRoutedMessage,
		SeqNum:   7,
		HopCount: 0,
		TTL:      DefaultTTL,
		Payload:  []byte("ciphertext bytes"),
	}
	copy(p.OriginatorPub[:], bytes.Repeat([]byte{0x11}, 32))
	copy(p.DestinationPub[:], bytes.Repeat([]byte{0x22}, 32))
	p.SenderID = SenderIDFrom(p.OriginatorPub[:])

	parsed := Parse(p.Serialize())
	if parsed == nil {
		t.Fatal("Parse() = nil for valid frame")
	}
	if !reflect.DeepEqual(parsed, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", parsed, p)
	}
}

func TestParseRejectsCorruption(t *testing.T) {
	p := &Packet{
		Version:     Version2,
		Type:        TypeChannelMessage,
		SeqNum:      99,
		TTL:         3,
		ChannelName: "#ops",
		Payload:     []byte("payload"),
	}
	wire := p.Serialize()

	// Flipping any bit outside the checksum must fail the parse.
	for i := 0; i < len(wire)-4; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), wire...)
			corrupted[i] ^= 1 << bit
			if Parse(corrupted) != nil {
				t.Fatalf("Parse() accepted frame with bit %d of byte %d flipped", bit, i)
			}
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", make([]byte, V1HeaderSize-1)},
		{"unknown version", append([]byte{9}, make([]byte, 40)...)},
		{"v2 below minimum", func() []byte {
			p := &Packet{Version: Version1, Type: TypeTextMessage}
			wire := p.Serialize()
			wire[0] = Version2 // claims v2 but is only v1-sized; CRC also breaks
			return wire
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Parse(tt.data) != nil {
				t.Error("Parse() accepted malformed frame")
			}
		})
	}
}

func TestMetadataJSONFailureKeepsPayload(t *testing.T) {
	// A payload that starts with a plausible length prefix but junk JSON must
	// survive parsing untouched.
	payload := []byte{4, 0, 0, 0, 'n', 'o', 'p', 'e', 'r', 'e', 's', 't'}
	p := &Packet{
		Version: Version2,
		Type:    TypeTextMessage,
		SeqNum:  1,
		TTL:     1,
		Payload: payload,
	}
	parsed := Parse(p.Serialize())
	if parsed == nil {
		t.Fatal("Parse() = nil")
	}
	if !bytes.Equal(parsed.Payload, payload) {
		t.Errorf("payload modified: got %v", parsed.Payload)
	}
}

func TestCopyKeyPadsAndTruncates(t *testing.T) {
	var dst [32]byte

	CopyKey(dst[:], []byte{1, 2, 3})
	if dst[0] != 1 || dst[3] != 0 || dst[31] != 0 {
		t.Error("CopyKey() did not zero-pad short input")
	}

	long := bytes.Repeat([]byte{0x7F}, 40)
	CopyKey(dst[:], long)
	if !bytes.Equal(dst[:], long[:32]) {
		t.Error("CopyKey() did not truncate long input")
	}
}

func TestFileMetadataRoundTrip(t *testing.T) {
	m := &FileMetadata{
		Name:         "photo.jpg",
		Size:         123456,
		ChunkCount:   15,
		ChunkSize:    8192,
		DataShards:   10,
		ParityShards: 5,
	}
	copy(m.FileID[:], bytes.Repeat([]byte{0x33}, 16))
	copy(m.Hash[:], bytes.Repeat([]byte{0x44}, 32))

	decoded := &FileMetadata{}
	if err := decoded.Decode(m.Encode()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, m) {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}

	if err := decoded.Decode(make([]byte, 10)); err == nil {
		t.Error("Decode() accepted short buffer")
	}
}

func TestFileChunkRoundTrip(t *testing.T) {
	c := &FileChunk{
		Index: 3,
		Total: 15,
		Data:  []byte("chunk content"),
	}
	copy(c.FileID[:], bytes.Repeat([]byte{0x33}, 16))
	copy(c.Hash[:], bytes.Repeat([]byte{0x55}, 32))

	decoded := &FileChunk{}
	if err := decoded.Decode(c.Encode()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, c) {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}
}

func TestAckRoundTrip(t *testing.T) {
	a := &Ack{SeqNum: 77, Timestamp: 1700000000000}
	copy(a.MessageID[:], bytes.Repeat([]byte{0x66}, 16))

	decoded := &Ack{}
	if err := decoded.Decode(a.Encode()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if *decoded != *a {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}
}
