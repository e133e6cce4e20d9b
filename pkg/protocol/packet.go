// Package protocol defines the MeshIt wire format: the framed packet codec
// for both wire versions, the session handshake messages and the payload
// records carried inside packets.
//
// v1 frame: version(1) | type(1) | seqNum(4 BE) | senderId(16) | payload | crc32(4)
// v2 frame: v1 fields plus originatorPubKey(32) | destinationPubKey(32) |
// hopCount(1) | flags(1) | ttl(1) before the payload.
//
// A v2 payload may begin with a metadata block
// metaLen(4 LE) | JSON{routeHistory, channelName} | realPayload; the codec
// strips it transparently on parse. The CRC-32/ISO-HDLC trailer covers every
// preceding byte; a mismatch drops the frame.
package protocol

import (
	"encoding/binary"
	"encoding/json"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
)

// Packet is a parsed MeshIt frame.
type Packet struct {
	Version byte
	Type    byte
	SeqNum  uint32

	// SenderID is the first 16 bytes of the originator public key for v2
	// frames, or a raw node UUID for v1.
	SenderID [SenderIDSize]byte

	// v2-only fields; zero for v1 frames.
	OriginatorPub  [PubKeySize]byte
	DestinationPub [PubKeySize]byte
	HopCount       byte
	Flags          byte
	TTL            byte

	// Metadata carried in the v2 payload prefix.
	RouteHistory []string
	ChannelName  string

	Payload []byte
}

// packetMetadata is the JSON block optionally prefixed to a v2 payload.
type packetMetadata struct {
	RouteHistory []string `json:"routeHistory,omitempty"`
	ChannelName  string   `json:"channelName,omitempty"`
}

// Serialize encodes p into a wire frame. The version field selects the
// layout; unknown versions yield nil.
func (p *Packet) Serialize() []byte {
	switch p.Version {
	case Version1:
		return p.serializeV1()
	case Version2:
		return p.serializeV2()
	}
	return nil
}

func (p *Packet) serializeV1() []byte {
	buf := make([]byte, 0, V1HeaderSize+len(p.Payload))
	buf = append(buf, Version1, p.Type)
	buf = binary.BigEndian.AppendUint32(buf, p.SeqNum)
	buf = append(buf, p.SenderID[:]...)
	buf = append(buf, p.Payload...)
	return appendCRC(buf)
}

func (p *Packet) serializeV2() []byte {
	payload := p.Payload
	if len(p.RouteHistory) > 0 || p.ChannelName != "" {
		meta, err := json.Marshal(packetMetadata{
			RouteHistory: p.RouteHistory,
			ChannelName:  p.ChannelName,
		})
		if err == nil {
			combined := make([]byte, 0, 4+len(meta)+len(payload))
			combined = binary.LittleEndian.AppendUint32(combined, uint32(int32(len(meta))))
			combined = append(combined, meta...)
			combined = append(combined, payload...)
			payload = combined
		}
	}

	buf := make([]byte, 0, V2HeaderSize+len(payload))
	buf = append(buf, Version2, p.Type)
	buf = binary.BigEndian.AppendUint32(buf, p.SeqNum)
	buf = append(buf, p.SenderID[:]...)
	buf = append(buf, p.OriginatorPub[:]...)
	buf = append(buf, p.DestinationPub[:]...)
	buf = append(buf, p.HopCount, p.Flags, p.TTL)
	buf = append(buf, payload...)
	return appendCRC(buf)
}

// Parse decodes a wire frame. It returns nil for anything malformed: short
// frames, unknown versions and CRC mismatches.
func Parse(data []byte) *Packet {
	if len(data) < V1HeaderSize {
		return nil
	}
	switch data[0] {
	case Version1:
		return parseV1(data)
	case Version2:
		return parseV2(data)
	}
	return nil
}

func parseV1(data []byte) *Packet {
	if len(data) < V1HeaderSize || !checkCRC(data) {
		return nil
	}
	p := &Packet{
		Version: Version1,
		Type:    data[1],
		SeqNum:  binary.BigEndian.Uint32(data[2:6]),
	}
	copy(p.SenderID[:], data[6:22])
	p.Payload = append([]byte(nil), data[22:len(data)-4]...)
	return p
}

func parseV2(data []byte) *Packet {
	if len(data) < V2HeaderSize || !checkCRC(data) {
		return nil
	}
	p := &Packet{
		Version: Version2,
		Type:    data[1],
		SeqNum:  binary.BigEndian.Uint32(data[2:6]),
	}
	copy(p.SenderID[:], data[6:22])
	copy(p.OriginatorPub[:], data[22:54])
	copy(p.DestinationPub[:], data[54:86])
	p.HopCount = data[86]
	p.Flags = data[87]
	p.TTL = data[88]
	p.Payload = append([]byte(nil), data[89:len(data)-4]...)
	p.stripMetadata()
	return p
}

// stripMetadata peels a leading metadata block off the payload. A payload
// that merely resembles one (bad length, bad JSON) is left untouched.
func (p *Packet) stripMetadata() {
	if len(p.Payload) < 4 {
		return
	}
	metaLen := int(int32(binary.LittleEndian.Uint32(p.Payload[:4])))
	if metaLen <= 0 || 4+metaLen > len(p.Payload) {
		return
	}
	var meta packetMetadata
	if err := json.Unmarshal(p.Payload[4:4+metaLen], &meta); err != nil {
		return
	}
	p.RouteHistory = meta.RouteHistory
	p.ChannelName = meta.ChannelName
	p.Payload = p.Payload[4+metaLen:]
}

func appendCRC(buf []byte) []byte {
	sum := crypto.CRC32(buf)
	return append(buf, sum[:]...)
}

func checkCRC(data []byte) bool {
	return crypto.VerifyCRC32(data)
}

// CopyKey copies src into a fixed-width key field, zero-padding short input
// and truncating long input.
func CopyKey(dst []byte, src []byte) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, src)
}

// SenderIDFrom derives the sender identifier from an originator public key.
func SenderIDFrom(pub []byte) [SenderIDSize]byte {
	var id [SenderIDSize]byte
	copy(id[:], pub)
	return id
}
