package protocol

import "time"

// Protocol constants
const (
	// Wire versions
	Version1 byte = 1
	Version2 byte = 2

	// Minimum frame sizes including the CRC trailer
	V1HeaderSize = 26
	V2HeaderSize = 93

	// Routing limits
	MaxHops    = 7
	DefaultTTL = 7

	// Delivery
	AckWindow       = 10
	MaxPayloadFrame = 10 * 1024 * 1024

	// Routing table
	RouteExpiry = 5 * time.Minute

	// Deduplication
	SeenCacheMax = 10000

	// Store and forward
	StoreAndForwardPerPeer = 100
	QueueExpiry            = 7 * 24 * time.Hour
)

// Packet types
const (
	// User traffic (0x0x)
	TypeTextMessage  byte = 0x01
	TypeFileMetadata byte = 0x02
	TypeFileChunk    byte = 0x03
	TypeAck          byte = 0x04

	// Handshake (0x1x)
	TypeNoiseMsg1 byte = 0x10
	TypeNoiseMsg2 byte = 0x11
	TypeNoiseMsg3 byte = 0x12

	// Mesh (0x2x)
	TypeRoutedMessage   byte = 0x20
	TypeChannelMessage  byte = 0x21
	TypeChannelJoin     byte = 0x22
	TypeChannelLeave    byte = 0x23
	TypeRouteDiscovery  byte = 0x24
	TypeRouteReply      byte = 0x25
	TypeChannelAnnounce byte = 0x26

	// Presence (0x3x)
	TypePeerAnnouncement byte = 0x30
)

// Flags
const (
	FlagCompressed byte = 0x01 // Payload is LZ4 compressed
)

// SenderIDSize is the length of the sender identifier field.
const SenderIDSize = 16

// PubKeySize is the length of the originator and destination key fields.
const PubKeySize = 32

// TypeName returns a printable name for a packet type byte.
func TypeName(t byte) string {
	switch t {
	case TypeTextMessage:
		return "text-message"
	case TypeFileMetadata:
		return "file-metadata"
	case TypeFileChunk:
		return "file-chunk"
	case TypeAck:
		return "ack"
	case TypeNoiseMsg1:
		return "noise-msg-1"
	case TypeNoiseMsg2:
		return "noise-msg-2"
	case TypeNoiseMsg3:
		return "noise-msg-3"
	case TypeRoutedMessage:
		return "routed-message"
	case TypeChannelMessage:
		return "channel-message"
	case TypeChannelJoin:
		return "channel-join"
	case TypeChannelLeave:
		return "channel-leave"
	case TypeRouteDiscovery:
		return "route-discovery"
	case TypeRouteReply:
		return "route-reply"
	case TypeChannelAnnounce:
		return "channel-announce"
	case TypePeerAnnouncement:
		return "peer-announcement"
	}
	return "unknown"
}

// IsBroadcast reports whether dest is the all-zero broadcast key.
func IsBroadcast(dest [PubKeySize]byte) bool {
	zero := [PubKeySize]byte{}
	return dest == zero
}
