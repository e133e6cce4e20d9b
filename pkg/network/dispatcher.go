package network

import (
	"log"

	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

// Dispatcher is the single entry point for inbound frames. It parses each
// frame and fans out by packet type. Handlers run on the link's read
// goroutine; anything slow must hand off.
type Dispatcher struct {
	// OnMessage receives text messages, acks and handshake messages, which
	// all need the per-peer session context.
	OnMessage func(address string, pkt *protocol.Packet)

	// OnFile receives file metadata and chunk packets.
	OnFile func(address string, pkt *protocol.Packet)

	// OnRouted receives routed-message envelopes.
	OnRouted func(pkt *protocol.Packet)

	// OnRouteControl receives route-discovery and route-reply packets.
	OnRouteControl func(pkt *protocol.Packet)

	// OnChannel receives channel traffic; the handler re-submits the packet
	// to the routing engine for forwarding.
	OnChannel func(address string, pkt *protocol.Packet)

	// OnAnnouncement receives peer announcements.
	OnAnnouncement func(address string, pkt *protocol.Packet)
}

// Ingest parses one frame and routes it. Unparseable frames are dropped
// with a log line.
func (d *Dispatcher) Ingest(address string, frame []byte) {
	pkt := protocol.Parse(frame)
	if pkt == nil {
		log.Printf("network: dropping unparseable %d-byte frame from %s", len(frame), address)
		return
	}

	switch pkt.Type {
	case protocol.TypeTextMessage, protocol.TypeAck,
		protocol.TypeNoiseMsg1, protocol.TypeNoiseMsg2, protocol.TypeNoiseMsg3:
		if d.OnMessage != nil {
			d.OnMessage(address, pkt)
		}
	case protocol.TypeFileMetadata, protocol.TypeFileChunk:
		if d.OnFile != nil {
			d.OnFile(address, pkt)
		}
	case protocol.TypeRoutedMessage:
		if d.OnRouted != nil {
			d.OnRouted(pkt)
		}
	case protocol.TypeRouteDiscovery, protocol.TypeRouteReply:
		if d.OnRouteControl != nil {
			d.OnRouteControl(pkt)
		}
	case protocol.TypeChannelMessage, protocol.TypeChannelJoin,
		protocol.TypeChannelLeave, protocol.TypeChannelAnnounce:
		if d.OnChannel != nil {
			d.OnChannel(address, pkt)
		}
	case protocol.TypePeerAnnouncement:
		if d.OnAnnouncement != nil {
			d.OnAnnouncement(address, pkt)
		}
	default:
		log.Printf("network: unknown packet type 0x%02x from %s", pkt.Type, address)
	}
}
