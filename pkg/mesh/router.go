package mesh

import (
	"encoding/hex"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

// Peer is a direct neighbour reachable over an established link.
type Peer interface {
	Fingerprint() string
	Send(data []byte) error
}

// Router is the mesh routing engine. It owns the direct-peer set, the
// routing table and the seen cache; every multi-hop packet passes through
// its ingest pipeline exactly once.
type Router struct {
	localFP  string
	localPub [32]byte
	nickname func() string

	seen  *SeenCache
	table *Table

	mu    sync.RWMutex
	peers map[string]Peer

	seq  atomic.Uint32
	stop chan struct{}
	once sync.Once

	// OnPacketDelivered fires for every non-routed packet addressed to this
	// node or broadcast (channel traffic, route control, announcements).
	OnPacketDelivered func(*protocol.Packet)

	// OnRoutedDelivered fires when a routed envelope reaches its
	// destination here.
	OnRoutedDelivered func(*protocol.RoutedMessage)

	// OnPeerRegistered fires after a direct peer joins the mesh.
	OnPeerRegistered func(fp string)
}

// NewRouter creates a routing engine bound to the local identity. nickname
// supplies the display name for channel control payloads.
func NewRouter(localPub [32]byte, nickname func() string) *Router {
	return &Router{
		localFP:  crypto.Fingerprint(localPub[:]),
		localPub: localPub,
		nickname: nickname,
		seen:     NewSeenCache(protocol.SeenCacheMax),
		table:    NewTable(),
		peers:    make(map[string]Peer),
		stop:     make(chan struct{}),
	}
}

// LocalFingerprint returns the fingerprint of the local static key.
func (r *Router) LocalFingerprint() string { return r.localFP }

// Table exposes the routing table for inspection.
func (r *Router) Table() *Table { return r.table }

// Start launches the periodic routing-table cleanup.
func (r *Router) Start() {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.table.Expire(r.isDirect)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop.
func (r *Router) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// RegisterDirectPeer adds a peer with an established link and seeds its
// hop-count-1 route.
func (r *Router) RegisterDirectPeer(p Peer) {
	fp := p.Fingerprint()
	r.mu.Lock()
	r.peers[fp] = p
	r.mu.Unlock()
	r.table.SetDirect(fp)
	if r.OnPeerRegistered != nil {
		r.OnPeerRegistered(fp)
	}
}

// UnregisterDirectPeer removes a peer after its link is gone.
func (r *Router) UnregisterDirectPeer(fp string) {
	r.mu.Lock()
	delete(r.peers, fp)
	r.mu.Unlock()
	r.table.Remove(fp)
}

// DirectPeers returns the fingerprints of all direct peers.
func (r *Router) DirectPeers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for fp := range r.peers {
		out = append(out, fp)
	}
	return out
}

func (r *Router) isDirect(fp string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[fp]
	return ok
}

func (r *Router) peer(fp string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[fp]
	return p, ok
}

// NextHop resolves the peer to use for dest. Direct peers win; otherwise the
// routing table is consulted and its next hop is validated against the
// current peer set.
func (r *Router) NextHop(dest string) (Peer, bool) {
	if p, ok := r.peer(dest); ok {
		return p, true
	}
	route, ok := r.table.Lookup(dest)
	if !ok {
		return nil, false
	}
	return r.peer(route.NextHop)
}

// ===== ORIGINATION =====

func (r *Router) nextSeq() uint32 {
	return r.seq.Add(1)
}

// SendChannel broadcasts a channel message into the mesh. Large payloads
// ride compressed with the flag set.
func (r *Router) SendChannel(channelName, text string) {
	payload, compressed := crypto.LZ4Compress([]byte(text))
	pkt := &protocol.Packet{
		Version:      protocol.Version2,
		Type:         protocol.TypeChannelMessage,
		SeqNum:       r.nextSeq(),
		SenderID:     protocol.SenderIDFrom(r.localPub[:]),
		TTL:          protocol.DefaultTTL,
		RouteHistory: []string{r.localFP},
		ChannelName:  channelName,
		Payload:      payload,
	}
	if compressed {
		pkt.Flags |= protocol.FlagCompressed
	}
	pkt.OriginatorPub = r.localPub
	r.originate(pkt)
}

// SendChannelControl broadcasts a join, leave or announce packet. The
// payload is the local nickname, with extraData appended after a '|' when
// present.
func (r *Router) SendChannelControl(pktType byte, channelName, extraData string) {
	payload := r.nickname()
	if extraData != "" {
		payload += "|" + extraData
	}
	pkt := &protocol.Packet{
		Version:      protocol.Version2,
		Type:         pktType,
		SeqNum:       r.nextSeq(),
		SenderID:     protocol.SenderIDFrom(r.localPub[:]),
		TTL:          protocol.DefaultTTL,
		RouteHistory: []string{r.localFP},
		ChannelName:  channelName,
		Payload:      []byte(payload),
	}
	pkt.OriginatorPub = r.localPub
	r.originate(pkt)
}

// DiscoverRoute floods a route-discovery request for dest. The local
// fingerprint seeds the route history so the eventual reply carries the full
// path back to us.
func (r *Router) DiscoverRoute(dest string) {
	pkt := &protocol.Packet{
		Version:      protocol.Version2,
		Type:         protocol.TypeRouteDiscovery,
		SeqNum:       r.nextSeq(),
		SenderID:     protocol.SenderIDFrom(r.localPub[:]),
		TTL:          protocol.DefaultTTL,
		RouteHistory: []string{r.localFP},
		Payload:      []byte(dest),
	}
	pkt.OriginatorPub = r.localPub
	r.originate(pkt)
}

// Announce broadcasts a peer-announcement carrying the local nickname.
func (r *Router) Announce() {
	pkt := &protocol.Packet{
		Version:      protocol.Version2,
		Type:         protocol.TypePeerAnnouncement,
		SeqNum:       r.nextSeq(),
		SenderID:     protocol.SenderIDFrom(r.localPub[:]),
		TTL:          protocol.DefaultTTL,
		RouteHistory: []string{r.localFP},
		Payload:      []byte(r.nickname()),
	}
	pkt.OriginatorPub = r.localPub
	r.originate(pkt)
}

// originate records a locally-built broadcast in the seen cache, so a copy
// relayed back to us drops, and sends it to every direct peer.
func (r *Router) originate(pkt *protocol.Packet) {
	r.seen.CheckAndAdd(dedupKey(pkt))
	wire := pkt.Serialize()
	for _, fp := range r.DirectPeers() {
		if p, ok := r.peer(fp); ok {
			if err := p.Send(wire); err != nil {
				log.Printf("mesh: send to %.8s failed: %v", fp, err)
			}
		}
	}
}

// SendRouted originates a routed envelope. Delivery is best-effort: the
// known next hop when one exists, otherwise a flood to all direct peers.
// Returns false when there is no peer to hand the envelope to.
func (r *Router) SendRouted(rm *protocol.RoutedMessage) bool {
	r.seen.CheckAndAdd(rm.ID)
	if !rm.SeenBy(r.localFP) {
		rm.SeenByNodes = append(rm.SeenByNodes, r.localFP)
	}
	pkt := r.wrapRouted(rm)
	pkt.OriginatorPub = r.localPub
	wire := pkt.Serialize()
	if wire == nil {
		return false
	}

	if next, ok := r.NextHop(rm.DestFP); ok {
		return next.Send(wire) == nil
	}
	sent := false
	for _, fp := range r.DirectPeers() {
		if p, ok := r.peer(fp); ok && p.Send(wire) == nil {
			sent = true
		}
	}
	return sent
}

func (r *Router) wrapRouted(rm *protocol.RoutedMessage) *protocol.Packet {
	body, err := rm.Encode()
	if err != nil {
		return &protocol.Packet{}
	}
	return &protocol.Packet{
		Version:  protocol.Version2,
		Type:     protocol.TypeRoutedMessage,
		SeqNum:   r.nextSeq(),
		SenderID: protocol.SenderIDFrom(r.localPub[:]),
		TTL:      byte(rm.TTL),
		Payload:  body,
	}
}

// ===== INGEST =====

// IngestPacket runs the relay pipeline for non-routed mesh traffic: channel
// control, route discovery and replies, announcements.
func (r *Router) IngestPacket(pkt *protocol.Packet) {
	if r.seen.CheckAndAdd(dedupKey(pkt)) {
		return
	}
	if pkt.TTL == 0 {
		return
	}
	// Route replies carry the answer path in their history; they skip the
	// loop check and relay with the history intact.
	isReply := pkt.Type == protocol.TypeRouteReply
	if !isReply && contains(pkt.RouteHistory, r.localFP) {
		return
	}

	r.learnFromHistory(pkt)

	if pkt.Type == protocol.TypeRouteDiscovery && string(pkt.Payload) == r.localFP {
		r.replyToDiscovery(pkt)
		return
	}

	forMe := pkt.DestinationPub == r.localPub
	broadcast := protocol.IsBroadcast(pkt.DestinationPub)

	if forMe || broadcast {
		if r.OnPacketDelivered != nil {
			r.OnPacketDelivered(pkt)
		}
		if forMe {
			return
		}
	}
	r.forwardPacket(pkt, isReply)
}

// IngestRoutedPacket runs the relay pipeline for routed envelopes.
func (r *Router) IngestRoutedPacket(pkt *protocol.Packet) {
	rm, err := protocol.DecodeRoutedMessage(pkt.Payload)
	if err != nil {
		log.Printf("mesh: bad routed envelope: %v", err)
		return
	}
	if r.seen.CheckAndAdd(rm.ID) {
		return
	}
	if rm.TTL <= 0 {
		return
	}
	if rm.SeenBy(r.localFP) {
		return
	}

	if rm.DestFP == r.localFP {
		if r.OnRoutedDelivered != nil {
			r.OnRoutedDelivered(rm)
		}
		return
	}
	if rm.DestFP == "" {
		if r.OnRoutedDelivered != nil {
			r.OnRoutedDelivered(rm)
		}
	}
	r.forwardRouted(pkt, rm)
}

// learnFromHistory opportunistically updates the routing table: the
// originator is reachable via the first fingerprint in the packet's history
// that is currently a direct peer, at a cost of the full history length.
func (r *Router) learnFromHistory(pkt *protocol.Packet) {
	if len(pkt.RouteHistory) == 0 {
		return
	}
	origin := crypto.Fingerprint(pkt.OriginatorPub[:])
	if origin == r.localFP || r.isDirect(origin) {
		return
	}
	for _, h := range pkt.RouteHistory {
		if h == r.localFP {
			continue
		}
		if r.isDirect(h) {
			r.table.Update(origin, h, len(pkt.RouteHistory))
			return
		}
	}
}

// replyToDiscovery answers a route discovery that targets this node. The
// reply's history is the request's history, which is the path from the
// requester to us.
func (r *Router) replyToDiscovery(req *protocol.Packet) {
	reply := &protocol.Packet{
		Version:      protocol.Version2,
		Type:         protocol.TypeRouteReply,
		SeqNum:       r.nextSeq(),
		SenderID:     protocol.SenderIDFrom(r.localPub[:]),
		TTL:          protocol.DefaultTTL,
		RouteHistory: req.RouteHistory,
	}
	reply.OriginatorPub = r.localPub
	reply.DestinationPub = req.OriginatorPub
	r.seen.CheckAndAdd(dedupKey(reply))

	wire := reply.Serialize()
	requester := crypto.Fingerprint(req.OriginatorPub[:])
	if next, ok := r.NextHop(requester); ok {
		if err := next.Send(wire); err == nil {
			return
		}
	}
	for _, fp := range r.DirectPeers() {
		if !contains(req.RouteHistory, fp) {
			r.sendTo(fp, wire)
		}
	}
}

// forwardPacket relays a bare packet: TTL down, hop count up, local
// fingerprint appended to the history (except for route replies, whose
// history is payload), sender rewritten to us.
func (r *Router) forwardPacket(pkt *protocol.Packet, keepHistory bool) {
	fwd := *pkt
	fwd.TTL = pkt.TTL - 1
	fwd.HopCount = pkt.HopCount + 1
	fwd.SenderID = protocol.SenderIDFrom(r.localPub[:])
	if !keepHistory {
		fwd.RouteHistory = append(append([]string(nil), pkt.RouteHistory...), r.localFP)
	}
	wire := fwd.Serialize()
	if wire == nil {
		return
	}

	// For a route reply the history is the delivery path, not a relay
	// trace, so it never disqualifies a next hop.
	broadcast := protocol.IsBroadcast(pkt.DestinationPub)
	if !broadcast {
		dest := crypto.Fingerprint(pkt.DestinationPub[:])
		if next, ok := r.NextHop(dest); ok && (keepHistory || !contains(pkt.RouteHistory, next.Fingerprint())) {
			if next.Send(wire) == nil {
				return
			}
		}
	}
	for _, fp := range r.DirectPeers() {
		if !keepHistory && contains(pkt.RouteHistory, fp) {
			continue
		}
		r.sendTo(fp, wire)
	}
}

// forwardRouted relays a routed envelope toward its destination.
func (r *Router) forwardRouted(pkt *protocol.Packet, rm *protocol.RoutedMessage) {
	seenBefore := rm.SeenByNodes
	rm.TTL--
	rm.SeenByNodes = append(append([]string(nil), seenBefore...), r.localFP)

	body, err := rm.Encode()
	if err != nil {
		return
	}
	fwd := *pkt
	fwd.TTL = byte(rm.TTL)
	fwd.HopCount = pkt.HopCount + 1
	fwd.SenderID = protocol.SenderIDFrom(r.localPub[:])
	fwd.Payload = body
	wire := fwd.Serialize()

	if rm.DestFP != "" {
		if next, ok := r.NextHop(rm.DestFP); ok && !contains(seenBefore, next.Fingerprint()) {
			if next.Send(wire) == nil {
				return
			}
		}
	}
	for _, fp := range r.DirectPeers() {
		if contains(seenBefore, fp) {
			continue
		}
		r.sendTo(fp, wire)
	}
}

func (r *Router) sendTo(fp string, wire []byte) bool {
	p, ok := r.peer(fp)
	if !ok {
		return false
	}
	if err := p.Send(wire); err != nil {
		log.Printf("mesh: send to %.8s failed: %v", fp, err)
		return false
	}
	return true
}

func dedupKey(pkt *protocol.Packet) string {
	return hex.EncodeToString(pkt.OriginatorPub[:]) + ":" + strconv.FormatUint(uint64(pkt.SeqNum), 10)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
