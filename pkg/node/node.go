// Package node assembles the protocol engine: identity, sessions, links,
// dispatch, routing, channels and store-and-forward, exposed through a
// narrow event and command surface that a shell binds to.
package node

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Thrinadh-25/MeshIt/pkg/channel"
	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
	"github.com/Thrinadh-25/MeshIt/pkg/files"
	"github.com/Thrinadh-25/MeshIt/pkg/identity"
	"github.com/Thrinadh-25/MeshIt/pkg/mesh"
	"github.com/Thrinadh-25/MeshIt/pkg/network"
	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
	"github.com/Thrinadh-25/MeshIt/pkg/storage"
)

// AnnounceInterval paces peer and channel announcements.
const AnnounceInterval = 30 * time.Second

// Config configures a node.
type Config struct {
	DataDir  string
	Nickname string
	Dialer   network.Dialer
}

// Node is one running MeshIt protocol instance.
type Node struct {
	Identity *identity.Identity
	Settings *storage.Settings
	Trust    *identity.TrustStore

	sessions   *network.SessionManager
	manager    *network.ConnectionManager
	dispatcher *network.Dispatcher
	router     *mesh.Router
	channels   *channel.Service
	pending    *storage.PendingQueue
	history    *storage.History
	receiver   *files.Receiver

	seq    atomic.Uint32
	userID [16]byte // raw node UUID, the v1 sender field

	mu        sync.RWMutex
	addrToFP  map[string]string
	fpToAddr  map[string]string
	nicknames map[string]string
	dialed    map[string]bool

	stop chan struct{}
	once sync.Once

	// OnDirectMessage fires for a decrypted private message.
	OnDirectMessage func(fromFP, text string)

	// OnChannelMessage fires for a channel message, local deliveries only.
	OnChannelMessage func(channelName, fromNick, text string)

	// OnFileReceived fires when an incoming file fully reassembles.
	OnFileReceived func(name string, content []byte)

	// OnPeerConnected fires when a peer completes its handshake.
	OnPeerConnected func(fp, nickname string)

	// OnPeerDisconnected fires when a peer's link goes away.
	OnPeerDisconnected func(fp string)
}

// New creates a node from persisted state under cfg.DataDir.
func New(cfg Config) (*Node, error) {
	settings, err := storage.LoadSettings(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if cfg.Nickname != "" && cfg.Nickname != settings.Nickname {
		if err := settings.SetNickname(cfg.Nickname); err != nil {
			return nil, err
		}
	}

	store, err := identity.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	id, err := identity.LoadOrCreate(store, settings.Nickname)
	if err != nil {
		return nil, err
	}

	trust, err := identity.LoadTrustStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	pending, err := storage.NewPendingQueue(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	history, err := storage.OpenHistory(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Identity:  id,
		Settings:  settings,
		Trust:     trust,
		sessions:  network.NewSessionManager(id.StaticPriv, id.StaticPub),
		pending:   pending,
		history:   history,
		receiver:  files.NewReceiver(),
		addrToFP:  make(map[string]string),
		fpToAddr:  make(map[string]string),
		nicknames: make(map[string]string),
		dialed:    make(map[string]bool),
		stop:      make(chan struct{}),
	}

	if uid, err := uuid.Parse(settings.UserID); err == nil {
		n.userID = uid
	}

	n.router = mesh.NewRouter(id.StaticPub, func() string { return n.Settings.Nickname })
	n.router.OnPacketDelivered = n.handleMeshDelivery
	n.router.OnRoutedDelivered = n.handleRoutedDelivery

	n.channels = channel.NewService(id.Fingerprint(), func() string { return n.Settings.Nickname }, n.router)

	n.manager = network.NewConnectionManager(cfg.Dialer)
	n.manager.OnConnected = n.handleLinkUp
	n.manager.OnDisconnected = n.handleLinkDown
	n.dispatcher = &network.Dispatcher{
		OnMessage:      n.handleMessage,
		OnFile:         n.handleFile,
		OnRouted:       func(pkt *protocol.Packet) { n.router.IngestRoutedPacket(pkt) },
		OnRouteControl: func(pkt *protocol.Packet) { n.router.IngestPacket(pkt) },
		OnChannel:      n.handleChannel,
		OnAnnouncement: n.handleAnnouncement,
	}
	n.manager.OnData = n.dispatcher.Ingest

	return n, nil
}

// Start launches the routing cleanup and announce loops.
func (n *Node) Start() {
	n.router.Start()
	go n.announceLoop()
	log.Printf("node %s (%s) up", n.Identity.ShortFingerprint(), n.Settings.Nickname)
}

// Stop tears the node down.
func (n *Node) Stop() {
	n.once.Do(func() { close(n.stop) })
	n.router.Stop()
	n.manager.Close()
	n.history.Close()
}

// Router exposes the routing engine.
func (n *Node) Router() *mesh.Router { return n.router }

// Channels exposes the channel service.
func (n *Node) Channels() *channel.Service { return n.channels }

// Manager exposes the connection manager (the transport adapter feeds
// accepted links into it).
func (n *Node) Manager() *network.ConnectionManager { return n.manager }

// ===== CONNECTION LIFECYCLE =====

// ConnectTo dials a peer and initiates the session handshake.
func (n *Node) ConnectTo(address string) error {
	n.mu.Lock()
	n.dialed[address] = true
	n.mu.Unlock()
	return n.manager.Connect(address)
}

func (n *Node) handleLinkUp(address string) {
	n.mu.RLock()
	initiator := n.dialed[address]
	n.mu.RUnlock()
	if !initiator {
		return // responder waits for msg1
	}

	msg1, err := n.sessions.StartHandshake(address)
	if err != nil {
		log.Printf("node: handshake start with %s failed: %v", address, err)
		return
	}
	n.sendHandshake(address, protocol.TypeNoiseMsg1, msg1)
}

func (n *Node) handleLinkDown(address string) {
	n.mu.Lock()
	fp, ok := n.addrToFP[address]
	delete(n.addrToFP, address)
	if ok {
		delete(n.fpToAddr, fp)
	}
	delete(n.dialed, address)
	n.mu.Unlock()

	if !ok {
		return
	}
	n.sessions.Drop(fp)
	n.router.UnregisterDirectPeer(fp)
	if n.OnPeerDisconnected != nil {
		n.OnPeerDisconnected(fp)
	}
}

// sendHandshake wraps a handshake payload in a v1 frame; the sender field
// carries the node UUID rather than a key prefix.
func (n *Node) sendHandshake(address string, pktType byte, payload []byte) {
	pkt := &protocol.Packet{
		Version:  protocol.Version1,
		Type:     pktType,
		SenderID: n.userID,
		Payload:  payload,
	}
	if !n.manager.Send(address, pkt.Serialize()) {
		log.Printf("node: handshake send to %s failed", address)
	}
}

// completeHandshake installs the peer once its static key is proven.
func (n *Node) completeHandshake(address string) {
	remote, ok := n.sessions.RemoteStatic(address)
	if !ok {
		return
	}
	fp := crypto.Fingerprint(remote[:])
	n.sessions.Rename(address, fp)

	n.mu.Lock()
	n.addrToFP[address] = fp
	n.fpToAddr[fp] = address
	n.mu.Unlock()

	n.router.RegisterDirectPeer(&peerHandle{node: n, fp: fp})
	log.Printf("node: session established with %.8s", fp)

	if n.OnPeerConnected != nil {
		n.OnPeerConnected(fp, n.nicknameOf(fp))
	}
	n.flushPending(fp)
}

// peerHandle adapts a connected peer to the router's Peer contract.
type peerHandle struct {
	node *Node
	fp   string
}

func (p *peerHandle) Fingerprint() string { return p.fp }

func (p *peerHandle) Send(data []byte) error {
	p.node.mu.RLock()
	addr, ok := p.node.fpToAddr[p.fp]
	p.node.mu.RUnlock()
	if !ok {
		return network.ErrNotConnected
	}
	if !p.node.manager.Send(addr, data) {
		return network.ErrNotConnected
	}
	return nil
}

// ===== INBOUND DISPATCH =====

func (n *Node) handleMessage(address string, pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeNoiseMsg1:
		msg2, err := n.sessions.HandleMsg1(address, pkt.Payload)
		if err != nil {
			log.Printf("node: handshake msg1 from %s: %v", address, err)
			return
		}
		n.sendHandshake(address, protocol.TypeNoiseMsg2, msg2)

	case protocol.TypeNoiseMsg2:
		msg3, err := n.sessions.HandleMsg2(address, pkt.Payload)
		if err != nil {
			log.Printf("node: handshake msg2 from %s: %v", address, err)
			return
		}
		n.sendHandshake(address, protocol.TypeNoiseMsg3, msg3)
		n.completeHandshake(address)

	case protocol.TypeNoiseMsg3:
		if err := n.sessions.HandleMsg3(address, pkt.Payload); err != nil {
			log.Printf("node: handshake msg3 from %s: %v", address, err)
			return
		}
		n.completeHandshake(address)

	case protocol.TypeTextMessage:
		n.handleDirectText(address, pkt)

	case protocol.TypeAck:
		var ack protocol.Ack
		if err := ack.Decode(pkt.Payload); err == nil {
			n.history.SetStatus(ackHistoryID(ack.SeqNum), storage.StatusDelivered) //nolint:errcheck
		}
	}
}

func (n *Node) handleDirectText(address string, pkt *protocol.Packet) {
	fp := n.fingerprintFor(address)
	if fp == "" {
		return
	}
	plain, err := n.sessions.DecryptFrom(fp, pkt.Payload)
	if err != nil {
		log.Printf("node: undecryptable direct message from %.8s", fp)
		return
	}
	text := string(plain)

	n.history.Save(&storage.StoredMessage{ //nolint:errcheck
		MessageID: fmt.Sprintf("in-%s-%d", fp[:8], pkt.SeqNum),
		PeerFP:    fp,
		Content:   text,
		Status:    storage.StatusDelivered,
	})
	n.sendAck(address, pkt.SeqNum)

	if n.OnDirectMessage != nil {
		n.OnDirectMessage(fp, text)
	}
}

func (n *Node) sendAck(address string, seq uint32) {
	ack := protocol.Ack{SeqNum: seq, Timestamp: uint64(time.Now().UnixMilli())}
	pkt := &protocol.Packet{
		Version:  protocol.Version1,
		Type:     protocol.TypeAck,
		SeqNum:   seq,
		SenderID: n.userID,
		Payload:  ack.Encode(),
	}
	n.manager.Send(address, pkt.Serialize())
}

func (n *Node) handleFile(address string, pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeFileMetadata:
		var meta protocol.FileMetadata
		if err := meta.Decode(pkt.Payload); err != nil {
			log.Printf("node: bad file metadata from %s: %v", address, err)
			return
		}
		n.receiver.HandleMetadata(&meta)

	case protocol.TypeFileChunk:
		var chunk protocol.FileChunk
		if err := chunk.Decode(pkt.Payload); err != nil {
			log.Printf("node: bad file chunk from %s: %v", address, err)
			return
		}
		content, meta, err := n.receiver.HandleChunk(&chunk)
		if err != nil {
			log.Printf("node: file chunk from %s: %v", address, err)
			return
		}
		if content != nil && n.OnFileReceived != nil {
			n.OnFileReceived(meta.Name, content)
		}
	}
}

// handleChannel hands channel traffic to the routing engine, which
// delivers it locally (side effects run in handleMeshDelivery) and relays
// it onward.
func (n *Node) handleChannel(address string, pkt *protocol.Packet) {
	n.router.IngestPacket(pkt)
}

func (n *Node) handleAnnouncement(address string, pkt *protocol.Packet) {
	n.router.IngestPacket(pkt)
}

// handleMeshDelivery consumes packets the routing engine delivered locally.
func (n *Node) handleMeshDelivery(pkt *protocol.Packet) {
	originFP := crypto.Fingerprint(pkt.OriginatorPub[:])

	switch pkt.Type {
	case protocol.TypeChannelMessage:
		payload := pkt.Payload
		if pkt.Flags&protocol.FlagCompressed != 0 {
			out, err := crypto.LZ4Decompress(payload, 0)
			if err != nil {
				log.Printf("node: bad compressed channel payload from %.8s", originFP)
				return
			}
			payload = out
		}
		text := string(payload)
		nick := n.nicknameOf(originFP)
		n.channels.HandleRemoteMessage(pkt.ChannelName, originFP, nick)
		n.history.Save(&storage.StoredMessage{ //nolint:errcheck
			MessageID:   fmt.Sprintf("ch-%s-%d", originFP[:8], pkt.SeqNum),
			PeerFP:      originFP,
			ChannelName: pkt.ChannelName,
			Content:     text,
			Status:      storage.StatusDelivered,
		})
		if n.OnChannelMessage != nil {
			n.OnChannelMessage(pkt.ChannelName, nick, text)
		}

	case protocol.TypeChannelJoin:
		nick := string(pkt.Payload)
		n.setNickname(originFP, nick)
		n.channels.HandleRemoteJoin(pkt.ChannelName, originFP, nick)

	case protocol.TypeChannelLeave:
		n.channels.HandleRemoteLeave(pkt.ChannelName, originFP)

	case protocol.TypeChannelAnnounce:
		nick, extra := splitControlPayload(string(pkt.Payload))
		n.setNickname(originFP, nick)
		count := 0
		fmt.Sscanf(extra, "%d", &count) //nolint:errcheck
		n.channels.HandleRemoteAnnounce(pkt.ChannelName, count)

	case protocol.TypePeerAnnouncement:
		n.setNickname(originFP, string(pkt.Payload))
		n.flushPending(originFP)
	}
}

// handleRoutedDelivery decrypts a routed envelope addressed to us.
func (n *Node) handleRoutedDelivery(rm *protocol.RoutedMessage) {
	plain, err := n.sessions.DecryptFrom(rm.OriginFP, rm.Payload)
	if err != nil {
		log.Printf("node: undecryptable routed message from %.8s", rm.OriginFP)
		return
	}
	text := string(plain)
	n.history.Save(&storage.StoredMessage{ //nolint:errcheck
		MessageID: rm.ID,
		PeerFP:    rm.OriginFP,
		Content:   text,
		Status:    storage.StatusDelivered,
	})
	if n.OnDirectMessage != nil {
		n.OnDirectMessage(rm.OriginFP, text)
	}
}

// ===== OUTBOUND COMMANDS =====

// SendPrivate encrypts text for destFP and sends it through the mesh,
// falling back to the store-and-forward queue when no path exists.
func (n *Node) SendPrivate(destFP, text string) error {
	encrypted, err := n.sessions.EncryptFor(destFP, []byte(text))
	if err != nil {
		return err
	}

	rm := protocol.NewRoutedMessage(n.Identity.Fingerprint(), destFP, encrypted)
	n.history.Save(&storage.StoredMessage{ //nolint:errcheck
		MessageID:  rm.ID,
		PeerFP:     destFP,
		Content:    text,
		Status:     storage.StatusSent,
		IsOutgoing: true,
	})

	if n.router.SendRouted(rm) {
		return nil
	}
	if err := n.pending.Queue(destFP, encrypted); err != nil {
		return err
	}
	n.history.SetStatus(rm.ID, storage.StatusPending) //nolint:errcheck
	log.Printf("node: %.8s offline, message queued", destFP)
	return nil
}

// SendDirectText sends text to a directly-connected peer over its link,
// session-encrypted, and records it for ack tracking.
func (n *Node) SendDirectText(destFP, text string) error {
	addr := n.addressFor(destFP)
	if addr == "" {
		return network.ErrNotConnected
	}
	encrypted, err := n.sessions.EncryptFor(destFP, []byte(text))
	if err != nil {
		return err
	}

	seq := n.seq.Add(1)
	pkt := &protocol.Packet{
		Version:  protocol.Version2,
		Type:     protocol.TypeTextMessage,
		SeqNum:   seq,
		SenderID: protocol.SenderIDFrom(n.Identity.StaticPub[:]),
		TTL:      1,
		Payload:  encrypted,
	}
	pkt.OriginatorPub = n.Identity.StaticPub

	n.history.Save(&storage.StoredMessage{ //nolint:errcheck
		MessageID:  ackHistoryID(seq),
		PeerFP:     destFP,
		Content:    text,
		Status:     storage.StatusSent,
		IsOutgoing: true,
	})
	if !n.manager.Send(addr, pkt.Serialize()) {
		return network.ErrNotConnected
	}
	return nil
}

// SendFile chunks content (with parity) and sends it to a direct peer.
func (n *Node) SendFile(destFP, name string, content []byte) error {
	addr := n.addressFor(destFP)
	if addr == "" {
		return network.ErrNotConnected
	}

	meta, chunks, err := files.Split(name, content, true)
	if err != nil {
		return err
	}

	if !n.sendDirect(addr, protocol.TypeFileMetadata, meta.Encode()) {
		return network.ErrNotConnected
	}
	for _, c := range chunks {
		if !n.sendDirect(addr, protocol.TypeFileChunk, c.Encode()) {
			return network.ErrNotConnected
		}
	}
	return nil
}

func (n *Node) sendDirect(address string, pktType byte, payload []byte) bool {
	pkt := &protocol.Packet{
		Version:  protocol.Version2,
		Type:     pktType,
		SenderID: protocol.SenderIDFrom(n.Identity.StaticPub[:]),
		TTL:      1,
		Payload:  payload,
	}
	pkt.OriginatorPub = n.Identity.StaticPub
	return n.manager.Send(address, pkt.Serialize())
}

// SendChannelMessage broadcasts text into a joined channel, compressing
// large payloads.
func (n *Node) SendChannelMessage(channelName, text string) error {
	return n.channels.Send(channelName, text)
}

// flushPending drains the store-and-forward queue for a peer that appeared.
func (n *Node) flushPending(fp string) {
	payloads, err := n.pending.Flush(fp)
	if err != nil {
		log.Printf("node: flush for %.8s failed: %v", fp, err)
		return
	}
	for _, encrypted := range payloads {
		rm := protocol.NewRoutedMessage(n.Identity.Fingerprint(), fp, encrypted)
		n.router.SendRouted(rm)
	}
	if len(payloads) > 0 {
		log.Printf("node: flushed %d queued messages to %.8s", len(payloads), fp)
	}
}

// ===== HELPERS =====

func (n *Node) announceLoop() {
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.router.Announce()
			n.channels.AnnounceAll()
		case <-n.stop:
			return
		}
	}
}

func (n *Node) fingerprintFor(address string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.addrToFP[address]
}

func (n *Node) addressFor(fp string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fpToAddr[fp]
}

func (n *Node) setNickname(fp, nick string) {
	if nick == "" {
		return
	}
	n.mu.Lock()
	n.nicknames[fp] = nick
	n.mu.Unlock()
}

func (n *Node) nicknameOf(fp string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if nick, ok := n.nicknames[fp]; ok {
		return nick
	}
	if len(fp) >= 8 {
		return fp[:8]
	}
	return fp
}

func splitControlPayload(payload string) (nick, extra string) {
	if i := strings.IndexByte(payload, '|'); i >= 0 {
		return payload[:i], payload[i+1:]
	}
	return payload, ""
}

func ackHistoryID(seq uint32) string {
	return fmt.Sprintf("out-%d", seq)
}
