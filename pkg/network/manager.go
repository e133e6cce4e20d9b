package network

import (
	"log"
	"sync"
	"time"
)

// MaxRetries bounds outbound connect attempts per address.
const MaxRetries = 3

// ConnectionManager owns every live link, at most one per remote address.
// Each link gets a background read loop; connect and disconnect bookkeeping
// is serialised by a single mutex.
type ConnectionManager struct {
	dialer Dialer

	mu    sync.Mutex
	links map[string]*managedLink

	// backoff returns the wait before retry attempt n; overridable in tests.
	backoff func(attempt int) time.Duration

	// OnConnected fires after a link is registered, outbound or inbound.
	OnConnected func(address string)

	// OnDisconnected fires once per link teardown.
	OnDisconnected func(address string)

	// OnData fires for every frame read off a link.
	OnData func(address string, frame []byte)
}

type managedLink struct {
	link    Link
	writeMu sync.Mutex
	closed  bool
}

// NewConnectionManager creates a manager dialing through dialer. A nil
// dialer manager still accepts incoming links.
func NewConnectionManager(dialer Dialer) *ConnectionManager {
	return &ConnectionManager{
		dialer:  dialer,
		links:   make(map[string]*managedLink),
		backoff: func(attempt int) time.Duration { return time.Duration(1<<attempt) * time.Second },
	}
}

// Connect establishes an outbound link to address. An existing link counts
// as success. Failed dials retry with exponential backoff up to MaxRetries.
func (m *ConnectionManager) Connect(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[address]; ok {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(m.backoff(attempt))
		}
		link, err := m.dialer.Dial(address)
		if err != nil {
			lastErr = err
			continue
		}
		m.register(address, link)
		return nil
	}
	return lastErr
}

// RegisterIncoming adopts a link accepted by the transport adapter. An
// existing link for the same address is closed and replaced.
func (m *ConnectionManager) RegisterIncoming(link Link) {
	address := link.RemoteAddr()
	m.mu.Lock()
	if old, ok := m.links[address]; ok {
		old.closed = true
		old.link.Close()
		delete(m.links, address)
	}
	m.register(address, link)
	m.mu.Unlock()
}

// register stores the link and starts its read loop. Caller holds the lock.
func (m *ConnectionManager) register(address string, link Link) {
	ml := &managedLink{link: link}
	m.links[address] = ml
	go m.readLoop(address, ml)
	if m.OnConnected != nil {
		go m.OnConnected(address)
	}
}

// Send writes one framed packet to the link for address. Returns false when
// no link exists or the write fails; a failed write tears the link down.
func (m *ConnectionManager) Send(address string, data []byte) bool {
	m.mu.Lock()
	ml, ok := m.links[address]
	m.mu.Unlock()
	if !ok {
		return false
	}

	ml.writeMu.Lock()
	err := WriteFrame(ml.link, data)
	ml.writeMu.Unlock()
	if err != nil {
		log.Printf("network: write to %s failed: %v", address, err)
		m.Disconnect(address)
		return false
	}
	return true
}

// Disconnect closes and forgets the link for address.
func (m *ConnectionManager) Disconnect(address string) {
	m.mu.Lock()
	ml, ok := m.links[address]
	if ok {
		ml.closed = true
		ml.link.Close()
		delete(m.links, address)
	}
	m.mu.Unlock()

	if ok && m.OnDisconnected != nil {
		m.OnDisconnected(address)
	}
}

// Connected reports whether a live link exists for address.
func (m *ConnectionManager) Connected(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[address]
	return ok
}

// Addresses returns the addresses of all live links.
func (m *ConnectionManager) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.links))
	for addr := range m.links {
		out = append(out, addr)
	}
	return out
}

// Close tears down every link.
func (m *ConnectionManager) Close() {
	for _, addr := range m.Addresses() {
		m.Disconnect(addr)
	}
}

// readLoop reads frames until the link dies. An oversized or zero length
// frame poisons the link.
func (m *ConnectionManager) readLoop(address string, ml *managedLink) {
	for {
		frame, err := ReadFrame(ml.link)
		if err != nil {
			m.mu.Lock()
			wasClosed := ml.closed
			m.mu.Unlock()
			if !wasClosed {
				m.Disconnect(address)
			}
			return
		}
		if m.OnData != nil {
			m.OnData(address, frame)
		}
	}
}
