package network

import (
	"sync"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

// SessionManager holds at most one established transport session per peer,
// plus in-flight handshakes. Peers without a session fall back to the
// network pre-shared key so v1 nodes stay reachable.
type SessionManager struct {
	staticPriv [32]byte
	staticPub  [32]byte

	mu         sync.RWMutex
	sessions   map[string]*protocol.Session   // peerID -> established session
	handshakes map[string]*protocol.Handshake // peerID -> pending handshake
}

// NewSessionManager creates a session manager around the local static pair.
func NewSessionManager(staticPriv, staticPub [32]byte) *SessionManager {
	return &SessionManager{
		staticPriv: staticPriv,
		staticPub:  staticPub,
		sessions:   make(map[string]*protocol.Session),
		handshakes: make(map[string]*protocol.Handshake),
	}
}

// StartHandshake begins an initiator handshake with peerID and returns
// message 1. Any previous pending state for the peer is discarded.
func (sm *SessionManager) StartHandshake(peerID string) ([]byte, error) {
	hs, err := protocol.NewHandshake(sm.staticPriv, sm.staticPub, true)
	if err != nil {
		return nil, err
	}
	sm.mu.Lock()
	sm.handshakes[peerID] = hs
	sm.mu.Unlock()
	return hs.CreateMsg1(), nil
}

// HandleMsg1 responds to an incoming handshake initiation with message 2.
func (sm *SessionManager) HandleMsg1(peerID string, msg []byte) ([]byte, error) {
	hs, err := protocol.NewHandshake(sm.staticPriv, sm.staticPub, false)
	if err != nil {
		return nil, err
	}
	out, err := hs.ProcessMsg1CreateMsg2(msg)
	if err != nil {
		return nil, err
	}
	sm.mu.Lock()
	sm.handshakes[peerID] = hs
	sm.mu.Unlock()
	return out, nil
}

// HandleMsg2 advances the initiator side: consumes message 2, establishes
// the session and returns message 3. Failure discards the pending state.
func (sm *SessionManager) HandleMsg2(peerID string, msg []byte) ([]byte, error) {
	sm.mu.Lock()
	hs, ok := sm.handshakes[peerID]
	delete(sm.handshakes, peerID)
	sm.mu.Unlock()
	if !ok {
		return nil, protocol.ErrHandshakeFailed
	}

	out, session, err := hs.ProcessMsg2CreateMsg3(msg)
	if err != nil {
		return nil, err
	}
	sm.mu.Lock()
	sm.sessions[peerID] = session
	sm.mu.Unlock()
	return out, nil
}

// HandleMsg3 completes the responder side and establishes the session.
func (sm *SessionManager) HandleMsg3(peerID string, msg []byte) error {
	sm.mu.Lock()
	hs, ok := sm.handshakes[peerID]
	delete(sm.handshakes, peerID)
	sm.mu.Unlock()
	if !ok {
		return protocol.ErrHandshakeFailed
	}

	session, err := hs.ProcessMsg3(msg)
	if err != nil {
		return err
	}
	sm.mu.Lock()
	sm.sessions[peerID] = session
	sm.mu.Unlock()
	return nil
}

// Session returns the established session for peerID.
func (sm *SessionManager) Session(peerID string) (*protocol.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[peerID]
	return s, ok
}

// RemoteStatic returns the static key the peer proved during its handshake.
func (sm *SessionManager) RemoteStatic(peerID string) ([32]byte, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if s, ok := sm.sessions[peerID]; ok {
		return s.RemoteStaticPub, true
	}
	return [32]byte{}, false
}

// Rename moves session and handshake state from one peer ID to another.
// Handshakes start keyed by link address; once the peer proves its static
// key the state moves under its fingerprint.
func (sm *SessionManager) Rename(oldID, newID string) {
	if oldID == newID {
		return
	}
	sm.mu.Lock()
	if s, ok := sm.sessions[oldID]; ok {
		sm.sessions[newID] = s
		delete(sm.sessions, oldID)
	}
	if h, ok := sm.handshakes[oldID]; ok {
		sm.handshakes[newID] = h
		delete(sm.handshakes, oldID)
	}
	sm.mu.Unlock()
}

// Drop destroys the session and any pending handshake for peerID.
func (sm *SessionManager) Drop(peerID string) {
	sm.mu.Lock()
	delete(sm.sessions, peerID)
	delete(sm.handshakes, peerID)
	sm.mu.Unlock()
}

// EncryptFor seals plaintext for peerID: through the established session
// when one exists, otherwise with the pre-shared key.
func (sm *SessionManager) EncryptFor(peerID string, plaintext []byte) ([]byte, error) {
	if s, ok := sm.Session(peerID); ok {
		return s.Encrypt(plaintext)
	}
	return crypto.PSKEncrypt(plaintext)
}

// DecryptFrom opens ciphertext from peerID, trying the session first and
// the pre-shared key on failure.
func (sm *SessionManager) DecryptFrom(peerID string, ciphertext []byte) ([]byte, error) {
	if s, ok := sm.Session(peerID); ok {
		if plain, err := s.Decrypt(ciphertext); err == nil {
			return plain, nil
		}
	}
	return crypto.PSKDecrypt(ciphertext)
}
