package protocol

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
)

// ===== SESSION HANDSHAKE =====
// Three-message mutual handshake in the Noise XX shape. Both sides start
// from long-term X25519 statics and fresh ephemerals:
//
//	1. I -> R: e
//	2. R -> I: e || AEAD(ee; responder static pub)
//	3. I -> R: AEAD(combine(ee, se); initiator static pub)
//
// with ee = X25519(responder eph, initiator eph), se = X25519(initiator eph,
// responder static) and combine(a, b) = HKDF(a||b, "meshIt-combine"). After
// message 3 both sides derive the transport keys from the static-static
// secret. All handshake AEADs use an all-zero nonce and empty AAD.

const (
	hkdfInfoCombine = "meshIt-combine"
	hkdfInfoKey1    = "meshIt-key-1"
	hkdfInfoKey2    = "meshIt-key-2"

	aeadTagSize = 16

	// Handshake message sizes
	NoiseMsg1Size = 32
	NoiseMsg2Size = 32 + 32 + aeadTagSize
	NoiseMsg3Size = 32 + aeadTagSize
)

var (
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrReplayDetected  = errors.New("replay detected")
	ErrSessionClosed   = errors.New("session closed")
)

// Handshake tracks the in-flight state of one handshake attempt with a
// single peer. Discard the value on any error.
type Handshake struct {
	initiator bool
	localPriv [32]byte // static
	localPub  [32]byte
	ephPriv   [32]byte
	ephPub    [32]byte
	remoteEph [32]byte
	remotePub [32]byte // learned during the exchange
	ee        []byte
}

// NewHandshake prepares handshake state around the local static key pair.
func NewHandshake(staticPriv, staticPub [32]byte, initiator bool) (*Handshake, error) {
	ephPriv, ephPub, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	return &Handshake{
		initiator: initiator,
		localPriv: staticPriv,
		localPub:  staticPub,
		ephPriv:   ephPriv,
		ephPub:    ephPub,
	}, nil
}

// CreateMsg1 produces the initiator's first message: the bare ephemeral key.
func (h *Handshake) CreateMsg1() []byte {
	out := make([]byte, NoiseMsg1Size)
	copy(out, h.ephPub[:])
	return out
}

// ProcessMsg1CreateMsg2 consumes message 1 on the responder and produces
// message 2: the responder ephemeral plus its static key encrypted under ee.
func (h *Handshake) ProcessMsg1CreateMsg2(msg []byte) ([]byte, error) {
	if len(msg) != NoiseMsg1Size {
		return nil, ErrHandshakeFailed
	}
	copy(h.remoteEph[:], msg)

	ee, err := crypto.X25519Agree(h.ephPriv[:], h.remoteEph[:])
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	h.ee = ee

	sealed, err := crypto.AEADEncrypt(ee, make([]byte, crypto.NonceSize), nil, h.localPub[:])
	if err != nil {
		return nil, ErrHandshakeFailed
	}

	out := make([]byte, 0, NoiseMsg2Size)
	out = append(out, h.ephPub[:]...)
	out = append(out, sealed...)
	return out, nil
}

// ProcessMsg2CreateMsg3 consumes message 2 on the initiator, learns the
// responder static, and produces message 3: the initiator static encrypted
// under combine(ee, se). The returned session is established on success.
func (h *Handshake) ProcessMsg2CreateMsg3(msg []byte) ([]byte, *Session, error) {
	if len(msg) != NoiseMsg2Size {
		return nil, nil, ErrHandshakeFailed
	}
	copy(h.remoteEph[:], msg[:32])

	ee, err := crypto.X25519Agree(h.ephPriv[:], h.remoteEph[:])
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}
	h.ee = ee

	remoteStatic, err := crypto.AEADDecrypt(ee, make([]byte, crypto.NonceSize), nil, msg[32:])
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}
	copy(h.remotePub[:], remoteStatic)

	se, err := crypto.X25519Agree(h.ephPriv[:], h.remotePub[:])
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}
	k, err := crypto.HKDFExpand(append(append([]byte(nil), ee...), se...), hkdfInfoCombine, 32)
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}
	sealed, err := crypto.AEADEncrypt(k, make([]byte, crypto.NonceSize), nil, h.localPub[:])
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}

	session, err := h.deriveSession()
	if err != nil {
		return nil, nil, err
	}
	return sealed, session, nil
}

// ProcessMsg3 consumes message 3 on the responder, learns the initiator
// static and establishes the session.
func (h *Handshake) ProcessMsg3(msg []byte) (*Session, error) {
	if len(msg) != NoiseMsg3Size || h.ee == nil {
		return nil, ErrHandshakeFailed
	}

	// The initiator keyed message 3 with combine(ee, se) where se uses its
	// ephemeral against our static.
	se, err := crypto.X25519Agree(h.localPriv[:], h.remoteEph[:])
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	k, err := crypto.HKDFExpand(append(append([]byte(nil), h.ee...), se...), hkdfInfoCombine, 32)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	remoteStatic, err := crypto.AEADDecrypt(k, make([]byte, crypto.NonceSize), nil, msg)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	copy(h.remotePub[:], remoteStatic)

	return h.deriveSession()
}

// deriveSession computes the transport keys from the static-static secret.
// The initiator sends with key 1 and receives with key 2; the responder is
// reversed.
func (h *Handshake) deriveSession() (*Session, error) {
	ss, err := crypto.X25519Agree(h.localPriv[:], h.remotePub[:])
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	k1, err := crypto.HKDFExpand(ss, hkdfInfoKey1, 32)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	k2, err := crypto.HKDFExpand(ss, hkdfInfoKey2, 32)
	if err != nil {
		return nil, ErrHandshakeFailed
	}

	s := &Session{
		RemoteStaticPub: h.remotePub,
		EstablishedAt:   time.Now(),
	}
	if h.initiator {
		s.sendKey, s.receiveKey = k1, k2
	} else {
		s.sendKey, s.receiveKey = k2, k1
	}
	return s, nil
}

// RemoteStatic returns the peer static key learned during the exchange.
func (h *Handshake) RemoteStatic() [32]byte {
	return h.remotePub
}

// ===== TRANSPORT SESSION =====

// Session holds the transport keys and nonce counters for one established
// peer session. Safe for concurrent use.
type Session struct {
	RemoteStaticPub [32]byte
	EstablishedAt   time.Time

	mu                sync.Mutex
	sendKey           []byte
	receiveKey        []byte
	sendNonce         int64 // incremented before use
	lastReceivedNonce int64
}

// SendKey exposes the outbound transport key for symmetry assertions.
func (s *Session) SendKey() []byte { return s.sendKey }

// ReceiveKey exposes the inbound transport key for symmetry assertions.
func (s *Session) ReceiveKey() []byte { return s.receiveKey }

// Encrypt seals plaintext as nonceCounter(8 LE) || AEAD(sendKey, nonce, pt).
// The 12-byte AEAD nonce is four zero bytes followed by the counter.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	s.sendNonce++
	n := s.sendNonce
	s.mu.Unlock()

	nonce := make([]byte, crypto.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], uint64(n))

	sealed, err := crypto.AEADEncrypt(s.sendKey, nonce, nil, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 8+len(sealed))
	binary.LittleEndian.PutUint64(out[:8], uint64(n))
	copy(out[8:], sealed)
	return out, nil
}

// Decrypt opens a frame produced by Encrypt. The embedded counter must be
// strictly greater than the last accepted one; replays and reordered frames
// both drop.
func (s *Session) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 8+aeadTagSize {
		return nil, crypto.ErrDecryptionFailed
	}
	n := int64(binary.LittleEndian.Uint64(data[:8]))

	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= s.lastReceivedNonce {
		return nil, ErrReplayDetected
	}

	nonce := make([]byte, crypto.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], uint64(n))

	plaintext, err := crypto.AEADDecrypt(s.receiveKey, nonce, nil, data[8:])
	if err != nil {
		return nil, err
	}
	s.lastReceivedNonce = n
	return plaintext, nil
}
