package protocol

import (
	"bytes"
	"testing"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
)

func runHandshake(t *testing.T) (*Session, *Session, [32]byte, [32]byte) {
	t.Helper()

	aPriv, aPub, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bPriv, bPub, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}

	initiator, err := NewHandshake(aPriv, aPub, true)
	if err != nil {
		t.Fatalf("NewHandshake(initiator) error = %v", err)
	}
	responder, err := NewHandshake(bPriv, bPub, false)
	if err != nil {
		t.Fatalf("NewHandshake(responder) error = %v", err)
	}

	msg1 := initiator.CreateMsg1()
	msg2, err := responder.ProcessMsg1CreateMsg2(msg1)
	if err != nil {
		t.Fatalf("ProcessMsg1CreateMsg2() error = %v", err)
	}
	msg3, initiatorSession, err := initiator.ProcessMsg2CreateMsg3(msg2)
	if err != nil {
		t.Fatalf("ProcessMsg2CreateMsg3() error = %v", err)
	}
	responderSession, err := responder.ProcessMsg3(msg3)
	if err != nil {
		t.Fatalf("ProcessMsg3() error = %v", err)
	}

	return initiatorSession, responderSession, aPub, bPub
}

func TestHandshakeKeySymmetry(t *testing.T) {
	init, resp, aPub, bPub := runHandshake(t)

	if !bytes.Equal(init.SendKey(), resp.ReceiveKey()) {
		t.Error("initiator send key != responder receive key")
	}
	if !bytes.Equal(init.ReceiveKey(), resp.SendKey()) {
		t.Error("initiator receive key != responder send key")
	}

	if init.RemoteStaticPub != bPub {
		t.Error("initiator learned wrong responder static")
	}
	if resp.RemoteStaticPub != aPub {
		t.Error("responder learned wrong initiator static")
	}
}

func TestHandshakeMessageSizes(t *testing.T) {
	aPriv, aPub, _ := crypto.GenerateX25519KeyPair()
	bPriv, bPub, _ := crypto.GenerateX25519KeyPair()

	initiator, _ := NewHandshake(aPriv, aPub, true)
	responder, _ := NewHandshake(bPriv, bPub, false)

	msg1 := initiator.CreateMsg1()
	if len(msg1) != NoiseMsg1Size {
		t.Errorf("msg1 length = %d, want %d", len(msg1), NoiseMsg1Size)
	}
	msg2, err := responder.ProcessMsg1CreateMsg2(msg1)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg2) != NoiseMsg2Size {
		t.Errorf("msg2 length = %d, want %d", len(msg2), NoiseMsg2Size)
	}
	msg3, _, err := initiator.ProcessMsg2CreateMsg3(msg2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg3) != NoiseMsg3Size {
		t.Errorf("msg3 length = %d, want %d", len(msg3), NoiseMsg3Size)
	}
}

func TestHandshakeRejectsMalformed(t *testing.T) {
	aPriv, aPub, _ := crypto.GenerateX25519KeyPair()
	bPriv, bPub, _ := crypto.GenerateX25519KeyPair()

	responder, _ := NewHandshake(bPriv, bPub, false)
	if _, err := responder.ProcessMsg1CreateMsg2(make([]byte, 31)); err != ErrHandshakeFailed {
		t.Errorf("short msg1: error = %v, want %v", err, ErrHandshakeFailed)
	}

	initiator, _ := NewHandshake(aPriv, aPub, true)
	if _, _, err := initiator.ProcessMsg2CreateMsg3(make([]byte, 10)); err != ErrHandshakeFailed {
		t.Errorf("short msg2: error = %v, want %v", err, ErrHandshakeFailed)
	}

	// Tampered static ciphertext in msg2 must abort.
	initiator2, _ := NewHandshake(aPriv, aPub, true)
	responder2, _ := NewHandshake(bPriv, bPub, false)
	msg2, err := responder2.ProcessMsg1CreateMsg2(initiator2.CreateMsg1())
	if err != nil {
		t.Fatal(err)
	}
	msg2[40] ^= 0x01
	if _, _, err := initiator2.ProcessMsg2CreateMsg3(msg2); err != ErrHandshakeFailed {
		t.Errorf("tampered msg2: error = %v, want %v", err, ErrHandshakeFailed)
	}

	// Msg3 before msg1 has no ee state.
	responder3, _ := NewHandshake(bPriv, bPub, false)
	if _, err := responder3.ProcessMsg3(make([]byte, NoiseMsg3Size)); err != ErrHandshakeFailed {
		t.Errorf("premature msg3: error = %v, want %v", err, ErrHandshakeFailed)
	}
}

func TestSessionTransportRoundTrip(t *testing.T) {
	init, resp, _, _ := runHandshake(t)

	plaintext := []byte("x")
	c1, err := init.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	out, err := resp.Decrypt(c1)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Error("round-trip mismatch")
	}

	// Replaying the same ciphertext must drop.
	if _, err := resp.Decrypt(c1); err != ErrReplayDetected {
		t.Errorf("replay: error = %v, want %v", err, ErrReplayDetected)
	}
}

func TestSessionNonceOrdering(t *testing.T) {
	init, resp, _, _ := runHandshake(t)

	c1, _ := init.Encrypt([]byte("one"))
	c2, _ := init.Encrypt([]byte("two"))
	c3, _ := init.Encrypt([]byte("three"))

	// Skipping a nonce is allowed.
	if _, err := resp.Decrypt(c1); err != nil {
		t.Fatal(err)
	}
	if _, err := resp.Decrypt(c3); err != nil {
		t.Fatalf("skipped nonce rejected: %v", err)
	}

	// Out-of-order delivery of the skipped frame drops.
	if _, err := resp.Decrypt(c2); err != ErrReplayDetected {
		t.Errorf("reordered frame: error = %v, want %v", err, ErrReplayDetected)
	}
}

func TestSessionDecryptRejectsTamper(t *testing.T) {
	init, resp, _, _ := runHandshake(t)

	c, _ := init.Encrypt([]byte("payload"))
	c[len(c)-1] ^= 0x01
	if _, err := resp.Decrypt(c); err == nil {
		t.Error("Decrypt() accepted tampered frame")
	}

	if _, err := resp.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Error("Decrypt() accepted undersized frame")
	}
}
