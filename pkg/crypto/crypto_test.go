package crypto

import (
	"bytes"
	"crypto/sha256"
	"io"
	"testing"

	"golang.org/x/crypto/hkdf"
)

func TestX25519Agreement(t *testing.T) {
	aPriv, aPub, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair() error = %v", err)
	}
	bPriv, bPub, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair() error = %v", err)
	}

	ab, err := X25519Agree(aPriv[:], bPub[:])
	if err != nil {
		t.Fatalf("X25519Agree() error = %v", err)
	}
	ba, err := X25519Agree(bPriv[:], aPub[:])
	if err != nil {
		t.Fatalf("X25519Agree() error = %v", err)
	}

	if !bytes.Equal(ab, ba) {
		t.Error("shared secrets do not match")
	}
}

func TestX25519AgreeInvalidKey(t *testing.T) {
	if _, err := X25519Agree(make([]byte, 16), make([]byte, 32)); err == nil {
		t.Error("X25519Agree() accepted short private key")
	}
	if _, err := X25519Agree(make([]byte, 32), make([]byte, 31)); err == nil {
		t.Error("X25519Agree() accepted short public key")
	}
}

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}

	msg := []byte("route announcement")
	sig := Sign(msg, priv)

	if !Verify(msg, sig, pub) {
		t.Error("Verify() = false for valid signature")
	}
	if Verify([]byte("tampered"), sig, pub) {
		t.Error("Verify() = true for tampered message")
	}
	sig[0] ^= 0x01
	if Verify(msg, sig, pub) {
		t.Error("Verify() = true for tampered signature")
	}
}

func TestAEADRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	nonce := make([]byte, NonceSize)
	plaintext := []byte("hello mesh")

	ct, err := AEADEncrypt(key, nonce, nil, plaintext)
	if err != nil {
		t.Fatalf("AEADEncrypt() error = %v", err)
	}
	if len(ct) != len(plaintext)+16 {
		t.Errorf("ciphertext length = %d, want %d", len(ct), len(plaintext)+16)
	}

	pt, err := AEADDecrypt(key, nonce, nil, ct)
	if err != nil {
		t.Fatalf("AEADDecrypt() error = %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Error("round-trip mismatch")
	}

	ct[0] ^= 0x01
	if _, err := AEADDecrypt(key, nonce, nil, ct); err == nil {
		t.Error("AEADDecrypt() accepted tampered ciphertext")
	}
}

func TestHKDFExpandMatchesRFC5869(t *testing.T) {
	// The helper must be byte-identical to RFC 5869 with a zero 32-byte
	// extraction salt.
	ikm := bytes.Repeat([]byte{0x0b}, 22)
	info := "meshIt-key-1"

	got, err := HKDFExpand(ikm, info, 32)
	if err != nil {
		t.Fatalf("HKDFExpand() error = %v", err)
	}

	want := make([]byte, 32)
	kdf := hkdf.New(sha256.New, ikm, make([]byte, 32), []byte(info))
	if _, err := io.ReadFull(kdf, want); err != nil {
		t.Fatalf("reference hkdf: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Error("HKDFExpand() diverges from reference derivation")
	}
}

func TestFingerprint(t *testing.T) {
	pub := bytes.Repeat([]byte{0xBB}, 32)

	fp := Fingerprint(pub)
	if len(fp) != 64 {
		t.Errorf("Fingerprint() length = %d, want 64", len(fp))
	}
	for _, c := range fp {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Errorf("Fingerprint() contains non-lowercase-hex char %q", c)
		}
	}

	short := ShortFingerprint(pub)
	if short != fp[:8] {
		t.Errorf("ShortFingerprint() = %s, want %s", short, fp[:8])
	}

	if Fingerprint(pub) != fp {
		t.Error("Fingerprint() not deterministic")
	}
}
