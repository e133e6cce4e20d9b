// Package crypto provides the cryptographic primitives for the MeshIt
// protocol: X25519 agreement, Ed25519 signatures, ChaCha20-Poly1305 AEAD,
// HKDF-SHA256 derivation and SHA-256 fingerprints.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeySize is the byte length of X25519 keys and derived transport keys.
const KeySize = 32

// NonceSize is the AEAD nonce length.
const NonceSize = chacha20poly1305.NonceSize

// GenerateX25519KeyPair generates a fresh X25519 key pair.
func GenerateX25519KeyPair() (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, err
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// X25519Public recomputes the public key for a private scalar.
func X25519Public(priv [32]byte) [32]byte {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return pub
}

// X25519Agree computes the shared secret priv * pub.
func X25519Agree(priv, pub []byte) ([]byte, error) {
	if len(priv) != KeySize || len(pub) != KeySize {
		return nil, ErrInvalidKey
	}
	secret, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return secret, nil
}

// GenerateEd25519KeyPair generates a fresh Ed25519 signing key pair.
func GenerateEd25519KeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign signs msg with the Ed25519 private key.
func Sign(msg []byte, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature of msg under pub.
func Verify(msg, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// AEADEncrypt encrypts plaintext with ChaCha20-Poly1305 and returns
// ciphertext||tag. key must be 32 bytes, nonce 12 bytes.
func AEADEncrypt(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrEncryptionFailed
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADDecrypt decrypts a ChaCha20-Poly1305 ciphertext produced by AEADEncrypt.
func AEADDecrypt(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// HKDFExpand derives length bytes from ikm using HKDF-SHA256 with a 32-byte
// zero extraction salt and the given info string.
func HKDFExpand(ikm []byte, info string, length int) ([]byte, error) {
	salt := make([]byte, 32)
	out := make([]byte, length)
	kdf := hkdf.New(sha256.New, ikm, salt, []byte(info))
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Fingerprint returns the 64-char lowercase hex of SHA-256(pub).
func Fingerprint(pub []byte) string {
	return hex.EncodeToString(SHA256(pub))
}

// ShortFingerprint returns the first 8 hex chars of the fingerprint.
func ShortFingerprint(pub []byte) string {
	return Fingerprint(pub)[:8]
}
