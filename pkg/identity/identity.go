// Package identity manages the node's long-term key material: the X25519
// static pair used for session handshakes and the Ed25519 pair used for
// signatures. The whole identity record is sealed with the at-rest protector
// before touching disk: the private keys, and also the public keys and the
// nickname, so none of them is readable in the clear on disk.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/Thrinadh-25/MeshIt/pkg/crypto"
)

var (
	ErrCorruptIdentity = errors.New("corrupt identity")
	ErrStorageIO       = errors.New("identity storage failure")
)

const identityFile = "identity.json"

// Identity is the node's long-term key material.
type Identity struct {
	Nickname string

	StaticPriv [32]byte // X25519
	StaticPub  [32]byte

	SigningPriv ed25519.PrivateKey
	SigningPub  ed25519.PublicKey
}

// Fingerprint returns the 64-char hex fingerprint of the static key.
func (id *Identity) Fingerprint() string {
	return crypto.Fingerprint(id.StaticPub[:])
}

// ShortFingerprint returns the first 8 chars of the fingerprint.
func (id *Identity) ShortFingerprint() string {
	return crypto.ShortFingerprint(id.StaticPub[:])
}

// VerificationURI builds the meshit://verify link other users scan to
// verify this identity.
func (id *Identity) VerificationURI() string {
	return fmt.Sprintf("meshit://verify?fp=%s&nick=%s",
		id.Fingerprint(), url.QueryEscape(id.Nickname))
}

// ParseVerificationURI extracts the fingerprint and nickname from a
// meshit://verify link.
func ParseVerificationURI(uri string) (fingerprint, nickname string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid verification uri: %w", err)
	}
	if u.Scheme != "meshit" || u.Host != "verify" {
		return "", "", errors.New("not a meshit verification uri")
	}
	q := u.Query()
	fingerprint = q.Get("fp")
	if len(fingerprint) != 64 {
		return "", "", errors.New("verification uri has no valid fingerprint")
	}
	return fingerprint, q.Get("nick"), nil
}

// Store abstracts the protected persistence layer. The protector binds
// decryption of the sealed bytes to the current OS user account.
type Store interface {
	// ReadProtected returns the sealed bytes at path, or (nil, nil) when
	// nothing is stored.
	ReadProtected(path string) ([]byte, error)

	WriteProtected(path string, data []byte) error
}

// storedIdentity is the JSON record that the Store seals into identity.json.
type storedIdentity struct {
	Nickname          string `json:"nickname"`
	StaticPrivSealed  string `json:"staticPrivateKey"`  // base64
	SigningPrivSealed string `json:"signingPrivateKey"` // base64
	StaticPub         string `json:"staticPublicKey"`   // base64
	SigningPub        string `json:"signingPublicKey"`  // base64
}

// LoadOrCreate loads the stored identity, overlaying nickname when
// non-empty. A missing, unreadable or corrupt store falls back to fresh key
// generation with a warning; only I/O failures on save are fatal.
func LoadOrCreate(store Store, nickname string) (*Identity, error) {
	data, err := store.ReadProtected(identityFile)
	if err != nil {
		log.Printf("identity: unreadable store, generating fresh keys: %v", err)
	} else if data != nil {
		id, loadErr := decode(data)
		if loadErr == nil {
			if nickname != "" {
				id.Nickname = nickname
			}
			return id, nil
		}
		log.Printf("identity: %v, generating fresh keys", loadErr)
	}

	return generate(store, nickname)
}

func generate(store Store, nickname string) (*Identity, error) {
	staticPriv, staticPub, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	signingPub, signingPriv, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}

	id := &Identity{
		Nickname:    nickname,
		StaticPriv:  staticPriv,
		StaticPub:   staticPub,
		SigningPriv: signingPriv,
		SigningPub:  signingPub,
	}
	if id.Nickname == "" {
		id.Nickname = "anonymous"
	}
	if err := Save(store, id); err != nil {
		return nil, err
	}
	return id, nil
}

// Save writes identity.json through the Store, which seals the whole record.
func Save(store Store, id *Identity) error {
	rec := storedIdentity{
		Nickname:          id.Nickname,
		StaticPrivSealed:  base64.StdEncoding.EncodeToString(id.StaticPriv[:]),
		SigningPrivSealed: base64.StdEncoding.EncodeToString(id.SigningPriv),
		StaticPub:         base64.StdEncoding.EncodeToString(id.StaticPub[:]),
		SigningPub:        base64.StdEncoding.EncodeToString(id.SigningPub),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := store.WriteProtected(identityFile, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return nil
}

func decode(data []byte) (*Identity, error) {
	var rec storedIdentity
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIdentity, err)
	}

	staticPriv, err := base64.StdEncoding.DecodeString(rec.StaticPrivSealed)
	if err != nil || len(staticPriv) != 32 {
		return nil, ErrCorruptIdentity
	}
	signingPriv, err := base64.StdEncoding.DecodeString(rec.SigningPrivSealed)
	if err != nil || len(signingPriv) != ed25519.PrivateKeySize {
		return nil, ErrCorruptIdentity
	}
	staticPub, err := base64.StdEncoding.DecodeString(rec.StaticPub)
	if err != nil || len(staticPub) != 32 {
		return nil, ErrCorruptIdentity
	}
	signingPub, err := base64.StdEncoding.DecodeString(rec.SigningPub)
	if err != nil || len(signingPub) != ed25519.PublicKeySize {
		return nil, ErrCorruptIdentity
	}

	id := &Identity{
		Nickname:    rec.Nickname,
		SigningPriv: ed25519.PrivateKey(signingPriv),
		SigningPub:  ed25519.PublicKey(signingPub),
	}
	copy(id.StaticPriv[:], staticPriv)
	copy(id.StaticPub[:], staticPub)

	// Both public keys must correspond to their privates; a mismatch means
	// the store was tampered with or torn.
	if crypto.X25519Public(id.StaticPriv) != id.StaticPub {
		return nil, ErrCorruptIdentity
	}
	if !id.SigningPub.Equal(id.SigningPriv.Public()) {
		return nil, ErrCorruptIdentity
	}
	return id, nil
}
