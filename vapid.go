package pushkit

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// A Key is a VAPID signing identity: an ECDSA P-256 private key. Generate a
// key once with GenerateKey, store its String form in your configuration, and
// parse it at application startup with ParseKey. A change in the key
// invalidates all subscriptions registered against it.
type Key struct {
	priv *ecdsa.PrivateKey
}

// A KeyID identifies a Key to subscribers: the base64url unpadded X9.63
// uncompressed form of the public key (65 bytes, 0x04 || X || Y). This is the
// applicationServerKey value handed to the browser.
type KeyID string

// GenerateKey creates a new random VAPID key.
func GenerateKey() (*Key, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Key{priv: priv}, nil
}

// ParseKey parses a private key serialized as the base64url unpadded raw
// P-256 scalar, the form produced by String.
func ParseKey(s string) (*Key, error) {
	raw, err := b64Decode(s)
	if err != nil {
		return nil, err
	}
	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &Key{priv: priv}, nil
}

// Bytes returns the raw 32-byte private scalar for persistence.
func (k *Key) Bytes() ([]byte, error) {
	return k.priv.Bytes()
}

// String returns the base64url form of the raw private scalar.
func (k *Key) String() string {
	raw, err := k.priv.Bytes()
	if err != nil {
		// A Key always holds a valid P-256 private key.
		panic(fmt.Sprintf("pushkit: serializing private key: %v", err))
	}
	return b64Encode(raw)
}

// ID returns the subscriber-facing key ID.
func (k *Key) ID() KeyID {
	pub, err := k.priv.PublicKey.Bytes()
	if err != nil {
		panic(fmt.Sprintf("pushkit: serializing public key: %v", err))
	}
	return KeyID(b64Encode(pub))
}

// Equal reports whether two keys hold the same private scalar.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.priv.Equal(other.priv)
}

// Sign signs message with ECDSA over its SHA-256 digest, producing the
// 64-byte R||S signature used in ES256 JWTs.
func (k *Key) Sign(message []byte) ([]byte, error) {
	return jwt.SigningMethodES256.Sign(string(message), k.priv)
}

// Compare orders key IDs lexicographically, for deterministic sorting in
// logs and tests.
func (id KeyID) Compare(other KeyID) int {
	return strings.Compare(string(id), string(other))
}

// Less reports whether id sorts before other in the Compare order.
func (id KeyID) Less(other KeyID) bool {
	return id.Compare(other) < 0
}

func (id KeyID) String() string { return string(id) }

// publicKey reconstructs the P-256 public key the ID encodes.
func (id KeyID) publicKey() (*ecdsa.PublicKey, error) {
	raw, err := b64Decode(string(id))
	if err != nil {
		return nil, err
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return pub, nil
}
