package pushkit

import (
	"crypto/ecdh"
	"encoding/json"
	"fmt"
)

const authenticationSecretLen = 16

// UserAgentKeys is the key material the browser generates at subscription
// time: the user agent's P-256 public key (p256dh) and the 16-byte
// authentication secret (auth). It is opaque to everything but the
// encryption pipeline. Never log it.
type UserAgentKeys struct {
	publicKey  *ecdh.PublicKey
	rawPublic  []byte // X9.63 uncompressed, 65 bytes
	authSecret []byte
}

// ParseUserAgentKeys parses the base64-encoded p256dh and auth values from a
// subscription. Any of the common base64 variations are accepted.
func ParseUserAgentKeys(p256dh, auth string) (UserAgentKeys, error) {
	rawPublic, err := b64LooseDecode(p256dh)
	if err != nil {
		return UserAgentKeys{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	publicKey, err := ecdh.P256().NewPublicKey(rawPublic)
	if err != nil {
		return UserAgentKeys{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	authSecret, err := b64LooseDecode(auth)
	if err != nil {
		return UserAgentKeys{}, fmt.Errorf("%w: %w", ErrInvalidAuthenticationSecret, err)
	}
	if len(authSecret) != authenticationSecretLen {
		return UserAgentKeys{}, fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidAuthenticationSecret, len(authSecret), authenticationSecretLen)
	}
	return UserAgentKeys{
		publicKey:  publicKey,
		rawPublic:  rawPublic,
		authSecret: authSecret,
	}, nil
}

// A Subscriber is one browser-registered push subscription: the push service
// endpoint, the user agent's key material, and the ID of the VAPID key the
// subscription was registered against. The endpoint string is the stable
// identity to use in logs.
type Subscriber struct {
	Endpoint string
	Keys     UserAgentKeys
	KeyID    KeyID
}

// subscriberJSON is the wire shape exchanged with the browser client.
type subscriberJSON struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	ApplicationServerKey string `json:"applicationServerKey,omitempty"`
}

// ParseSubscription decodes the subscription JSON received from a browser
// client.
func ParseSubscription(data []byte) (*Subscriber, error) {
	var in subscriberJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("pushkit: invalid subscription: %w", err)
	}
	if in.Endpoint == "" {
		return nil, fmt.Errorf("pushkit: invalid subscription: missing endpoint")
	}
	keys, err := ParseUserAgentKeys(in.Keys.P256dh, in.Keys.Auth)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		Endpoint: in.Endpoint,
		Keys:     keys,
		KeyID:    KeyID(in.ApplicationServerKey),
	}, nil
}

// MarshalJSON re-encodes the subscription in the canonical client shape,
// with key material in unpadded base64url regardless of how it arrived.
func (s *Subscriber) MarshalJSON() ([]byte, error) {
	var out subscriberJSON
	out.Endpoint = s.Endpoint
	out.Keys.P256dh = b64Encode(s.Keys.rawPublic)
	out.Keys.Auth = b64Encode(s.Keys.authSecret)
	out.ApplicationServerKey = string(s.KeyID)
	return json.Marshal(out)
}

func (s *Subscriber) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSubscription(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}
