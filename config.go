package pushkit

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTokenExpiration is how far in the future minted VAPID tokens
	// expire.
	DefaultTokenExpiration = 22 * time.Hour

	// DefaultTokenValidity is how long a minted token is served from the
	// cache before a fresh one is minted. The gap between validity and
	// expiration guarantees every outgoing request carries a token with
	// meaningful remaining lifetime.
	DefaultTokenValidity = 20 * time.Hour

	// maxTokenExpiration is the longest expiration push services accept.
	maxTokenExpiration = 24 * time.Hour
)

// Contact is the application server's contact information, carried in the
// "sub" claim of VAPID tokens: either an http(s) URL or an email address
// rendered as a mailto: URL.
type Contact struct {
	s string
}

// ContactEmail builds contact information from an email address.
func ContactEmail(address string) (Contact, error) {
	local, _, found := strings.Cut(address, "@")
	if !found || local == "" {
		return Contact{}, fmt.Errorf("%w: malformed email %q", ErrInvalidContact, address)
	}
	return Contact{s: "mailto:" + address}, nil
}

// ContactURL builds contact information from an http(s) URL.
func ContactURL(u string) (Contact, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %w", ErrInvalidContact, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Contact{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidContact, parsed.Scheme)
	}
	return Contact{s: u}, nil
}

// ParseContact decodes the single-string form used in configuration files:
// "mailto:<addr>" or an http(s) URL.
func ParseContact(s string) (Contact, error) {
	if addr, ok := strings.CutPrefix(s, "mailto:"); ok {
		return ContactEmail(addr)
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return ContactURL(s)
	}
	return Contact{}, fmt.Errorf("%w: %q", ErrInvalidContact, s)
}

// String returns the contact as a URL string.
func (c Contact) String() string { return c.s }

func (c Contact) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.s)
}

func (c *Contact) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseContact(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// KeyStatus classifies a key ID against a configuration.
type KeyStatus int

const (
	// KeyStatusUnknown means the ID matches no configured key.
	KeyStatusUnknown KeyStatus = iota
	// KeyStatusValid means the ID matches an active key.
	KeyStatusValid
	// KeyStatusDeprecated means the ID matches a deprecated key: still
	// honored for existing subscribers, never offered to new ones.
	KeyStatusDeprecated
)

func (s KeyStatus) String() string {
	switch s {
	case KeyStatusValid:
		return "valid"
	case KeyStatusDeprecated:
		return "deprecated"
	}
	return "unknown"
}

// A Configuration holds the VAPID key sets, contact information and token
// lifetimes an application server operates with. Build one with
// NewConfiguration or decode it from its JSON form; treat it as immutable
// once handed to a Manager.
type Configuration struct {
	primary    *Key
	active     []*Key // includes primary when present
	deprecated []*Key
	contact    Contact
	expiration time.Duration
	validity   time.Duration
}

// NewConfiguration builds a configuration. primary may be nil; the active
// set is keys plus primary and must end up non-empty. deprecated keys are
// still honored for signing but never offered to new subscribers, and must
// be disjoint from the active set. Token lifetimes start at their defaults;
// adjust them with SetTokenLifetimes.
func NewConfiguration(primary *Key, keys []*Key, deprecated []*Key, contact Contact) (*Configuration, error) {
	c := &Configuration{
		contact:    contact,
		expiration: DefaultTokenExpiration,
		validity:   DefaultTokenValidity,
	}
	if err := c.setKeys(primary, keys, deprecated); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateKeys replaces the key sets, applying the same invariants as
// construction. On error the configuration is unchanged.
func (c *Configuration) UpdateKeys(primary *Key, keys []*Key, deprecated []*Key) error {
	return c.setKeys(primary, keys, deprecated)
}

func (c *Configuration) setKeys(primary *Key, keys []*Key, deprecated []*Key) error {
	active := make([]*Key, 0, len(keys)+1)
	seen := make(map[KeyID]bool, len(keys)+1)
	if primary != nil {
		active = append(active, primary)
		seen[primary.ID()] = true
	}
	for _, k := range keys {
		if seen[k.ID()] {
			continue
		}
		seen[k.ID()] = true
		active = append(active, k)
	}
	if len(active) == 0 {
		return ErrKeysNotProvided
	}
	dep := make([]*Key, 0, len(deprecated))
	depSeen := make(map[KeyID]bool, len(deprecated))
	for _, k := range deprecated {
		id := k.ID()
		if seen[id] {
			return fmt.Errorf("pushkit: key %s is both active and deprecated", id)
		}
		if depSeen[id] {
			continue
		}
		depSeen[id] = true
		dep = append(dep, k)
	}
	c.primary = primary
	c.active = active
	c.deprecated = dep
	return nil
}

// SetTokenLifetimes sets the token expiration and cache validity durations.
// Validity must not exceed expiration. Expirations beyond 24 hours violate a
// push service rule: they are logged and kept, and minting clamps the
// effective expiry to 24 hours.
func (c *Configuration) SetTokenLifetimes(expiration, validity time.Duration) error {
	if validity > expiration {
		return fmt.Errorf("pushkit: token validity %v exceeds expiration %v", validity, expiration)
	}
	if expiration > maxTokenExpiration {
		slog.Error("pushkit: token expiration exceeds the 24 hour push service limit",
			"expiration", expiration)
	}
	c.expiration = expiration
	c.validity = validity
	return nil
}

// Primary returns the primary key, or nil.
func (c *Configuration) Primary() *Key { return c.primary }

// ActiveKeys returns the active key set, primary included.
func (c *Configuration) ActiveKeys() []*Key { return c.active }

// DeprecatedKeys returns the deprecated key set.
func (c *Configuration) DeprecatedKeys() []*Key { return c.deprecated }

// Contact returns the configured contact information.
func (c *Configuration) Contact() Contact { return c.contact }

// TokenExpiration returns the configured token expiration duration.
func (c *Configuration) TokenExpiration() time.Duration { return c.expiration }

// TokenValidity returns the configured token cache validity duration.
func (c *Configuration) TokenValidity() time.Duration { return c.validity }

// KeyStatus classifies id against the configured key sets.
func (c *Configuration) KeyStatus(id KeyID) KeyStatus {
	for _, k := range c.active {
		if k.ID() == id {
			return KeyStatusValid
		}
	}
	for _, k := range c.deprecated {
		if k.ID() == id {
			return KeyStatusDeprecated
		}
	}
	return KeyStatusUnknown
}

// NextKeyID returns the key ID to register new subscribers against: the
// primary key's ID when a primary is configured, otherwise a uniformly
// random choice from the active set. Deprecated keys are never offered.
func (c *Configuration) NextKeyID() KeyID {
	if c.primary != nil {
		return c.primary.ID()
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(c.active))))
	if err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("pushkit: rand: %v", err))
	}
	return c.active[n.Int64()].ID()
}

// configurationJSON is the operator-held configuration file shape. Durations
// are seconds. The primary key is excluded from keys to avoid duplication.
type configurationJSON struct {
	PrimaryKey         *string  `json:"primaryKey,omitempty"`
	Keys               []string `json:"keys"`
	DeprecatedKeys     []string `json:"deprecatedKeys,omitempty"`
	ContactInformation string   `json:"contactInformation"`
	ExpirationDuration int64    `json:"expirationDuration"`
	ValidityDuration   int64    `json:"validityDuration"`
}

func (c *Configuration) MarshalJSON() ([]byte, error) {
	out := configurationJSON{
		ContactInformation: c.contact.String(),
		ExpirationDuration: int64(c.expiration / time.Second),
		ValidityDuration:   int64(c.validity / time.Second),
	}
	if c.primary != nil {
		s := c.primary.String()
		out.PrimaryKey = &s
	}
	for _, k := range c.active {
		if c.primary != nil && k.Equal(c.primary) {
			continue
		}
		out.Keys = append(out.Keys, k.String())
	}
	for _, k := range c.deprecated {
		out.DeprecatedKeys = append(out.DeprecatedKeys, k.String())
	}
	return json.Marshal(out)
}

func (c *Configuration) UnmarshalJSON(data []byte) error {
	var in configurationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	contact, err := ParseContact(in.ContactInformation)
	if err != nil {
		return err
	}
	var primary *Key
	if in.PrimaryKey != nil {
		if primary, err = ParseKey(*in.PrimaryKey); err != nil {
			return err
		}
	}
	keys := make([]*Key, 0, len(in.Keys))
	for _, s := range in.Keys {
		k, err := ParseKey(s)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	deprecated := make([]*Key, 0, len(in.DeprecatedKeys))
	for _, s := range in.DeprecatedKeys {
		k, err := ParseKey(s)
		if err != nil {
			return err
		}
		deprecated = append(deprecated, k)
	}
	parsed, err := NewConfiguration(primary, keys, deprecated, contact)
	if err != nil {
		return err
	}
	expiration := time.Duration(in.ExpirationDuration) * time.Second
	validity := time.Duration(in.ValidityDuration) * time.Second
	if in.ExpirationDuration == 0 && in.ValidityDuration == 0 {
		expiration, validity = DefaultTokenExpiration, DefaultTokenValidity
	}
	if err := parsed.SetTokenLifetimes(expiration, validity); err != nil {
		return err
	}
	*c = *parsed
	return nil
}
