package pushkit

import (
	"encoding/json"
	"errors"
	"regexp"
	"slices"
	"testing"
	"time"

	"github.com/daaku/ensure"
)

func TestNewConfigurationInvariants(t *testing.T) {
	primary := must(GenerateKey())
	extra := must(GenerateKey())
	deprecated := must(GenerateKey())

	config, err := NewConfiguration(primary, []*Key{extra}, []*Key{deprecated}, validContact)
	ensure.Nil(t, err)

	// primary is part of the active set
	active := config.ActiveKeys()
	ensure.DeepEqual(t, len(active), 2)
	ensure.True(t, active[0].Equal(primary))

	// active and deprecated stay disjoint
	for _, a := range active {
		for _, d := range config.DeprecatedKeys() {
			ensure.False(t, a.Equal(d))
		}
	}

	ensure.DeepEqual(t, config.TokenExpiration(), DefaultTokenExpiration)
	ensure.DeepEqual(t, config.TokenValidity(), DefaultTokenValidity)
}

func TestNewConfigurationNoKeys(t *testing.T) {
	_, err := NewConfiguration(nil, nil, nil, validContact)
	ensure.True(t, errors.Is(err, ErrKeysNotProvided))
}

func TestNewConfigurationOverlap(t *testing.T) {
	key := must(GenerateKey())
	_, err := NewConfiguration(key, nil, []*Key{key}, validContact)
	ensure.Err(t, err, regexp.MustCompile("both active and deprecated"))
}

func TestNewConfigurationPrimaryDeduped(t *testing.T) {
	primary := must(GenerateKey())
	config, err := NewConfiguration(primary, []*Key{primary}, nil, validContact)
	ensure.Nil(t, err)
	ensure.DeepEqual(t, len(config.ActiveKeys()), 1)
}

func TestUpdateKeys(t *testing.T) {
	a, b, c := must(GenerateKey()), must(GenerateKey()), must(GenerateKey())
	config := must(NewConfiguration(a, nil, nil, validContact))

	ensure.Nil(t, config.UpdateKeys(b, []*Key{c}, []*Key{a}))
	ensure.DeepEqual(t, config.KeyStatus(a.ID()), KeyStatusDeprecated)
	ensure.DeepEqual(t, config.KeyStatus(b.ID()), KeyStatusValid)
	ensure.DeepEqual(t, config.KeyStatus(c.ID()), KeyStatusValid)

	// A failing update leaves the sets untouched.
	ensure.NotNil(t, config.UpdateKeys(nil, nil, []*Key{a}))
	ensure.DeepEqual(t, config.KeyStatus(b.ID()), KeyStatusValid)
	ensure.DeepEqual(t, config.KeyStatus(a.ID()), KeyStatusDeprecated)
}

func TestKeyStatus(t *testing.T) {
	active := must(GenerateKey())
	deprecated := must(GenerateKey())
	unknown := must(GenerateKey())
	config := must(NewConfiguration(nil, []*Key{active}, []*Key{deprecated}, validContact))

	ensure.DeepEqual(t, config.KeyStatus(active.ID()), KeyStatusValid)
	ensure.DeepEqual(t, config.KeyStatus(deprecated.ID()), KeyStatusDeprecated)
	ensure.DeepEqual(t, config.KeyStatus(unknown.ID()), KeyStatusUnknown)
}

func TestNextKeyIDPrimary(t *testing.T) {
	primary := must(GenerateKey())
	extra := must(GenerateKey())
	config := must(NewConfiguration(primary, []*Key{extra}, nil, validContact))
	for range 10 {
		ensure.DeepEqual(t, config.NextKeyID(), primary.ID())
	}
}

func TestNextKeyIDRandomFromActive(t *testing.T) {
	a, b := must(GenerateKey()), must(GenerateKey())
	deprecated := must(GenerateKey())
	config := must(NewConfiguration(nil, []*Key{a, b}, []*Key{deprecated}, validContact))
	activeIDs := []KeyID{a.ID(), b.ID()}
	for range 20 {
		id := config.NextKeyID()
		ensure.True(t, slices.Contains(activeIDs, id))
	}
}

func TestSetTokenLifetimes(t *testing.T) {
	config := must(NewConfiguration(must(GenerateKey()), nil, nil, validContact))
	ensure.Err(t,
		config.SetTokenLifetimes(time.Hour, 2*time.Hour),
		regexp.MustCompile("validity .* exceeds expiration"))
	ensure.Nil(t, config.SetTokenLifetimes(4*time.Hour, 2*time.Hour))
	ensure.DeepEqual(t, config.TokenExpiration(), 4*time.Hour)
	ensure.DeepEqual(t, config.TokenValidity(), 2*time.Hour)
}

func TestConfigurationJSONRoundTrip(t *testing.T) {
	primary := must(GenerateKey())
	extra := must(GenerateKey())
	deprecated := must(GenerateKey())
	config := must(NewConfiguration(primary, []*Key{extra}, []*Key{deprecated}, validMailtoContact))
	ensure.Nil(t, config.SetTokenLifetimes(22*time.Hour, 20*time.Hour))

	data, err := json.Marshal(config)
	ensure.Nil(t, err)

	// The primary key is not repeated in keys.
	var raw configurationJSON
	ensure.Nil(t, json.Unmarshal(data, &raw))
	ensure.DeepEqual(t, *raw.PrimaryKey, primary.String())
	ensure.DeepEqual(t, raw.Keys, []string{extra.String()})
	ensure.DeepEqual(t, raw.DeprecatedKeys, []string{deprecated.String()})
	ensure.DeepEqual(t, raw.ContactInformation, "mailto:admin@app.server")
	ensure.DeepEqual(t, raw.ExpirationDuration, int64(79200))
	ensure.DeepEqual(t, raw.ValidityDuration, int64(72000))

	var decoded Configuration
	ensure.Nil(t, json.Unmarshal(data, &decoded))
	ensure.True(t, decoded.Primary().Equal(primary))
	ensure.DeepEqual(t, len(decoded.ActiveKeys()), 2)
	ensure.DeepEqual(t, decoded.KeyStatus(deprecated.ID()), KeyStatusDeprecated)
	ensure.DeepEqual(t, decoded.Contact().String(), "mailto:admin@app.server")
	ensure.DeepEqual(t, decoded.TokenExpiration(), 22*time.Hour)
	ensure.DeepEqual(t, decoded.TokenValidity(), 20*time.Hour)
}

func TestParseContact(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"mailto:ops@example.com", "mailto:ops@example.com", true},
		{"https://example.com/support", "https://example.com/support", true},
		{"http://example.com/support", "http://example.com/support", true},
		{"mailto:@example.com", "", false},
		{"mailto:nobody", "", false},
		{"ftp://example.com", "", false},
		{"ops@example.com", "", false},
	}
	for _, c := range cases {
		t.Run(c.input, func(t *testing.T) {
			contact, err := ParseContact(c.input)
			if c.ok {
				ensure.Nil(t, err)
				ensure.DeepEqual(t, contact.String(), c.want)
			} else {
				ensure.True(t, errors.Is(err, ErrInvalidContact))
			}
		})
	}
}
