package pushkit

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// tokenHeader is the fixed JOSE header for VAPID tokens, per RFC 8292. The
// field order matters: verification compares the encoded header byte for
// byte.
const tokenHeader = `{"typ":"JWT","alg":"ES256"}`

var tokenHeaderB64 = b64Encode([]byte(tokenHeader))

// A Token holds the claims of a VAPID JWT.
type Token struct {
	// Audience is the push service origin the token is scoped to.
	Audience string `json:"aud"`
	// Subject is the application server's contact information URL.
	Subject string `json:"sub"`
	// Expiration is the expiry time in Unix seconds.
	Expiration int64 `json:"exp"`
}

// NewToken builds the claims for a request to endpoint: the audience is the
// endpoint's origin, the subject the configured contact.
func NewToken(endpoint string, contact Contact, expiration int64) *Token {
	return &Token{
		Audience:   origin(endpoint),
		Subject:    contact.String(),
		Expiration: expiration,
	}
}

// encodeClaims produces the claims JSON with sorted keys and no slash
// escaping, so the signed form is reproducible bit for bit.
func (t *Token) encodeClaims() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Field order here is the sorted key order.
	if err := enc.Encode(struct {
		Audience   string `json:"aud"`
		Expiration int64  `json:"exp"`
		Subject    string `json:"sub"`
	}{t.Audience, t.Expiration, t.Subject}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Generate signs the token with key and returns the compact JWT.
func (t *Token) Generate(key *Key) (string, error) {
	claims, err := t.encodeClaims()
	if err != nil {
		return "", err
	}
	signingInput := tokenHeaderB64 + "." + b64Encode(claims)
	sig, err := key.Sign([]byte(signingInput))
	if err != nil {
		return "", err
	}
	return signingInput + "." + b64Encode(sig), nil
}

// Authorization signs the token and formats the Authorization header value
// per RFC 8292 section 3: "vapid t=<JWT>, k=<KeyID>".
func (t *Token) Authorization(key *Key) (string, error) {
	jwtString, err := t.Generate(key)
	if err != nil {
		return "", err
	}
	return "vapid t=" + jwtString + ", k=" + string(key.ID()), nil
}

// VerifyToken checks a compact JWT against the public key identified by id
// and returns its claims. It requires the exact fixed VAPID header. Any
// malformed part or signature mismatch returns nil.
func VerifyToken(token string, id KeyID) *Token {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	if parts[0] != tokenHeaderB64 {
		return nil
	}
	body, err := b64Decode(parts[1])
	if err != nil {
		return nil
	}
	sig, err := b64Decode(parts[2])
	if err != nil {
		return nil
	}
	pub, err := id.publicKey()
	if err != nil {
		return nil
	}
	if err := jwt.SigningMethodES256.Verify(parts[0]+"."+parts[1], sig, pub); err != nil {
		return nil
	}
	var t Token
	if err := json.Unmarshal(body, &t); err != nil {
		return nil
	}
	return &t
}

// origin reduces an endpoint URL to its RFC 6454 serialized origin. Only
// http and https endpoints have an origin; everything else is the literal
// string "null". Default ports are elided.
func origin(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "null"
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "null"
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "null"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]" // IPv6 literal
	}
	port := u.Port()
	if port == "" ||
		(scheme == "http" && port == "80") ||
		(scheme == "https" && port == "443") {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}
