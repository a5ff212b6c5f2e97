package pushkit

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"

	"golang.org/x/crypto/hkdf"
)

// topicLen is the raw topic identifier length; its base64url form is the
// 32-character string push services expect.
const topicLen = 24

var topicInfo = []byte("WebPush Topic")

// A Topic lets the push service replace queued undelivered messages that
// share it. Derived and random topics are always 32 base64url characters.
type Topic string

// NewTopic derives a deterministic topic from any JSON-encodable value and a
// caller-supplied salt, via HKDF-SHA256. The same value and salt always
// yield the same topic; the value itself is not recoverable from it.
func NewTopic(value any, salt []byte) (Topic, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	ikm := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	out := make([]byte, topicLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, topicInfo), out); err != nil {
		return "", err
	}
	return Topic(b64Encode(out)), nil
}

// RandomTopic returns a fresh random topic.
func RandomTopic() (Topic, error) {
	out := make([]byte, topicLen)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return "", err
	}
	return Topic(b64Encode(out)), nil
}

// UnsafeTopic wraps a caller-provided string verbatim. No validation is
// performed; push services reject topics that are not up to 32 base64url
// characters with a 400.
func UnsafeTopic(s string) Topic {
	return Topic(s)
}
