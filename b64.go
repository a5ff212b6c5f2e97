package pushkit

import (
	"encoding/base64"
	"fmt"
)

// b64Encode is the canonical encoding for keys, tokens and topics:
// Base64 URL alphabet, no padding (RFC 4648 section 5).
func b64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// b64Decode decodes the canonical unpadded URL encoding. Malformed input
// yields an error matching ErrInvalidBase64URL.
func b64Decode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase64URL, err)
	}
	return b, nil
}

func b64LooseEncoding(s string) *base64.Encoding {
	hasPadding := len(s) > 0 && s[len(s)-1] == '='
	isURL := false

outer:
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '-', '_':
			isURL = true
			break outer
		case '+', '/':
			break outer
		}
	}

	switch {
	case isURL && hasPadding:
		return base64.URLEncoding
	case isURL && !hasPadding:
		return base64.RawURLEncoding
	case !isURL && hasPadding:
		return base64.StdEncoding
	case !isURL && !hasPadding:
		return base64.RawStdEncoding
	}
	panic("pushkit: impossible case of b64 encoding")
}

// b64LooseDecode accepts any of the four base64 variations. Browsers are not
// uniform in how they encode subscription key material, so ingestion is
// permissive even though everything we emit uses the canonical encoding.
func b64LooseDecode(s string) ([]byte, error) {
	b, err := b64LooseEncoding(s).DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase64URL, err)
	}
	return b, nil
}
