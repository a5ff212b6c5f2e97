package pushkit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

const (
	// maxRecordSize is the encrypted payload size push services are
	// guaranteed to accept. Apple for example accepts no more.
	maxRecordSize = 4096

	// contentHeaderLen is salt(16) + record size(4) + key id size(1) +
	// application server public key(65).
	contentHeaderLen = 86

	// header + delimiter + AEAD_AES_128_GCM expansion
	minOverhead = contentHeaderLen + 1 + gcmTagLen

	gcmTagLen = 16
	saltLen   = 16

	// MaxMessageSize is the largest plaintext that encrypts to a record of
	// maxRecordSize. Larger messages are sent opportunistically; the push
	// service decides whether to accept them.
	MaxMessageSize = maxRecordSize - minOverhead
)

var (
	webPushInfo              = []byte("WebPush: info\x00")
	contentEncryptionKeyInfo = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo                = []byte("Content-Encoding: nonce\x00")
)

func hkdfExpand(length int, secret, salt, info []byte) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	_, err := io.ReadFull(hkdfReader, key)
	return key, err
}

// encryptMessage runs the RFC 8291 pipeline: ephemeral ECDH key agreement
// with the user agent key, HKDF-SHA256 derivation of the content encryption
// key and nonce, and a single aes128gcm record per RFC 8188. Conformant
// messages are padded to a fixed size so every wire body is exactly
// maxRecordSize bytes; oversized messages get only the delimiter.
func encryptMessage(message []byte, keys UserAgentKeys) ([]byte, error) {
	appServerKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	appServerPublic := appServerKey.PublicKey().Bytes()

	sharedSecret, err := appServerKey.ECDH(keys.publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSubscriber, err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	keyInfo := slices.Concat(webPushInfo, keys.rawPublic, appServerPublic)
	ikm, err := hkdfExpand(32, sharedSecret, keys.authSecret, keyInfo)
	if err != nil {
		return nil, err
	}
	contentEncryptionKey, err := hkdfExpand(16, ikm, salt, contentEncryptionKeyInfo)
	if err != nil {
		return nil, err
	}
	nonce, err := hkdfExpand(12, ikm, salt, nonceInfo)
	if err != nil {
		return nil, err
	}

	aesCipher, err := aes.NewCipher(contentEncryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return nil, err
	}

	// Messages within the limit are padded with zeros up to the fixed
	// plaintext size, hiding their length. Longer messages carry only the
	// delimiter: the message length is its own padding.
	padded := make([]byte, 0, max(len(message), MaxMessageSize)+1)
	padded = append(padded, message...)
	padded = append(padded, '\x02')
	padded = padded[:cap(padded)]

	record := make([]byte, 0, contentHeaderLen+len(padded)+gcmTagLen)
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, uint32(len(padded)+gcmTagLen))
	record = append(record, byte(len(appServerPublic)))
	record = append(record, appServerPublic...)
	record = gcm.Seal(record, nonce, padded, nil)
	return record, nil
}
