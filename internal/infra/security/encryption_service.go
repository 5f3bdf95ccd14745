// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	envelopePrefix = "v1."
	kidSize        = 4
)

var (
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrUnknownKey         = errors.New("sealed with an unknown key")
)

// EncryptionService seals small records (pending checkout intents) at rest
// with AES-GCM. A sealed value is "v1." + base64url(kid || nonce || ct), kid
// being the first bytes of SHA-256(key). The first key seals; previous keys
// stay usable for Open so a rotation does not strand records still inside
// their TTL.
type EncryptionService struct {
	primary [kidSize]byte
	keys    map[[kidSize]byte]cipher.AEAD
}

func NewEncryptionService(key string, previous ...string) (*EncryptionService, error) {
	svc := &EncryptionService{keys: make(map[[kidSize]byte]cipher.AEAD)}
	for i, k := range append([]string{key}, previous...) {
		aead, err := newAEAD(k)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		id := kid(k)
		if i == 0 {
			svc.primary = id
		}
		if _, dup := svc.keys[id]; !dup {
			svc.keys[id] = aead
		}
	}
	return svc, nil
}

func kid(key string) [kidSize]byte {
	sum := sha256.Sum256([]byte(key))
	var id [kidSize]byte
	copy(id[:], sum[:kidSize])
	return id
}

func newAEAD(key string) (cipher.AEAD, error) {
	if n := len(key); n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext bound to aad (the owning client key), so a record
// copied under another key fails to open.
func (e *EncryptionService) Seal(plaintext, aad []byte) (string, error) {
	gcm := e.keys[e.primary]
	buf := make([]byte, kidSize+gcm.NonceSize(), kidSize+gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	copy(buf, e.primary[:])
	if _, err := io.ReadFull(rand.Reader, buf[kidSize:]); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	out := gcm.Seal(buf, buf[kidSize:], plaintext, aad)
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (e *EncryptionService) Open(sealed string, aad []byte) ([]byte, error) {
	body, ok := strings.CutPrefix(sealed, envelopePrefix)
	if !ok {
		return nil, errors.New("unsupported envelope")
	}
	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(data) < kidSize {
		return nil, ErrCiphertextTooShort
	}
	var id [kidSize]byte
	copy(id[:], data)
	gcm, ok := e.keys[id]
	if !ok {
		return nil, ErrUnknownKey
	}
	ns := gcm.NonceSize()
	if len(data) < kidSize+ns+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	pt, err := gcm.Open(nil, data[kidSize:kidSize+ns], data[kidSize+ns:], aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}
