package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrInvalidBlob = errors.New("sealed blob too short or corrupt")

// Box seals and opens credential blobs with a single symmetric key. The key
// is injected from config at process start, never baked into source.
type Box struct {
	key [32]byte
}

// NewBox expects a base64-encoded 32 byte key.
func NewBox(encodedKey string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credential key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(raw))
	}

	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal encrypts plaintext with a random nonce prefixed to the output.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open decrypts a blob produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, ErrInvalidBlob
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		return nil, ErrInvalidBlob
	}
	return plaintext, nil
}
