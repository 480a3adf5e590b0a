// Package credential encrypts and decrypts the secrets stored on model.Key.EncryptedSecret at
// rest, so a database dump alone never yields usable upstream credentials.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/Laisky/errors/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Store encrypts/decrypts secrets with a single long-lived AEAD key, set once at process start
// from config.CredentialEncryptionKey.
type Store struct {
	aead chacha20poly1305.AEAD
}

// NewStore builds a Store from a 32-byte key. key may be supplied as raw 32 bytes or as a
// base64-encoded 32-byte value, matching however an operator finds it easiest to generate and
// hold the secret.
func NewStore(key string) (*Store, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(raw)
	if err != nil {
		return nil, errors.Wrap(err, "init aead cipher")
	}

	return &Store{aead: aead}, nil
}

func decodeKey(key string) ([]byte, error) {
	if len(key) == chacha20poly1305.KeySize {
		return []byte(key), nil
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, errors.Wrap(err, "credential encryption key must be 32 raw bytes or base64-encoded")
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("credential encryption key must decode to %d bytes, got %d",
			chacha20poly1305.KeySize, len(raw))
	}
	return raw, nil
}

// Encrypt seals plaintext into a self-describing base64 string: a random nonce followed by the
// ciphertext, so Decrypt needs nothing but the Store's key to reverse it.
func (s *Store) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. An empty input decrypts to an empty string so callers can store
// unset secrets without special-casing them.
func (s *Store) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("ciphertext shorter than nonce")
	}

	nonce, data := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt secret")
	}
	return string(plaintext), nil
}
