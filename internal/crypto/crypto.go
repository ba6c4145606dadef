// Package crypto provides the AES-256-GCM sealing used for every file the
// monitor writes to disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// SaltSize is the argon2id salt length used by DeriveKey callers.
	SaltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	ErrKeySize        = errors.New("encryption key must be 32 bytes for AES-256")
	ErrCiphertextSize = errors.New("ciphertext too short")
	// ErrDecrypt means authentication failed: wrong key or tampered data.
	ErrDecrypt = errors.New("decryption failed")
)

// Sealer encrypts and decrypts byte slices with a fixed key. The nonce is
// prepended to the ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer. The key must be exactly KeySize bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: gcm}, nil
}

// NewPassphraseSealer derives a key from passphrase and salt and returns a
// Sealer for it.
func NewPassphraseSealer(passphrase string, salt []byte) (*Sealer, error) {
	return NewSealer(DeriveKey(passphrase, salt))
}

// Seal returns nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrCiphertextSize
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// DeriveKey stretches a passphrase into an AES-256 key with argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewPassphrase returns a random 32-byte passphrase, hex encoded.
func NewPassphrase() (string, error) {
	b, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
