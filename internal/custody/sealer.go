package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"ephemeral-vault/internal/domain"
)

// Supported sealing ciphers.
const (
	CipherAESGCM           = "aes-256-gcm"
	CipherChaCha20Poly1305 = "chacha20-poly1305"
)

// NonceSize is the leading nonce width of every sealed payload.
const NonceSize = 12

// Sealer encrypts secrets as base64(nonce || ciphertext) under a key
// derived from a master secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 256-bit key as SHA256(masterSecret) and builds the
// requested AEAD. An empty cipher name selects AES-256-GCM.
func NewSealer(name, masterSecret string) (*Sealer, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret required: %w", domain.ErrCrypto)
	}
	key := sha256.Sum256([]byte(masterSecret))

	var (
		aead cipher.AEAD
		err  error
	)
	switch name {
	case "", CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key[:])
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key[:])
	default:
		return nil, fmt.Errorf("unknown cipher %q: %w", name, domain.ErrCrypto)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w: %v", name, domain.ErrCrypto, err)
	}
	if aead.NonceSize() != NonceSize {
		return nil, fmt.Errorf("cipher %s nonce size %d: %w", name, aead.NonceSize(), domain.ErrCrypto)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w: %v", domain.ErrCrypto, err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open authenticates and decrypts a payload produced by Seal.
// Malformed, short or tampered input fails with ErrCrypto.
func (s *Sealer) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode: %w: %v", domain.ErrCrypto, err)
	}
	if len(raw) < NonceSize {
		return nil, fmt.Errorf("payload of %d bytes: %w", len(raw), domain.ErrCrypto)
	}
	plaintext, err := s.aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w: %v", domain.ErrCrypto, err)
	}
	return plaintext, nil
}
