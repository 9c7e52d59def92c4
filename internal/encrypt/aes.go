package encrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

const (
	NonceSize = 12 // GCM standard nonce size
	KeySize   = 32 // AES-256

	Extension = ".enc"
)

// Sealer encrypts off-site bacpac copies with AES-256-GCM. A sealed object
// is the nonce followed by the ciphertext and its tag.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal reads r to the end and returns the sealed object. GCM authenticates
// the whole message, so the plaintext is held in memory.
func (s *Sealer) Seal(r io.Reader) (*bytes.Reader, error) {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plaintext: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return bytes.NewReader(s.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(r io.Reader) ([]byte, error) {
	sealed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read ciphertext: %w", err)
	}
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("encrypted data too short: %d bytes", len(sealed))
	}

	plaintext, err := s.aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// DecryptFile writes the plaintext of the sealed file in to out.
func (s *Sealer) DecryptFile(in, out string) (int64, error) {
	f, err := os.Open(in)
	if err != nil {
		return 0, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	plaintext, err := s.Open(f)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(out, plaintext, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write output: %w", err)
	}
	return int64(len(plaintext)), nil
}
