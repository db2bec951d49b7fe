package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
)

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	return randomBytes(KeySize, "key")
}

// GenerateIV returns a fresh random CBC initialization vector.
func GenerateIV() ([]byte, error) {
	return randomBytes(IVSize, "iv")
}

func randomBytes(n int, what string) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", what, err)
	}
	return b, nil
}
