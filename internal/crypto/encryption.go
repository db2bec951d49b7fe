package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for empty plaintext, malformed base64, bad key/iv sizes
	// and ciphertext whose length is not a multiple of the block size.
	ErrInvalidInput = errors.New("invalid cipher input")
	// ErrPadding is returned when the decrypted block does not end with valid PKCS#7 padding,
	// which in practice means the key/iv pair is wrong or the ciphertext was altered.
	ErrPadding = errors.New("invalid padding")
)

// Encrypt pads plaintext with PKCS#7 and encrypts it with AES in CBC mode.
//
// The IV is not prepended to the output: it lives in the key record and must be
// supplied identically to Decrypt. The result is the standard base64 encoding of
// the raw ciphertext.
func Encrypt(plaintext, key, iv []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("%w: plaintext cannot be empty", ErrInvalidInput)
	}
	block, err := newBlock(key, iv)
	if err != nil {
		return "", err
	}

	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertextB64 string, key, iv []byte) ([]byte, error) {
	if ciphertextB64 == "" {
		return nil, fmt.Errorf("%w: ciphertext cannot be empty", ErrInvalidInput)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not valid base64: %w", ErrInvalidInput, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrInvalidInput, len(ciphertext))
	}
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return unpad(padded, aes.BlockSize)
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrInvalidInput, IVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create AES cipher: %w", ErrInvalidInput, err)
	}
	return block, nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: padded data has length %d", ErrPadding, len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: padding byte out of range", ErrPadding)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent padding bytes", ErrPadding)
		}
	}
	return data[:len(data)-n], nil
}
