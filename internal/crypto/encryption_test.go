package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyIV(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	iv, err := GenerateIV()
	require.NoError(t, err)
	return key, iv
}

func TestGenerateKeyAndIV(t *testing.T) {
	key, iv := testKeyIV(t)
	assert.Len(t, key, KeySize)
	assert.Len(t, iv, IVSize)

	other, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, iv := testKeyIV(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "short json", plaintext: []byte(`{"wbc": 6.5}`)},
		{name: "exactly one block", plaintext: bytes.Repeat([]byte("a"), 16)},
		{name: "one byte", plaintext: []byte("x")},
		{name: "multi block", plaintext: bytes.Repeat([]byte("report "), 300)},
		{name: "binary", plaintext: []byte{0, 1, 2, 255, 254, 16, 16, 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := Encrypt(tt.plaintext, key, iv)
			require.NoError(t, err)

			raw, err := base64.StdEncoding.DecodeString(ciphertext)
			require.NoError(t, err)
			assert.Zero(t, len(raw)%IVSize)
			assert.Greater(t, len(raw), len(tt.plaintext))

			plaintext, err := Decrypt(ciphertext, key, iv)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, plaintext)
		})
	}
}

func TestEncrypt_IsDeterministicForSameKeyAndIV(t *testing.T) {
	key, iv := testKeyIV(t)
	first, err := Encrypt([]byte("normal"), key, iv)
	require.NoError(t, err)
	second, err := Encrypt([]byte("normal"), key, iv)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncrypt_InvalidInput(t *testing.T) {
	key, iv := testKeyIV(t)

	tests := []struct {
		name      string
		plaintext []byte
		key       []byte
		iv        []byte
	}{
		{name: "empty plaintext", plaintext: nil, key: key, iv: iv},
		{name: "short key", plaintext: []byte("x"), key: []byte("short"), iv: iv},
		{name: "short iv", plaintext: []byte("x"), key: key, iv: iv[:8]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encrypt(tt.plaintext, tt.key, tt.iv)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestDecrypt_InvalidInput(t *testing.T) {
	key, iv := testKeyIV(t)

	tests := []struct {
		name       string
		ciphertext string
	}{
		{name: "empty", ciphertext: ""},
		{name: "not base64", ciphertext: "%%%not-base64%%%"},
		{name: "not a block multiple", ciphertext: base64.StdEncoding.EncodeToString([]byte("fifteen bytes!!"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.ciphertext, key, iv)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestDecrypt_TamperedPaddingIsDetected(t *testing.T) {
	key, iv := testKeyIV(t)
	// 20 bytes of plaintext leave 12 bytes of padding in the second block.
	ciphertext, err := Encrypt([]byte("twenty bytes of data"), key, iv)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	require.Len(t, raw, 32)

	// In CBC the last byte of block one is XORed into the last plaintext byte of
	// block two, so flipping it turns the padding byte 0x0c into 0xf3.
	raw[15] ^= 0xff
	_, err = Decrypt(base64.StdEncoding.EncodeToString(raw), key, iv)
	assert.ErrorIs(t, err, ErrPadding)
}

func TestDecrypt_WrongIVCorruptsPadding(t *testing.T) {
	key, iv := testKeyIV(t)
	ciphertext, err := Encrypt([]byte("abc"), key, iv)
	require.NoError(t, err)

	wrongIV := bytes.Clone(iv)
	wrongIV[15] ^= 0xff
	_, err = Decrypt(ciphertext, key, wrongIV)
	assert.ErrorIs(t, err, ErrPadding)
}

func TestDecrypt_WrongKeyNeverReturnsPlaintext(t *testing.T) {
	key, iv := testKeyIV(t)
	plaintext := []byte(`{"summary": "normal"}`)
	ciphertext, err := Encrypt(plaintext, key, iv)
	require.NoError(t, err)

	otherKey, _ := testKeyIV(t)
	got, err := Decrypt(ciphertext, otherKey, iv)
	if err == nil {
		assert.NotEqual(t, plaintext, got)
	} else {
		assert.ErrorIs(t, err, ErrPadding)
	}
}

func TestUnpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{name: "valid", data: append([]byte("abcdefghijklm"), 3, 3, 3), want: []byte("abcdefghijklm")},
		{name: "full block of padding", data: bytes.Repeat([]byte{16}, 16), want: []byte{}},
		{name: "zero pad byte", data: append(bytes.Repeat([]byte("a"), 15), 0), wantErr: true},
		{name: "pad byte too large", data: append(bytes.Repeat([]byte("a"), 15), 17), wantErr: true},
		{name: "inconsistent", data: append([]byte("abcdefghijklm"), 1, 2, 3), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unpad(tt.data, 16)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPadding)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
