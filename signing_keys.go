package capsule

import (
	"crypto/rsa"

	"github.com/hengadev/capsule/internal/crypto"
)

// GenerateSigningKey creates an RSA key pair for the authority or an
// authorizer. bits of 0 selects the default size.
func GenerateSigningKey(bits int) (*rsa.PrivateKey, error) {
	return crypto.GenerateSigningKey(bits)
}

// MarshalSigningKeyPEM encodes key as a PKCS#8 "PRIVATE KEY" block.
func MarshalSigningKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	return crypto.MarshalPrivateKeyPEM(key)
}

// MarshalPublicKeyPEM encodes key as a PKIX "PUBLIC KEY" block, the format
// PEMDirectory reads.
func MarshalPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	return crypto.MarshalPublicKeyPEM(key)
}

// ParseSigningKeyPEM accepts PKCS#1 and PKCS#8 RSA private keys.
func ParseSigningKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	return crypto.ParsePrivateKeyPEM(data)
}

// ParsePublicKeyPEM accepts PKIX and PKCS#1 RSA public keys.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	return crypto.ParsePublicKeyPEM(data)
}
