package capsule

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/hengadev/capsule/internal/crypto"
)

// StaticDirectory is an in-memory AuthorizerDirectory.
type StaticDirectory struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{keys: make(map[string]*rsa.PublicKey)}
}

// Add registers or replaces the public key of an authorizer.
func (d *StaticDirectory) Add(authorizer string, key *rsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[authorizer] = key
}

func (d *StaticDirectory) PublicKey(ctx context.Context, authorizer string) (*rsa.PublicKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.keys[authorizer]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownAuthorizer, authorizer)
	}
	return key, nil
}

var authorizerName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]*$`)

// PEMDirectory reads "<dir>/<authorizer>.pem" on every lookup, so keys can be
// added or rotated without a restart.
type PEMDirectory struct {
	dir string
}

func NewPEMDirectory(dir string) *PEMDirectory {
	return &PEMDirectory{dir: dir}
}

func (d *PEMDirectory) PublicKey(ctx context.Context, authorizer string) (*rsa.PublicKey, error) {
	if !authorizerName.MatchString(authorizer) || authorizer == "." || authorizer == ".." {
		return nil, fmt.Errorf("%w: invalid authorizer name %q", ErrUnknownAuthorizer, authorizer)
	}
	data, err := os.ReadFile(filepath.Join(d.dir, authorizer+".pem"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownAuthorizer, authorizer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read public key of '%s': %w", authorizer, err)
	}
	key, err := crypto.ParsePublicKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("public key of '%s': %w", authorizer, err)
	}
	return key, nil
}

// noDirectory rejects every authorizer; used when none is configured.
type noDirectory struct{}

func (noDirectory) PublicKey(ctx context.Context, authorizer string) (*rsa.PublicKey, error) {
	return nil, fmt.Errorf("%w: no authorizer directory configured", ErrUnknownAuthorizer)
}

// FileSigningKeySource reads the authority private key from a PEM file.
type FileSigningKeySource string

func (f FileSigningKeySource) SigningKeyPEM(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return data, nil
}

func loadSigningKey(ctx context.Context, source SigningKeySource) (*rsa.PrivateKey, error) {
	data, err := source.SigningKeyPEM(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.ParsePrivateKeyPEM(data)
}
