package hashicorp

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/capsule"
	"github.com/hengadev/capsule/providers/internal/vaultclient"
)

const (
	defaultMount = "secret"
	defaultField = "private_key"
)

// Config locates the secret holding the signing key.
type Config struct {
	// Path of the secret inside the mount, e.g. "capsule/authority". Required.
	Path string

	// Mount is the KV v2 mount point. Defaults to "secret".
	Mount string

	// Field is the key within the secret data. Defaults to "private_key".
	Field string

	// Vault holds connection settings. When zero they are read from the environment.
	Vault vaultclient.Config
}

// KVSource implements capsule.SigningKeySource with Vault KV v2.
type KVSource struct {
	client *api.Client
	path   string
	field  string
}

var _ capsule.SigningKeySource = (*KVSource)(nil)

// NewKVSource connects to Vault and returns a source for cfg.Path.
func NewKVSource(ctx context.Context, cfg Config) (*KVSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: KV path cannot be empty", capsule.ErrInvalidConfiguration)
	}
	vaultCfg := cfg.Vault
	if vaultCfg == (vaultclient.Config{}) {
		vaultCfg = vaultclient.FromEnvironment()
	}
	client, err := vaultclient.New(ctx, vaultCfg)
	if err != nil {
		return nil, err
	}
	return newKVSource(client, cfg), nil
}

func newKVSource(client *api.Client, cfg Config) *KVSource {
	mount := cfg.Mount
	if mount == "" {
		mount = defaultMount
	}
	field := cfg.Field
	if field == "" {
		field = defaultField
	}
	return &KVSource{client: client, path: dataPath(mount, cfg.Path), field: field}
}

// dataPath returns the KV v2 API path; reads and writes go through "<mount>/data/<path>".
func dataPath(mount, path string) string {
	return strings.Trim(mount, "/") + "/data/" + strings.Trim(path, "/")
}

// SigningKeyPEM reads the PEM from the configured field.
func (k *KVSource) SigningKeyPEM(ctx context.Context) ([]byte, error) {
	secret, err := k.client.Logical().ReadWithContext(ctx, k.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", capsule.ErrKeyUnavailable, k.path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: no secret at %s", capsule.ErrKeyUnavailable, k.path)
	}

	// KV v2 wraps the actual data in a "data" key
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: invalid KV v2 secret format at %s", capsule.ErrKeyUnavailable, k.path)
	}
	value, ok := data[k.field].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: field %q missing at %s", capsule.ErrKeyUnavailable, k.field, k.path)
	}
	return []byte(value), nil
}

// StoreSigningKeyPEM writes pem as a new version of the secret.
func (k *KVSource) StoreSigningKeyPEM(ctx context.Context, pem []byte) error {
	if len(pem) == 0 {
		return fmt.Errorf("%w: signing key cannot be empty", capsule.ErrInvalidConfiguration)
	}
	_, err := k.client.Logical().WriteWithContext(ctx, k.path, map[string]any{
		"data": map[string]any{k.field: string(pem)},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", capsule.ErrKeyUnavailable, k.path, err)
	}
	return nil
}
