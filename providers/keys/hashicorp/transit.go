package hashicorp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/capsule"
	"github.com/hengadev/capsule/providers/internal/vaultclient"
)

const defaultMountPath = "transit"

// Config selects the transit key.
type Config struct {
	// KeyName is the transit key used to wrap capsule keys. Required.
	KeyName string

	// MountPath is where the transit engine is mounted. Defaults to "transit".
	MountPath string

	// Vault holds connection settings. When zero they are read from the environment.
	Vault vaultclient.Config
}

// TransitWrapper implements capsule.KeyWrapper with Vault Transit.
type TransitWrapper struct {
	client  *api.Client
	mount   string
	keyName string
}

var _ capsule.KeyWrapper = (*TransitWrapper)(nil)

// NewTransitWrapper connects to Vault and returns a wrapper for cfg.KeyName.
func NewTransitWrapper(ctx context.Context, cfg Config) (*TransitWrapper, error) {
	if cfg.KeyName == "" {
		return nil, fmt.Errorf("%w: transit key name cannot be empty", capsule.ErrInvalidConfiguration)
	}
	vaultCfg := cfg.Vault
	if vaultCfg == (vaultclient.Config{}) {
		vaultCfg = vaultclient.FromEnvironment()
	}
	client, err := vaultclient.New(ctx, vaultCfg)
	if err != nil {
		return nil, err
	}
	return newTransitWrapper(client, cfg), nil
}

func newTransitWrapper(client *api.Client, cfg Config) *TransitWrapper {
	mount := cfg.MountPath
	if mount == "" {
		mount = defaultMountPath
	}
	return &TransitWrapper{client: client, mount: mount, keyName: cfg.KeyName}
}

// Name identifies the transit key, e.g. "vault-transit:capsule-keys".
func (t *TransitWrapper) Name() string {
	return "vault-transit:" + t.keyName
}

// CreateKey creates the transit key if it does not exist yet.
func (t *TransitWrapper) CreateKey(ctx context.Context) error {
	_, err := t.client.Logical().WriteWithContext(ctx, fmt.Sprintf("%s/keys/%s", t.mount, t.keyName), map[string]any{
		"type": "aes256-gcm96",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create transit key '%s': %w", capsule.ErrKeyUnavailable, t.keyName, err)
	}
	return nil
}

// WrapKey returns Vault ciphertext ("vault:v1:...") for plaintext.
func (t *TransitWrapper) WrapKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: key material cannot be empty", capsule.ErrKeyUnavailable)
	}
	resp, err := t.client.Logical().WriteWithContext(ctx, fmt.Sprintf("%s/encrypt/%s", t.mount, t.keyName), map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: transit encrypt with '%s': %w", capsule.ErrKeyUnavailable, t.keyName, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: empty transit encrypt response", capsule.ErrKeyUnavailable)
	}
	ciphertext, ok := resp.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return nil, fmt.Errorf("%w: ciphertext missing from transit response", capsule.ErrKeyUnavailable)
	}
	return []byte(ciphertext), nil
}

// UnwrapKey reverses WrapKey.
func (t *TransitWrapper) UnwrapKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped key cannot be empty", capsule.ErrKeyUnavailable)
	}
	resp, err := t.client.Logical().WriteWithContext(ctx, fmt.Sprintf("%s/decrypt/%s", t.mount, t.keyName), map[string]any{
		"ciphertext": string(wrapped),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: transit decrypt with '%s': %w", capsule.ErrKeyUnavailable, t.keyName, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: empty transit decrypt response", capsule.ErrKeyUnavailable)
	}
	encoded, ok := resp.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: plaintext missing from transit response", capsule.ErrKeyUnavailable)
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: transit plaintext is not base64: %w", capsule.ErrKeyUnavailable, err)
	}
	return plaintext, nil
}
