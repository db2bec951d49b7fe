// Package vaultclient builds authenticated HashiCorp Vault clients for the
// transit key wrapper and the KV v2 signing key source.
package vaultclient

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/capsule"
)

const (
	EnvAddress   = "VAULT_ADDR"
	EnvNamespace = "VAULT_NAMESPACE"
	EnvToken     = "VAULT_TOKEN"
	EnvRoleID    = "VAULT_ROLE_ID"
	EnvSecretID  = "VAULT_SECRET_ID"
)

// Config selects the Vault server and how to authenticate against it.
// Token wins over AppRole when both are set.
type Config struct {
	Address   string
	Namespace string
	Token     string
	RoleID    string
	SecretID  string
}

// FromEnvironment reads VAULT_ADDR, VAULT_NAMESPACE, VAULT_TOKEN,
// VAULT_ROLE_ID and VAULT_SECRET_ID.
func FromEnvironment() Config {
	return Config{
		Address:   os.Getenv(EnvAddress),
		Namespace: os.Getenv(EnvNamespace),
		Token:     os.Getenv(EnvToken),
		RoleID:    os.Getenv(EnvRoleID),
		SecretID:  os.Getenv(EnvSecretID),
	}
}

// New returns a client authenticated with cfg. AppRole authentication
// performs a login round trip.
func New(ctx context.Context, cfg Config) (*api.Client, error) {
	config := api.DefaultConfig()
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	if config.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required (%s)", capsule.ErrInvalidConfiguration, EnvAddress)
	}
	config.HttpClient.Transport = &http.Transport{Proxy: http.ProxyFromEnvironment}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create vault client: %w", capsule.ErrKeyUnavailable, err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
	case cfg.RoleID != "" && cfg.SecretID != "":
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: approle login failed: %w", capsule.ErrKeyUnavailable, err)
		}
		if resp == nil || resp.Auth == nil {
			return nil, fmt.Errorf("%w: approle login returned no auth info", capsule.ErrKeyUnavailable)
		}
		client.SetToken(resp.Auth.ClientToken)
	default:
		return nil, fmt.Errorf("%w: no vault authentication configured (set %s or %s and %s)",
			capsule.ErrInvalidConfiguration, EnvToken, EnvRoleID, EnvSecretID)
	}
	return client, nil
}
