package vaultclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hengadev/capsule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/approle/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["role_id"] != "role" || body["secret_id"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":["invalid role or secret ID"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"auth": {"client_token": "approle-token"}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	server := approleServer(t)

	t.Run("token", func(t *testing.T) {
		client, err := New(ctx, Config{Address: server.URL, Token: "root", Namespace: "admin/capsule"})
		require.NoError(t, err)
		assert.Equal(t, "root", client.Token())
		assert.Equal(t, "admin/capsule", client.Namespace())
	})

	t.Run("approle", func(t *testing.T) {
		client, err := New(ctx, Config{Address: server.URL, RoleID: "role", SecretID: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "approle-token", client.Token())
	})

	t.Run("approle rejected", func(t *testing.T) {
		_, err := New(ctx, Config{Address: server.URL, RoleID: "role", SecretID: "wrong"})
		assert.ErrorIs(t, err, capsule.ErrKeyUnavailable)
	})

	t.Run("no credentials", func(t *testing.T) {
		_, err := New(ctx, Config{Address: server.URL})
		assert.ErrorIs(t, err, capsule.ErrInvalidConfiguration)
	})
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv(EnvAddress, "https://vault.example.com")
	t.Setenv(EnvNamespace, "admin")
	t.Setenv(EnvToken, "t")
	t.Setenv(EnvRoleID, "")
	t.Setenv(EnvSecretID, "")

	assert.Equal(t, Config{Address: "https://vault.example.com", Namespace: "admin", Token: "t"}, FromEnvironment())
}
