package capsule

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hengadev/capsule/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyPair(t *testing.T, dir, name string) string {
	t.Helper()
	key := TestSigningKey(t, name)
	private, err := crypto.MarshalPrivateKeyPEM(key)
	require.NoError(t, err)
	public, err := crypto.MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	privatePath := filepath.Join(dir, name+".key")
	require.NoError(t, os.WriteFile(privatePath, private, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".pem"), public, 0o600))
	return privatePath
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewService_RequiresSigningKey(t *testing.T) {
	_, err := NewService(context.Background(), Config{DBPath: t.TempDir()}, WithLogger(discardLogger()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewService_RejectsNilDB(t *testing.T) {
	_, err := NewService(context.Background(), Config{DBPath: t.TempDir()}, WithDB(nil))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewService_FromFiles(t *testing.T) {
	ctx := context.Background()
	keysDir := t.TempDir()
	authorityPath := writeKeyPair(t, keysDir, "authority")
	writeKeyPair(t, keysDir, "doctor-1")

	cfg := Config{
		DBPath:            filepath.Join(t.TempDir(), "data"),
		TempDir:           t.TempDir(),
		AuthorityKeyPath:  authorityPath,
		AuthorizerKeysDir: keysDir,
	}
	svc, err := NewService(ctx, cfg, WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })

	assert.True(t, TestSigningKey(t, "authority").PublicKey.Equal(svc.AuthorityPublicKey()))
	assert.FileExists(t, filepath.Join(cfg.DBPath, DefaultDBFilename))

	res, err := svc.Seal(ctx, bloodTestRequest(t))
	require.NoError(t, err)
	assert.Empty(t, res.SourceObject, "no blob store configured")

	_, err = svc.SourceURL(ctx, res.CapsuleID, 0)
	assert.Equal(t, CodeBlobStore, CodeOf(err))

	req := ClaimRequest{
		Authorizer: "doctor-1",
		Receiver:   "B",
		Capsules:   []string{res.CapsuleID},
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	claim, err := svc.IssueClaim(ctx, signedRequest(t, TestSigningKey(t, "doctor-1"), req))
	require.NoError(t, err)

	access, err := svc.Access(ctx, claim.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, AccessGranted, access.State)

	trail, err := svc.AuditTrail(ctx, res.CapsuleID)
	require.NoError(t, err)
	assert.Len(t, trail, 2, "seal and access")
}

func TestNewService_SigningKeySource(t *testing.T) {
	dir := t.TempDir()
	path := writeKeyPair(t, dir, "authority")

	svc, err := NewService(context.Background(), Config{DBPath: t.TempDir()},
		WithSigningKeySource(FileSigningKeySource(path)), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	assert.True(t, TestSigningKey(t, "authority").PublicKey.Equal(svc.AuthorityPublicKey()))

	_, err = NewService(context.Background(), Config{DBPath: t.TempDir()},
		WithSigningKeySource(FileSigningKeySource(filepath.Join(dir, "missing.key"))), WithLogger(discardLogger()))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestPEMDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeKeyPair(t, dir, "doctor-1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("not a key"), 0o600))
	directory := NewPEMDirectory(dir)

	key, err := directory.PublicKey(ctx, "doctor-1")
	require.NoError(t, err)
	assert.True(t, TestSigningKey(t, "doctor-1").PublicKey.Equal(key))

	for _, name := range []string{"nobody", "../doctor-1", "..", "", "a/b"} {
		_, err := directory.PublicKey(ctx, name)
		assert.ErrorIs(t, err, ErrUnknownAuthorizer, name)
	}

	_, err = directory.PublicKey(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownAuthorizer)
}

func TestService_Listing(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := env.Service.Seal(ctx, bloodTestRequest(t))
		require.NoError(t, err)
		ids = append(ids, res.CapsuleID)
	}
	other := bloodTestRequest(t)
	other.Props.Owner = "patient-2"
	_, err := env.Service.Seal(ctx, other)
	require.NoError(t, err)

	all, err := env.Service.ListCapsules(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	page, err := env.Service.ListCapsulesByOwner(ctx, "patient-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	for _, bad := range [][2]int{{-1, 10}, {0, 0}, {0, -5}} {
		_, err := env.Service.ListCapsules(ctx, bad[0], bad[1])
		assert.Equal(t, CodeValidation, CodeOf(err))
		_, err = env.Service.ListCapsulesByOwner(ctx, "patient-1", bad[0], bad[1])
		assert.Equal(t, CodeValidation, CodeOf(err))
	}
}

func TestService_Lookups(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)

	_, err := env.Service.GetCapsule(ctx, "missing")
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.Service.GetClaim(ctx, "missing")
	assert.Equal(t, CodeNotFound, CodeOf(err))

	_, err = env.Service.SourceURL(ctx, "missing", time.Minute)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	res, err := env.Service.Seal(ctx, bloodTestRequest(t))
	require.NoError(t, err)

	c, err := env.Service.GetCapsule(ctx, res.CapsuleID)
	require.NoError(t, err)
	assert.Equal(t, res.KeyID, c.KeyID)

	url, err := env.Service.SourceURL(ctx, res.CapsuleID, 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://capsules/"+res.SourceObject+"?ttl="+DefaultBlobPresignTTL.String(), url)

	url, err = env.Service.SourceURL(ctx, res.CapsuleID, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "ttl=1m0s")
}
