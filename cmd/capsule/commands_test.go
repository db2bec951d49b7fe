package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hengadev/capsule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	privatePath, publicPath, err := writeKeyPair(dir, "doctor-1", 2048)
	require.NoError(t, err)

	info, err := os.Stat(privatePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	private, err := os.ReadFile(privatePath)
	require.NoError(t, err)
	key, err := capsule.ParseSigningKeyPEM(private)
	require.NoError(t, err)

	public, err := os.ReadFile(publicPath)
	require.NoError(t, err)
	pub, err := capsule.ParsePublicKeyPEM(public)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))

	_, _, err = writeKeyPair(dir, "doctor-1", 2048)
	assert.Error(t, err, "existing private keys are never overwritten")

	_, _, err = writeKeyPair(dir, "", 2048)
	assert.Error(t, err)
}

func TestLoadProps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type": "10001", "owner": "patient-1", "producer": "lab-1", "age": 42, "area": {"city": "Lyon"}}`), 0o600))

	props, err := loadProps(path, "", "patient-2", "")
	require.NoError(t, err)
	assert.Equal(t, "10001", props.Type)
	assert.Equal(t, "patient-2", props.Owner)
	assert.Equal(t, "lab-1", props.Producer)
	require.NotNil(t, props.Age)
	assert.Equal(t, 42, *props.Age)
	assert.Equal(t, "Lyon", props.Area["city"])

	props, err = loadProps("", "20001", "p", "c")
	require.NoError(t, err)
	assert.Equal(t, capsule.CollectorProps{Type: "20001", Owner: "p", Producer: "c"}, props)

	_, err = loadProps(filepath.Join(t.TempDir(), "missing.json"), "", "", "")
	assert.Error(t, err)
}

func TestStageFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o600))
	tempDir := filepath.Join(t.TempDir(), "staging")

	staged, err := stageFile(src, tempDir)
	require.NoError(t, err)
	assert.Equal(t, ".pdf", filepath.Ext(staged))
	assert.Equal(t, tempDir, filepath.Dir(staged))

	data, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
	assert.FileExists(t, src, "the original is left alone")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Equal(t, []string{}, splitList(""))
}

// writeConfig creates an authority key and a YAML config around it.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	keysDir := filepath.Join(dir, "authorizers")
	authorityKey, _, err := writeKeyPair(filepath.Join(dir, "authority"), "authority", 2048)
	require.NoError(t, err)
	_, _, err = writeKeyPair(keysDir, "doctor-1", 2048)
	require.NoError(t, err)

	config := fmt.Sprintf(`db_path: %s
temp_dir: %s
extraction_timeout: 5s
authority_key_path: %s
authorizer_keys_dir: %s
log_level: error
`, filepath.Join(dir, "db"), filepath.Join(dir, "tmp"), authorityKey, keysDir)
	path := filepath.Join(dir, "capsule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))
	return path, keysDir
}

func TestSealGrantAccess(t *testing.T) {
	ctx := context.Background()
	configPath, keysDir := writeConfig(t)

	report := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(report, []byte("WBC 6.5"), 0o600))
	raw := filepath.Join(t.TempDir(), "raw.json")
	require.NoError(t, os.WriteFile(raw, []byte(`{"wbc": 6.5}`), 0o600))

	require.NoError(t, sealCommand(ctx, []string{
		"-config", configPath,
		"-file", report,
		"-type", "20001", "-owner", "patient-1", "-producer", "lab-1",
		"-raw", raw, "-summary", "normal",
	}))
	assert.FileExists(t, report)

	sf := serviceFlags{configPath: configPath}
	svc, _, closeAll, err := sf.open(ctx)
	require.NoError(t, err)
	capsules, err := svc.ListCapsulesByOwner(ctx, "patient-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, capsules, 1)
	closeAll()

	require.NoError(t, grantCommand(ctx, []string{
		"-config", configPath,
		"-authorizer", "doctor-1",
		"-key", filepath.Join(keysDir, "doctor-1.key"),
		"-receiver", "B",
		"-capsules", capsules[0].ID,
		"-ttl", time.Hour.String(),
		"-one-time",
	}))

	svc, _, closeAll, err = sf.open(ctx)
	require.NoError(t, err)
	defer closeAll()
	claims, err := svc.ListClaimsByReceiver(ctx, "B")
	require.NoError(t, err)
	require.Len(t, claims, 1)

	require.NoError(t, accessCommand(ctx, []string{"-config", configPath, "-claim", claims[0].ID, "-presenter", "B"}))
	err = accessCommand(ctx, []string{"-config", configPath, "-claim", claims[0].ID, "-presenter", "B"})
	assert.Equal(t, capsule.ReasonDeprecated, capsule.ReasonOf(err))
}

func TestServiceFlags_Exclusive(t *testing.T) {
	ctx := context.Background()
	configPath, _ := writeConfig(t)

	sf := serviceFlags{configPath: configPath, kmsKey: "k", transitKey: "t"}
	_, _, _, err := sf.open(ctx)
	assert.ErrorContains(t, err, "mutually exclusive")

	sf = serviceFlags{configPath: configPath, signingSecret: "s", signingKV: "kv"}
	_, _, _, err = sf.open(ctx)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestServiceFlags_BadgerAudit(t *testing.T) {
	ctx := context.Background()
	configPath, _ := writeConfig(t)
	auditDir := filepath.Join(t.TempDir(), "audit")

	sf := serviceFlags{configPath: configPath, auditDir: auditDir}
	svc, cfg, closeAll, err := sf.open(ctx)
	require.NoError(t, err)
	defer closeAll()
	assert.Equal(t, 5*time.Second, cfg.ExtractionTimeout)

	report := filepath.Join(cfg.TempDir, "r.txt")
	require.NoError(t, os.MkdirAll(cfg.TempDir, 0o700))
	require.NoError(t, os.WriteFile(report, []byte("x"), 0o600))
	res, err := svc.Seal(ctx, capsule.SealRequest{
		SourcePath: report,
		Props:      capsule.CollectorProps{Type: "20001", Owner: "patient-1", Producer: "lab-1"},
		Raw:        map[string]any{"x": 1},
	})
	require.NoError(t, err)

	trail, err := svc.AuditTrail(ctx, res.CapsuleID)
	require.NoError(t, err)
	assert.Empty(t, trail, "records go to badger, not the database")
	assert.DirExists(t, auditDir)
}

func TestServiceFlags_Stats(t *testing.T) {
	configPath, _ := writeConfig(t)

	sf := serviceFlags{configPath: configPath, stats: true}
	svc, _, closeAll, err := sf.open(context.Background())
	require.NoError(t, err)
	_, err = svc.Keys().ResolveOrIssue(context.Background())
	require.NoError(t, err)
	closeAll()

	assert.NoError(t, printCounters(map[string]int64{"b": 1, "a": 2}))
}
