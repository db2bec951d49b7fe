package capsule

// Test doubles and a ready-made service for tests of this package and of
// code built on top of it.

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hengadev/capsule/internal/crypto"
	"github.com/hengadev/capsule/internal/store"
)

// InMemoryBlobStore implements BlobStore with a map. Set PutErr to make uploads fail.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	PutErr  error
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{objects: make(map[string][]byte)}
}

func (b *InMemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PutErr != nil {
		return b.PutErr
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *InMemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object '%s': %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (b *InMemoryBlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.objects[key]; !ok {
		return "", fmt.Errorf("object '%s': %w", key, ErrNotFound)
	}
	return fmt.Sprintf("memory://capsules/%s?ttl=%s", key, ttl), nil
}

// StaticExtractor returns Result, or Err, after an optional Delay.
type StaticExtractor struct {
	Result *Extraction
	Err    error
	Delay  time.Duration
}

func (e StaticExtractor) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Result, nil
}

// InMemoryAuditSink records appended audit facts. Set Err to make appends fail.
type InMemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
	Err     error
}

func (s *InMemoryAuditSink) Append(ctx context.Context, record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRecord(nil), s.records...)
}

// TestEnv is a Service over an in-memory database with in-memory collaborators.
type TestEnv struct {
	Service   *Service
	Store     *store.Store
	Blobs     *InMemoryBlobStore
	Audit     *InMemoryAuditSink
	Directory *StaticDirectory
	Authority *rsa.PrivateKey
}

// NewTestService builds a TestEnv. opts are applied after the test defaults,
// so they can replace any collaborator.
func NewTestService(t testing.TB, opts ...Option) *TestEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
	})

	env := &TestEnv{
		Store:     st,
		Blobs:     NewInMemoryBlobStore(),
		Audit:     &InMemoryAuditSink{},
		Directory: NewStaticDirectory(),
		Authority: TestSigningKey(t, "authority"),
	}

	defaults := []Option{
		WithStore(st),
		WithBlobStore(env.Blobs),
		WithAuditSink(env.Audit),
		WithAuthorizerDirectory(env.Directory),
		WithSigningKey(env.Authority),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := NewService(ctx, Config{TempDir: t.TempDir()}, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	env.Service = svc
	return env
}

// AddAuthorizer registers name in the directory and returns its private key.
func (e *TestEnv) AddAuthorizer(t testing.TB, name string) *rsa.PrivateKey {
	t.Helper()
	key := TestSigningKey(t, name)
	e.Directory.Add(name, &key.PublicKey)
	return key
}

// WriteTestDocument writes data to a fresh file under t.TempDir and returns its path.
func WriteTestDocument(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write test document: %v", err)
	}
	return path
}

var (
	testKeysMu sync.Mutex
	testKeys   = map[string]*rsa.PrivateKey{}
)

// TestSigningKey returns a 2048-bit RSA key, the same one for a given name
// within a test binary.
func TestSigningKey(t testing.TB, name string) *rsa.PrivateKey {
	t.Helper()
	testKeysMu.Lock()
	defer testKeysMu.Unlock()
	if key, ok := testKeys[name]; ok {
		return key
	}
	key, err := crypto.GenerateSigningKey(crypto.DefaultSigningKeyBits)
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}
	testKeys[name] = key
	return key
}
