package capsule

import (
	"context"
	"crypto/rsa"
	"time"
)

// BlobStore keeps the original source documents of sealed capsules.
//
// Implementations:
//   - S3 / MinIO: github.com/hengadev/capsule/providers/s3.BlobStore
//   - In memory (tests): InMemoryBlobStore
type BlobStore interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// PresignGet returns a URL that downloads key without credentials until ttl elapses.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Document is the source file handed to an Extractor.
type Document struct {
	Path        string
	ContentType string
}

// Extraction is the structured content pulled out of a Document.
type Extraction struct {
	// Raw is any JSON-serializable value, usually a map of report fields.
	Raw any
	// Summary is free text.
	Summary string
}

// Extractor turns a report document into structured data.
//
// The sealing pipeline bounds every call with Config.ExtractionTimeout and
// expects implementations to honour ctx cancellation.
//
// Implementations:
//   - OpenAI-compatible LLM endpoint: github.com/hengadev/capsule/providers/llm.Extractor
//   - Fixed result (tests): StaticExtractor
type Extractor interface {
	Extract(ctx context.Context, doc Document) (*Extraction, error)
}

// AuditSink receives append-only audit facts. The core never blocks on or fails
// because of a sink error; it logs and continues.
//
// Implementations:
//   - The service database (default)
//   - Badger: github.com/hengadev/capsule/providers/audit/badger.Sink
//   - In memory (tests): InMemoryAuditSink
type AuditSink interface {
	Append(ctx context.Context, record AuditRecord) error
}

// KeyWrapper protects symmetric key bytes at rest. When one is configured, key
// material is wrapped before it reaches the database and unwrapped on read.
//
// Implementations:
//   - AWS KMS: github.com/hengadev/capsule/providers/keys/aws.KMSWrapper
//   - HashiCorp Vault Transit: github.com/hengadev/capsule/providers/keys/hashicorp.TransitWrapper
type KeyWrapper interface {
	// Name is recorded next to each wrapped key so a key is never handed to the wrong wrapper.
	Name() string
	WrapKey(ctx context.Context, plaintext []byte) ([]byte, error)
	UnwrapKey(ctx context.Context, wrapped []byte) ([]byte, error)
}

// SigningKeySource loads the PEM encoded RSA private key of the platform authority.
//
// Implementations:
//   - Local file: FileSigningKeySource
//   - AWS Secrets Manager: github.com/hengadev/capsule/providers/secrets/aws.SecretsManagerSource
//   - HashiCorp Vault KV v2: github.com/hengadev/capsule/providers/secrets/hashicorp.KVSource
type SigningKeySource interface {
	SigningKeyPEM(ctx context.Context) ([]byte, error)
}

// AuthorizerDirectory resolves an authorizer identity to the public key its
// claim signatures verify against. Unknown identities yield ErrUnknownAuthorizer.
type AuthorizerDirectory interface {
	PublicKey(ctx context.Context, authorizer string) (*rsa.PublicKey, error)
}

// PrivacyComputer produces the derived view of capsule data that a claim with
// privacy level 1 to 4 exposes. Returning ErrNotImplemented marks the level as
// unsupported.
type PrivacyComputer interface {
	Compute(ctx context.Context, claim *Claim) (any, error)
}
