package capsule

import (
	"crypto/rsa"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/store"
)

type Option func(o *serviceOptions) error

type serviceOptions struct {
	db         *sql.DB
	store      *store.Store
	blobs      BlobStore
	extractor  Extractor
	audit      AuditSink
	wrapper    KeyWrapper
	signingKey *rsa.PrivateKey
	keySource  SigningKeySource
	directory  AuthorizerDirectory
	privacy    PrivacyComputer
	hook       monitoring.ObservabilityHook
	logger     *slog.Logger
	now        func() time.Time
}

// WithDB uses an already opened SQLite connection instead of Config.DatabaseFile.
func WithDB(db *sql.DB) Option {
	return func(o *serviceOptions) error {
		if db == nil {
			return fmt.Errorf("database connection cannot be nil")
		}
		o.db = db
		return nil
	}
}

// WithStore shares a store between services, mostly in tests.
func WithStore(st *store.Store) Option {
	return func(o *serviceOptions) error {
		o.store = st
		return nil
	}
}

func WithBlobStore(blobs BlobStore) Option {
	return func(o *serviceOptions) error {
		o.blobs = blobs
		return nil
	}
}

func WithExtractor(extractor Extractor) Option {
	return func(o *serviceOptions) error {
		o.extractor = extractor
		return nil
	}
}

// WithAuditSink replaces the default database audit sink.
func WithAuditSink(sink AuditSink) Option {
	return func(o *serviceOptions) error {
		o.audit = sink
		return nil
	}
}

func WithKeyWrapper(wrapper KeyWrapper) Option {
	return func(o *serviceOptions) error {
		o.wrapper = wrapper
		return nil
	}
}

func WithSigningKey(key *rsa.PrivateKey) Option {
	return func(o *serviceOptions) error {
		if key == nil {
			return fmt.Errorf("signing key cannot be nil")
		}
		o.signingKey = key
		return nil
	}
}

func WithSigningKeySource(source SigningKeySource) Option {
	return func(o *serviceOptions) error {
		o.keySource = source
		return nil
	}
}

func WithAuthorizerDirectory(directory AuthorizerDirectory) Option {
	return func(o *serviceOptions) error {
		o.directory = directory
		return nil
	}
}

func WithPrivacyComputer(privacy PrivacyComputer) Option {
	return func(o *serviceOptions) error {
		o.privacy = privacy
		return nil
	}
}

func WithObservabilityHook(hook monitoring.ObservabilityHook) Option {
	return func(o *serviceOptions) error {
		o.hook = hook
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) error {
		o.logger = logger
		return nil
	}
}

// WithClock overrides time.Now, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) error {
		o.now = now
		return nil
	}
}
