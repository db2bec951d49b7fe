package capsule

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hengadev/errsx"
)

// Config holds the configuration for NewService.
//
// Configuration can be loaded from the environment (LoadConfigFromEnvironment),
// from a YAML file (LoadConfigFromFile) or built in code. Call Validate before
// use; NewService does it for you.
//
// Optional fields (defaults are applied if empty):
//   - DBPath: Database directory (default: .capsule)
//   - DBFilename: Database filename (default: capsule.db)
//   - TempDir: Where intake copies of source documents are staged (default: os.TempDir)
//   - BlobPresignTTL: Lifetime of source document URLs (default: 15m)
//   - ExtractionTimeout: Budget for one extraction call (default: 45s)
//   - OwnerClaimTTL: Lifetime of the owner claim issued on seal (default: 365 days)
//   - AuthorityID: Authorizer recorded on the owner claims the authority signs (default: capsule-authority)
//   - LogLevel / LogFormat: debug|info|warn|error and json|text
type Config struct {
	DBPath     string `yaml:"db_path"`
	DBFilename string `yaml:"db_filename"`
	TempDir    string `yaml:"temp_dir"`

	// BlobBucket is the bucket the S3 provider uploads source documents to.
	// Empty disables uploads unless a BlobStore is passed explicitly.
	BlobBucket     string        `yaml:"blob_bucket"`
	BlobPresignTTL time.Duration `yaml:"blob_presign_ttl"`

	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
	OwnerClaimTTL     time.Duration `yaml:"owner_claim_ttl"`

	// AuthorityKeyPath points at the PEM private key the platform signs capsules with.
	// Required unless the key is supplied with WithSigningKey or WithSigningKeySource.
	AuthorityID      string `yaml:"authority_id"`
	AuthorityKeyPath string `yaml:"authority_key_path"`

	// AuthorizerKeysDir holds one "<authorizer>.pem" public key per known authorizer.
	AuthorizerKeysDir string `yaml:"authorizer_keys_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Validate checks the configuration and applies defaults to optional fields.
// All problems are reported at once.
func (c *Config) Validate() error {
	var errs errsx.Map

	if c.BlobPresignTTL < 0 {
		errs.Set("blob_presign_ttl", "must not be negative")
	}
	if c.ExtractionTimeout < 0 {
		errs.Set("extraction_timeout", "must not be negative")
	}
	if c.OwnerClaimTTL < 0 {
		errs.Set("owner_claim_ttl", "must not be negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs.Set("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		errs.Set("log_format", fmt.Sprintf("unknown format %q", c.LogFormat))
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.DBFilename == "" {
		c.DBFilename = DefaultDBFilename
	}
	if c.BlobPresignTTL == 0 {
		c.BlobPresignTTL = DefaultBlobPresignTTL
	}
	if c.ExtractionTimeout == 0 {
		c.ExtractionTimeout = DefaultExtractionTimeout
	}
	if c.OwnerClaimTTL == 0 {
		c.OwnerClaimTTL = DefaultOwnerClaimTTL
	}
	if c.AuthorityID == "" {
		c.AuthorityID = DefaultAuthorityID
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	return nil
}

// DatabaseFile returns the full path of the SQLite database.
func (c Config) DatabaseFile() string {
	return filepath.Join(c.DBPath, c.DBFilename)
}
