package capsule

import "time"

// Environment variable names
const (
	EnvDBPath            = "CAPSULE_DB_PATH"
	EnvDBFilename        = "CAPSULE_DB_FILENAME"
	EnvTempDir           = "CAPSULE_TEMP_DIR"
	EnvBlobBucket        = "CAPSULE_BLOB_BUCKET"
	EnvBlobPresignTTL    = "CAPSULE_BLOB_PRESIGN_TTL"
	EnvExtractionTimeout = "CAPSULE_EXTRACTION_TIMEOUT"
	EnvOwnerClaimTTL     = "CAPSULE_OWNER_CLAIM_TTL"
	EnvAuthorityID       = "CAPSULE_AUTHORITY_ID"
	EnvAuthorityKeyPath  = "CAPSULE_AUTHORITY_KEY_PATH"
	EnvAuthorizerKeysDir = "CAPSULE_AUTHORIZER_KEYS_DIR"
	EnvLogLevel          = "CAPSULE_LOG_LEVEL"
	EnvLogFormat         = "CAPSULE_LOG_FORMAT"
)

// Default values
const (
	DefaultDBPath     = ".capsule"
	DefaultDBFilename = "capsule.db"

	// DefaultExtractionTimeout bounds one call to the Extractor.
	DefaultExtractionTimeout = 45 * time.Second

	DefaultBlobPresignTTL = 15 * time.Minute

	// DefaultOwnerClaimTTL is the lifetime of the claim every sealed capsule grants its owner.
	DefaultOwnerClaimTTL = 365 * 24 * time.Hour

	DefaultAuthorityID = "capsule-authority"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Privacy levels. Only PrivacyLevelOpen exposes capsule data directly.
const (
	PrivacyLevelOpen = 0
	MaxPrivacyLevel  = 4
)

// Capsule level recorded in the additional props of every sealed capsule.
const sealedCapsuleLevel = 1
