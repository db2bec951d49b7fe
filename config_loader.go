package capsule

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfigFromEnvironment reads CAPSULE_* environment variables and returns a
// validated Config. Any envFiles are loaded first with godotenv; variables that
// are already set in the process environment win over the files.
//
// Recognised variables:
//   - CAPSULE_DB_PATH, CAPSULE_DB_FILENAME, CAPSULE_TEMP_DIR
//   - CAPSULE_BLOB_BUCKET, CAPSULE_BLOB_PRESIGN_TTL
//   - CAPSULE_EXTRACTION_TIMEOUT, CAPSULE_OWNER_CLAIM_TTL
//   - CAPSULE_AUTHORITY_ID, CAPSULE_AUTHORITY_KEY_PATH, CAPSULE_AUTHORIZER_KEYS_DIR
//   - CAPSULE_LOG_LEVEL, CAPSULE_LOG_FORMAT
//
// Durations use time.ParseDuration syntax ("45s", "720h").
func LoadConfigFromEnvironment(envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	cfg := Config{
		DBPath:            getEnvOrDefault(EnvDBPath, DefaultDBPath),
		DBFilename:        getEnvOrDefault(EnvDBFilename, DefaultDBFilename),
		TempDir:           os.Getenv(EnvTempDir),
		BlobBucket:        os.Getenv(EnvBlobBucket),
		AuthorityID:       getEnvOrDefault(EnvAuthorityID, DefaultAuthorityID),
		AuthorityKeyPath:  os.Getenv(EnvAuthorityKeyPath),
		AuthorizerKeysDir: os.Getenv(EnvAuthorizerKeysDir),
		LogLevel:          getEnvOrDefault(EnvLogLevel, DefaultLogLevel),
		LogFormat:         getEnvOrDefault(EnvLogFormat, DefaultLogFormat),
	}

	var err error
	if cfg.BlobPresignTTL, err = getEnvDuration(EnvBlobPresignTTL, DefaultBlobPresignTTL); err != nil {
		return Config{}, err
	}
	if cfg.ExtractionTimeout, err = getEnvDuration(EnvExtractionTimeout, DefaultExtractionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OwnerClaimTTL, err = getEnvDuration(EnvOwnerClaimTTL, DefaultOwnerClaimTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromFile reads a YAML configuration file and validates it.
func LoadConfigFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfiguration, key, err)
	}
	return d, nil
}
