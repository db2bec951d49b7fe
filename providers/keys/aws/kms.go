package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/hengadev/capsule"
)

// kmsClient interface for AWS KMS operations (allows mocking)
type kmsClient interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

var encryptionContext = map[string]string{"purpose": "capsule-key"}

// Config holds configuration for the KMS wrapper.
type Config struct {
	// KeyID is the KMS key that wraps capsule keys. Required.
	KeyID string

	// Region is the AWS region (e.g., "us-east-1").
	// If empty, uses AWS_REGION environment variable or AWS config file
	Region string

	// AWSConfig is an optional pre-configured AWS config.
	// If provided, Region is ignored
	AWSConfig *aws.Config
}

// KMSWrapper implements capsule.KeyWrapper using AWS KMS.
type KMSWrapper struct {
	client kmsClient
	keyID  string
	region string
}

var _ capsule.KeyWrapper = (*KMSWrapper)(nil)

// NewKMSWrapper creates a wrapper for cfg.KeyID. It does not contact KMS.
func NewKMSWrapper(ctx context.Context, cfg Config) (*KMSWrapper, error) {
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: KMS key id cannot be empty", capsule.ErrInvalidConfiguration)
	}

	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", capsule.ErrKeyUnavailable, err)
		}
	}

	return &KMSWrapper{
		client: kms.NewFromConfig(awsConfig),
		keyID:  normalizeKeyID(cfg.KeyID),
		region: awsConfig.Region,
	}, nil
}

// normalizeKeyID adds the "alias/" prefix to bare alias names. Key ids and
// ARNs are returned unchanged.
func normalizeKeyID(id string) string {
	switch {
	case strings.HasPrefix(id, "alias/"), strings.HasPrefix(id, "arn:"):
		return id
	case looksLikeKeyID(id):
		return id
	default:
		return "alias/" + id
	}
}

// looksLikeKeyID reports whether id has the 8-4-4-4-12 shape of a KMS key id.
func looksLikeKeyID(id string) bool {
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		return false
	}
	for i, n := range []int{8, 4, 4, 4, 12} {
		if len(parts[i]) != n {
			return false
		}
	}
	return true
}

// Name identifies the wrapper in stored key records.
func (k *KMSWrapper) Name() string {
	return "aws-kms"
}

// Region returns the AWS region this wrapper is configured for.
func (k *KMSWrapper) Region() string {
	return k.region
}

// ResolveKeyID returns the key id the configured alias or ARN points to.
// Useful as a startup check that the key exists and is reachable.
func (k *KMSWrapper) ResolveKeyID(ctx context.Context) (string, error) {
	result, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(k.keyID)})
	if err != nil {
		return "", fmt.Errorf("%w: failed to describe KMS key %s: %w", capsule.ErrKeyUnavailable, k.keyID, err)
	}
	if result.KeyMetadata == nil || result.KeyMetadata.KeyId == nil {
		return "", fmt.Errorf("%w: no key metadata returned for %s", capsule.ErrKeyUnavailable, k.keyID)
	}
	return *result.KeyMetadata.KeyId, nil
}

// WrapKey encrypts plaintext key bytes and returns the raw KMS ciphertext blob.
func (k *KMSWrapper) WrapKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: key material cannot be empty", capsule.ErrKeyUnavailable)
	}
	result, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(k.keyID),
		Plaintext:         plaintext,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to wrap key with KMS key %s: %w", capsule.ErrKeyUnavailable, k.keyID, err)
	}
	if len(result.CiphertextBlob) == 0 {
		return nil, fmt.Errorf("%w: no ciphertext returned from KMS", capsule.ErrKeyUnavailable)
	}
	return result.CiphertextBlob, nil
}

// UnwrapKey decrypts a blob produced by WrapKey.
func (k *KMSWrapper) UnwrapKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped key cannot be empty", capsule.ErrKeyUnavailable)
	}
	result, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(k.keyID),
		CiphertextBlob:    wrapped,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unwrap key: %w", capsule.ErrKeyUnavailable, err)
	}
	if result.Plaintext == nil {
		return nil, fmt.Errorf("%w: no plaintext returned from KMS", capsule.ErrKeyUnavailable)
	}
	return result.Plaintext, nil
}
