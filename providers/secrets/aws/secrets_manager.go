package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/hengadev/capsule"
)

// secretsManagerClient interface for AWS Secrets Manager operations (allows mocking)
type secretsManagerClient interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// SecretsManagerSource implements capsule.SigningKeySource with AWS Secrets Manager.
type SecretsManagerSource struct {
	client   secretsManagerClient
	secretID string
	region   string
}

var _ capsule.SigningKeySource = (*SecretsManagerSource)(nil)

// NewSecretsManagerSource creates a source for cfg.SecretID. It does not contact AWS.
func NewSecretsManagerSource(ctx context.Context, cfg Config) (*SecretsManagerSource, error) {
	if cfg.SecretID == "" {
		return nil, fmt.Errorf("%w: secret id cannot be empty", capsule.ErrInvalidConfiguration)
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

	return &SecretsManagerSource{
		client:   secretsmanager.NewFromConfig(awsConfig),
		secretID: cfg.SecretID,
		region:   awsConfig.Region,
	}, nil
}

// SigningKeyPEM returns the PEM stored in the secret.
func (s *SecretsManagerSource) SigningKeyPEM(ctx context.Context) ([]byte, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read secret %s: %w", capsule.ErrKeyUnavailable, s.secretID, err)
	}
	switch {
	case result.SecretString != nil && *result.SecretString != "":
		return []byte(*result.SecretString), nil
	case len(result.SecretBinary) > 0:
		return result.SecretBinary, nil
	default:
		return nil, fmt.Errorf("%w: secret %s is empty", capsule.ErrKeyUnavailable, s.secretID)
	}
}

// StoreSigningKeyPEM writes pem to the secret, creating it when it does not exist.
func (s *SecretsManagerSource) StoreSigningKeyPEM(ctx context.Context, pem []byte) error {
	if len(pem) == 0 {
		return fmt.Errorf("%w: signing key cannot be empty", capsule.ErrInvalidConfiguration)
	}

	exists, err := s.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(s.secretID),
			SecretString: aws.String(string(pem)),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to update secret %s: %w", capsule.ErrKeyUnavailable, s.secretID, err)
		}
		return nil
	}

	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(s.secretID),
		Description:  aws.String("capsule authority signing key"),
		SecretString: aws.String(string(pem)),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create secret %s: %w", capsule.ErrKeyUnavailable, s.secretID, err)
	}
	return nil
}

func (s *SecretsManagerSource) exists(ctx context.Context) (bool, error) {
	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to describe secret %s: %w", capsule.ErrKeyUnavailable, s.secretID, err)
	}
	return true, nil
}

// Region returns the AWS region this source is configured for.
func (s *SecretsManagerSource) Region() string {
	return s.region
}
