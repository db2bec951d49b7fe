// Package aws loads the capsule authority signing key from AWS Secrets Manager.
//
// The secret holds the PEM encoded RSA private key as its SecretString
// (SecretBinary is accepted too). It is read once at service construction.
//
//	source, err := aws.NewSecretsManagerSource(ctx, aws.Config{SecretID: "capsule/authority"})
//	if err != nil {
//	    return err
//	}
//	svc, err := capsule.NewService(ctx, cfg, capsule.WithSigningKeySource(source))
//
// Required IAM actions: secretsmanager:GetSecretValue, plus
// secretsmanager:DescribeSecret, CreateSecret and PutSecretValue for
// StoreSigningKeyPEM.
package aws
