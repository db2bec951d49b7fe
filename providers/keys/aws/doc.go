// Package aws wraps capsule encryption keys with AWS Key Management Service.
//
// When a KMSWrapper is passed to capsule.WithKeyWrapper, the key custodian
// encrypts every fresh symmetric key with the configured KMS key before it is
// written to the database and decrypts it again when a capsule is opened.
//
// # Usage
//
//	wrapper, err := aws.NewKMSWrapper(ctx, aws.Config{
//	    KeyID:  "alias/capsule-keys",
//	    Region: "eu-west-1",
//	})
//	if err != nil {
//	    return err
//	}
//	svc, err := capsule.NewService(ctx, cfg, capsule.WithKeyWrapper(wrapper))
//
// KeyID accepts a key id, a key ARN, an alias name or an alias ARN. A bare
// name such as "capsule-keys" is treated as "alias/capsule-keys".
//
// # IAM Permissions
//
//	{
//	    "Effect": "Allow",
//	    "Action": ["kms:Encrypt", "kms:Decrypt", "kms:DescribeKey"],
//	    "Resource": "arn:aws:kms:REGION:ACCOUNT:key/KEY-ID"
//	}
//
// Every call carries the encryption context {"purpose": "capsule-key"}, so
// ciphertexts produced for other applications under the same KMS key are
// rejected.
package aws
