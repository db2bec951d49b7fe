// Package hashicorp loads the capsule authority signing key from the
// HashiCorp Vault KV v2 engine.
//
// The PEM encoded private key is stored in one field of a KV v2 secret,
// "private_key" by default:
//
//	vault kv put secret/capsule/authority private_key=@authority.pem
//
//	source, err := hashicorp.NewKVSource(ctx, hashicorp.Config{Path: "capsule/authority"})
//	if err != nil {
//	    return err
//	}
//	svc, err := capsule.NewService(ctx, cfg, capsule.WithSigningKeySource(source))
//
// Policy:
//
//	path "secret/data/capsule/authority" { capabilities = ["read", "create", "update"] }
package hashicorp
