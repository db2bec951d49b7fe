// Package hashicorp wraps capsule encryption keys with the HashiCorp Vault
// Transit engine.
//
// The symmetric key bytes never reach the database in the clear: the key
// custodian sends them to transit/encrypt before insert and to transit/decrypt
// on read. Vault keeps the wrapping key, so a database dump alone cannot open
// any capsule.
//
// # Setup
//
//	vault secrets enable transit
//	vault write -f transit/keys/capsule-keys
//
// The token or AppRole needs:
//
//	path "transit/encrypt/capsule-keys" { capabilities = ["update"] }
//	path "transit/decrypt/capsule-keys" { capabilities = ["update"] }
//
// # Usage
//
//	wrapper, err := hashicorp.NewTransitWrapper(ctx, hashicorp.Config{KeyName: "capsule-keys"})
//	if err != nil {
//	    return err
//	}
//	svc, err := capsule.NewService(ctx, cfg, capsule.WithKeyWrapper(wrapper))
//
// Connection settings come from Config.Vault, or from VAULT_ADDR, VAULT_TOKEN,
// VAULT_ROLE_ID, VAULT_SECRET_ID and VAULT_NAMESPACE when it is zero.
//
// Rotating the transit key (vault write -f transit/keys/capsule-keys/rotate)
// is transparent: older ciphertexts carry their version and still decrypt.
package hashicorp
