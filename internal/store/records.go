package store

import "time"

// Key is a symmetric key record. Material holds the key bytes as they are kept at
// rest: raw, or wrapped by the key wrapper named in WrappedBy.
type Key struct {
	ID         string
	Material   []byte
	IV         []byte
	WrappedBy  string
	Deprecated bool
	CreatedAt  time.Time
}

// AdditionalProps is the plaintext metadata kept next to a capsule for search and statistics.
type AdditionalProps struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Owner        string         `json:"owner"`
	Producer     string         `json:"producer"`
	ProducerTime *time.Time     `json:"producer_time,omitempty"`
	Level        int            `json:"level"`
	Sex          *int           `json:"sex,omitempty"`
	Age          *int           `json:"age,omitempty"`
	Area         map[string]any `json:"area,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Capsule is the sealed row: three base64 ciphertexts under one key and a detached signature.
type Capsule struct {
	ID                string    `json:"id"`
	RawCiphertext     string    `json:"raw_ciphertext"`
	SummaryCiphertext string    `json:"summary_ciphertext"`
	GeneCiphertext    string    `json:"gene_ciphertext"`
	Signature         string    `json:"signature"`
	KeyID             string    `json:"key_ref"`
	AdditionalPropsID string    `json:"additional_props_ref"`
	SourceObject      string    `json:"source_object,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Scope describes which data dimensions a claim exposes.
type Scope struct {
	BasicData []string `json:"basic_data"`
	ZKPData   []string `json:"zkp_data"`
}

// Claim is an access grant from an authorizer to a receiver over a set of capsules.
// AuthorizerSignature verifies under the public key of Authorizer; owner claims
// issued on seal name the platform authority.
type Claim struct {
	ID                  string    `json:"uuid"`
	Authorizer          string    `json:"authorizer"`
	AuthorizerSignature string    `json:"authorizer_signature"`
	Receiver            string    `json:"receiver"`
	Capsules            []string  `json:"capsules"`
	PrivacyLevel        int       `json:"privacy_level"`
	Scope               Scope     `json:"scope"`
	OneTimeUse          bool      `json:"one_time_use"`
	ExpiresAt           time.Time `json:"expires_at"`
	Deprecated          bool      `json:"deprecated"`
	CreatedAt           time.Time `json:"created_at"`
}

// AuditRecord is an append-only fact about a sealed or accessed capsule.
type AuditRecord struct {
	ID         string    `json:"uuid"`
	CapsuleID  string    `json:"capsule_uuid"`
	ClaimID    string    `json:"claim_uuid,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}
