package capsule

import (
	"time"

	"github.com/hengadev/capsule/internal/store"
)

// Persisted records.
type (
	// Capsule is a sealed row: three base64 ciphertexts under one key plus a
	// base64 RSA-PSS signature over the plaintexts.
	Capsule = store.Capsule
	// AdditionalProps is the plaintext metadata stored next to a capsule.
	AdditionalProps = store.AdditionalProps
	// Claim grants a receiver access to a list of capsules.
	Claim = store.Claim
	// Scope lists the data dimensions a claim exposes.
	Scope = store.Scope
	// AuditRecord is an append-only fact about a capsule.
	AuditRecord = store.AuditRecord
)

// Key is a symmetric key with its IV, unwrapped and ready for use.
type Key struct {
	ID         string
	Secret     []byte
	IV         []byte
	Deprecated bool
	CreatedAt  time.Time
}

// CollectorProps describes a report as the collector submitted it.
type CollectorProps struct {
	// Type is the capsule data type code, e.g. "10001" for a CT report.
	Type         string         `json:"type"`
	Owner        string         `json:"owner"`
	Producer     string         `json:"producer"`
	ProducerTime *time.Time     `json:"producer_time,omitempty"`
	Sex          *int           `json:"sex,omitempty"`
	Age          *int           `json:"age,omitempty"`
	Area         map[string]any `json:"area,omitempty"`
}

// SealRequest is the input of Sealer.Seal.
//
// SourcePath is the staged copy of the uploaded document. It is removed when
// Seal returns, whatever the outcome. When Raw is nil the document goes through
// the Extractor; when Gene is nil provenance data is derived from Props.
type SealRequest struct {
	SourcePath  string
	ContentType string
	Props       CollectorProps

	Raw     any
	Summary string
	Gene    any
}

// SealResult describes a sealed capsule.
type SealResult struct {
	CapsuleID    string
	KeyID        string
	KeyIssued    bool
	OwnerClaimID string
	SourceObject string
	// Warnings holds failures that happened after the capsule was committed,
	// such as a blob upload. The capsule is usable; the listed side effects are not.
	Warnings []error
}

// Degraded reports whether some post-commit step failed.
func (r *SealResult) Degraded() bool {
	return len(r.Warnings) > 0
}

// OpenedCapsule is a capsule with its fields decrypted and its signature verified.
type OpenedCapsule struct {
	Capsule Capsule         `json:"capsule"`
	Props   AdditionalProps `json:"props"`
	Raw     any             `json:"raw_data"`
	Summary string          `json:"summary_data"`
	Gene    any             `json:"gene_data"`
}

// ClaimRequest is the input of ClaimIssuer.Issue. AuthorizerSignature is the
// base64 signature of ClaimPayload(req) under the authorizer's private key.
type ClaimRequest struct {
	Authorizer          string    `json:"authorizer"`
	Receiver            string    `json:"receiver"`
	Capsules            []string  `json:"capsules"`
	PrivacyLevel        int       `json:"privacy_level"`
	Scope               Scope     `json:"scope"`
	OneTimeUse          bool      `json:"one_time_use"`
	ExpiresAt           time.Time `json:"expires_at"`
	AuthorizerSignature string    `json:"authorizer_signature"`
}

// AccessState is the terminal state of a claim presentation.
type AccessState string

const (
	AccessRejected           AccessState = "REJECTED"
	AccessGranted            AccessState = "GRANTED"
	AccessGrantedAndConsumed AccessState = "GRANTED_AND_CONSUMED"
	AccessNotImplemented     AccessState = "NOT_IMPLEMENTED"
)

// AccessResult is what Verifier.Access returns for a presented claim.
//
// Capsules is filled for privacy level 0 grants; View carries what the
// PrivacyComputer produced for higher levels.
type AccessResult struct {
	State    AccessState     `json:"state"`
	Reason   RejectReason    `json:"reason,omitempty"`
	Claim    *Claim          `json:"claim,omitempty"`
	Capsules []OpenedCapsule `json:"capsules,omitempty"`
	View     any             `json:"view,omitempty"`
}
