package capsule

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/capsule/internal/crypto"
	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/serialization"
	"github.com/hengadev/capsule/internal/store"
	"github.com/hengadev/errsx"
)

// ClaimIssuer validates, authenticates and persists access claims.
type ClaimIssuer struct {
	store     *store.Store
	directory AuthorizerDirectory
	authority *rsa.PrivateKey
	hook      monitoring.ObservabilityHook
	logger    *slog.Logger
	now       func() time.Time
}

// Issue persists a claim once the request is well formed, every capsule exists
// and AuthorizerSignature verifies against the authorizer's public key.
//
// An expiry in the past is accepted; such a claim is simply never usable.
func (i *ClaimIssuer) Issue(ctx context.Context, req ClaimRequest) (claim *Claim, err error) {
	const op = "issue_claim"
	start := i.now()
	metadata := map[string]any{"authorizer": req.Authorizer, "receiver": req.Receiver}
	i.hook.OnProcessStart(ctx, op, metadata)
	defer func() {
		i.hook.OnProcessComplete(ctx, op, i.now().Sub(start), err, metadata)
	}()

	if err := validateClaimRequest(req); err != nil {
		return nil, newError(CodeValidation, op, err)
	}

	missing, err := i.store.MissingCapsules(ctx, req.Capsules)
	if err != nil {
		return nil, newError(CodePersistence, op, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	if len(missing) > 0 {
		return nil, newError(CodeValidation, op, fmt.Errorf("%w: unknown capsules %v", ErrValidation, missing))
	}

	pub, err := i.directory.PublicKey(ctx, req.Authorizer)
	if err != nil {
		if errors.Is(err, ErrUnknownAuthorizer) {
			return nil, newError(CodeValidation, op, err)
		}
		return nil, newError(CodeInternal, op, fmt.Errorf("resolve authorizer '%s': %w", req.Authorizer, err))
	}
	if err := VerifyClaimSignature(req, pub); err != nil {
		return nil, newError(CodeCryptoSignature, op, err)
	}

	claim, err = i.persist(ctx, op, req)
	if err != nil {
		return nil, err
	}
	metadata["claim_id"] = claim.ID
	return claim, nil
}

// Revoke deprecates a claim. Only the authorizer that issued it may revoke it.
func (i *ClaimIssuer) Revoke(ctx context.Context, id, authorizer string) error {
	const op = "revoke_claim"
	if err := i.store.RevokeClaim(ctx, id, authorizer); err != nil {
		return lookupError(op, err)
	}
	i.logger.InfoContext(ctx, "claim revoked", "claim_id", id, "authorizer", authorizer)
	return nil
}

// issueAuthorityClaim signs req with the platform authority key and persists it
// without a directory lookup. It backs the owner claim granted on seal.
func (i *ClaimIssuer) issueAuthorityClaim(ctx context.Context, req ClaimRequest) (*Claim, error) {
	const op = "owner_claim"
	if req.Scope.BasicData == nil {
		req.Scope.BasicData = []string{}
	}
	if req.Scope.ZKPData == nil {
		req.Scope.ZKPData = []string{}
	}
	signature, err := SignClaim(req, i.authority)
	if err != nil {
		return nil, newError(CodeCryptoSignature, op, err)
	}
	req.AuthorizerSignature = signature
	return i.persist(ctx, op, req)
}

func (i *ClaimIssuer) persist(ctx context.Context, op string, req ClaimRequest) (*Claim, error) {
	claim := store.Claim{
		ID:                  uuid.NewString(),
		Authorizer:          req.Authorizer,
		AuthorizerSignature: req.AuthorizerSignature,
		Receiver:            req.Receiver,
		Capsules:            req.Capsules,
		PrivacyLevel:        req.PrivacyLevel,
		Scope:               req.Scope,
		OneTimeUse:          req.OneTimeUse,
		ExpiresAt:           req.ExpiresAt.UTC().Truncate(time.Second),
		CreatedAt:           i.now().UTC(),
	}
	if err := i.store.InsertClaim(ctx, claim); err != nil {
		return nil, newError(CodePersistence, op, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	i.logger.InfoContext(ctx, "claim issued",
		"claim_id", claim.ID, "authorizer", claim.Authorizer, "receiver", claim.Receiver,
		"privacy_level", claim.PrivacyLevel, "one_time_use", claim.OneTimeUse)
	return &claim, nil
}

func validateClaimRequest(req ClaimRequest) error {
	var errs errsx.Map
	if req.Authorizer == "" {
		errs.Set("authorizer", "authorizer is required")
	}
	if req.Receiver == "" {
		errs.Set("receiver", "receiver is required")
	}
	if len(req.Capsules) == 0 {
		errs.Set("capsules", "at least one capsule is required")
	}
	for _, id := range req.Capsules {
		if id == "" {
			errs.Set("capsules", "capsule ids must not be empty")
			break
		}
	}
	if req.PrivacyLevel < PrivacyLevelOpen || req.PrivacyLevel > MaxPrivacyLevel {
		errs.Set("privacy_level", fmt.Sprintf("must be between %d and %d, got %d", PrivacyLevelOpen, MaxPrivacyLevel, req.PrivacyLevel))
	}
	if req.ExpiresAt.IsZero() {
		errs.Set("expires_at", "expiry is required")
	}
	if req.AuthorizerSignature == "" {
		errs.Set("authorizer_signature", "authorizer signature is required")
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// ClaimPayload is the canonical JSON an authorizer signs to consent to a claim.
// It covers authorizer, capsules (in the given order), expires_at (RFC 3339,
// UTC, whole seconds), one_time_use, privacy_level, receiver and scope.
func ClaimPayload(req ClaimRequest) (string, error) {
	return serialization.Canonical(map[string]any{
		"authorizer":    req.Authorizer,
		"capsules":      stringsToAny(req.Capsules),
		"expires_at":    req.ExpiresAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		"one_time_use":  req.OneTimeUse,
		"privacy_level": req.PrivacyLevel,
		"receiver":      req.Receiver,
		"scope": map[string]any{
			"basic_data": stringsToAny(req.Scope.BasicData),
			"zkp_data":   stringsToAny(req.Scope.ZKPData),
		},
	})
}

// SignClaim returns the base64 authorizer signature for req.
func SignClaim(req ClaimRequest, key *rsa.PrivateKey) (string, error) {
	payload, err := ClaimPayload(req)
	if err != nil {
		return "", err
	}
	signature, err := crypto.Sign(payload, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// VerifyClaimSignature checks req.AuthorizerSignature against pub.
func VerifyClaimSignature(req ClaimRequest, pub *rsa.PublicKey) error {
	payload, err := ClaimPayload(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	signature, err := base64.StdEncoding.DecodeString(req.AuthorizerSignature)
	if err != nil {
		return fmt.Errorf("%w: authorizer signature is not base64", ErrSignatureInvalid)
	}
	if !crypto.Verify(payload, signature, pub) {
		return fmt.Errorf("%w: authorizer '%s' did not sign this claim", ErrSignatureInvalid, req.Authorizer)
	}
	return nil
}

// stringsToAny treats nil and empty lists alike so both sign the same.
func stringsToAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
