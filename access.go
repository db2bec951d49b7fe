package capsule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/store"
)

// Verifier decides every claim presentation.
type Verifier struct {
	store   *store.Store
	sealer  *Sealer
	audit   AuditSink
	privacy PrivacyComputer
	hook    monitoring.ObservabilityHook
	logger  *slog.Logger
	now     func() time.Time
}

// Access evaluates a claim presented by presenter. Checks run in this order and
// the first failure rejects: empty id, unknown claim, presenter is not the
// receiver, claim expired, claim deprecated.
//
// Privacy level 0 returns the opened capsules. A one-time claim is consumed
// with a compare-and-set on the claim row, so among concurrent presenters
// exactly one is granted and the others are rejected as Deprecated. Higher
// levels are handed to the PrivacyComputer.
//
// A rejection returns a result in state AccessRejected together with an *Error
// carrying CodeClaimRejected and the reason.
func (v *Verifier) Access(ctx context.Context, claimID, presenter string) (res *AccessResult, err error) {
	const op = "access"
	start := v.now()
	metadata := map[string]any{"claim_id": claimID, "presenter": presenter}
	v.hook.OnProcessStart(ctx, op, metadata)
	defer func() {
		if res != nil {
			metadata["state"] = string(res.State)
		}
		v.hook.OnProcessComplete(ctx, op, v.now().Sub(start), err, metadata)
	}()

	if claimID == "" {
		return v.reject(ctx, ReasonEmptyClaim, claimID, nil)
	}
	claim, err := v.store.GetClaim(ctx, claimID)
	if errors.Is(err, store.ErrNotFound) {
		return v.reject(ctx, ReasonNotFound, claimID, nil)
	}
	if err != nil {
		return nil, newError(CodePersistence, op, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	if presenter != claim.Receiver {
		return v.reject(ctx, ReasonOwnerMismatch, claimID, nil)
	}
	if !v.now().Before(claim.ExpiresAt) {
		return v.reject(ctx, ReasonExpired, claimID, &claim)
	}
	if claim.Deprecated {
		return v.reject(ctx, ReasonDeprecated, claimID, &claim)
	}

	if claim.PrivacyLevel > PrivacyLevelOpen {
		return v.computePrivate(ctx, &claim)
	}

	opened := make([]OpenedCapsule, 0, len(claim.Capsules))
	for _, id := range claim.Capsules {
		c, err := v.sealer.Open(ctx, id)
		if err != nil {
			return nil, err
		}
		opened = append(opened, *c)
	}

	state := AccessGranted
	if claim.OneTimeUse {
		if err := v.store.ConsumeClaim(ctx, claim.ID); err != nil {
			if errors.Is(err, store.ErrNotUpdated) {
				return v.reject(ctx, ReasonDeprecated, claimID, &claim)
			}
			return nil, newError(CodePersistence, op, fmt.Errorf("%w: %w", ErrPersistence, err))
		}
		claim.Deprecated = true
		state = AccessGrantedAndConsumed
		v.logger.InfoContext(ctx, "one-time claim consumed", "claim_id", claim.ID, "receiver", claim.Receiver)
	}

	occurred := v.now().UTC()
	for _, c := range opened {
		appendAudit(ctx, v.audit, v.logger, v.hook, AuditRecord{
			ID:         uuid.NewString(),
			CapsuleID:  c.Capsule.ID,
			ClaimID:    claim.ID,
			OccurredAt: occurred,
		})
	}
	return &AccessResult{State: state, Claim: &claim, Capsules: opened}, nil
}

func (v *Verifier) computePrivate(ctx context.Context, claim *Claim) (*AccessResult, error) {
	view, err := v.privacy.Compute(ctx, claim)
	if errors.Is(err, ErrNotImplemented) {
		v.logger.InfoContext(ctx, "privacy level not implemented", "claim_id", claim.ID, "privacy_level", claim.PrivacyLevel)
		return &AccessResult{State: AccessNotImplemented, Claim: claim}, nil
	}
	if err != nil {
		return nil, newError(CodeInternal, "access", fmt.Errorf("privacy level %d: %w", claim.PrivacyLevel, err))
	}
	return &AccessResult{State: AccessGranted, Claim: claim, View: view}, nil
}

func (v *Verifier) reject(ctx context.Context, reason RejectReason, claimID string, claim *Claim) (*AccessResult, error) {
	v.logger.InfoContext(ctx, "claim rejected", "claim_id", claimID, "reason", string(reason))
	return &AccessResult{State: AccessRejected, Reason: reason, Claim: claim}, newRejection("access", reason, claimID)
}
