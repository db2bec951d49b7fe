package capsule

import (
	"context"
	"log/slog"

	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/store"
)

// storeAuditSink appends audit records to the service database.
type storeAuditSink struct {
	store *store.Store
}

func (s storeAuditSink) Append(ctx context.Context, record AuditRecord) error {
	return s.store.InsertAudit(ctx, record)
}

// appendAudit is fire-and-forget: a failing sink is logged and never fails the caller.
func appendAudit(ctx context.Context, sink AuditSink, logger *slog.Logger, hook monitoring.ObservabilityHook, record AuditRecord) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, record); err != nil {
		logger.WarnContext(ctx, "audit append failed",
			"capsule_id", record.CapsuleID, "claim_id", record.ClaimID, "error", err)
		hook.OnError(ctx, "audit", err, map[string]any{"capsule_id": record.CapsuleID})
	}
}
