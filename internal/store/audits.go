package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *Store) InsertAudit(ctx context.Context, a AuditRecord) error {
	claim := sql.NullString{String: a.ClaimID, Valid: a.ClaimID != ""}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_log (uuid, capsule_uuid, claim_uuid, created_at) VALUES (?, ?, ?, ?)
	`, a.ID, a.CapsuleID, claim, a.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit record for capsule '%s': %w", a.CapsuleID, err)
	}
	return nil
}

// ListAudits returns the audit trail of one capsule, oldest first.
func (s *Store) ListAudits(ctx context.Context, capsuleID string) ([]AuditRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT uuid, capsule_uuid, claim_uuid, created_at FROM audit_log
		WHERE capsule_uuid = ?
		ORDER BY created_at ASC, rowid ASC
	`, capsuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records for capsule '%s': %w", capsuleID, err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			a     AuditRecord
			claim sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.CapsuleID, &claim, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		a.ClaimID = claim.String
		out = append(out, a)
	}
	return out, rows.Err()
}
