package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const claimColumns = `uuid, authorizer, authorizer_signature, receiver, capsules, privacy_level,
	scope, one_time_use, expires_at, deprecated, created_at`

func (s *Store) InsertClaim(ctx context.Context, c Claim) error {
	capsules, err := json.Marshal(c.Capsules)
	if err != nil {
		return fmt.Errorf("failed to encode capsules for claim '%s': %w", c.ID, err)
	}
	scope, err := json.Marshal(c.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode scope for claim '%s': %w", c.ID, err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO capsule_claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Authorizer, c.AuthorizerSignature, c.Receiver, string(capsules), c.PrivacyLevel,
		string(scope), c.OneTimeUse, c.ExpiresAt.UTC(), c.Deprecated, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert claim '%s': %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (Claim, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+claimColumns+` FROM capsule_claims WHERE uuid = ?`, id)
	if err != nil {
		return Claim{}, fmt.Errorf("failed to get claim '%s': %w", id, err)
	}
	claims, err := scanClaims(rows)
	if err != nil {
		return Claim{}, fmt.Errorf("failed to get claim '%s': %w", id, err)
	}
	if len(claims) == 0 {
		return Claim{}, fmt.Errorf("failed to get claim '%s': %w", id, ErrNotFound)
	}
	return claims[0], nil
}

func (s *Store) ListClaimsByReceiver(ctx context.Context, receiver string) ([]Claim, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM capsule_claims
		WHERE receiver = ?
		ORDER BY created_at ASC, rowid ASC
	`, receiver)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims for receiver '%s': %w", receiver, err)
	}
	return scanClaims(rows)
}

// ConsumeClaim flips a live claim to deprecated. Exactly one caller wins for a
// given claim; every other caller gets ErrNotUpdated.
func (s *Store) ConsumeClaim(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE capsule_claims SET deprecated = TRUE WHERE uuid = ? AND deprecated = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to consume claim '%s': %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to consume claim '%s': %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("claim '%s' already consumed: %w", id, ErrNotUpdated)
	}
	return nil
}

// RevokeClaim deprecates a claim on behalf of the authorizer that issued it.
func (s *Store) RevokeClaim(ctx context.Context, id, authorizer string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE capsule_claims SET deprecated = TRUE WHERE uuid = ? AND authorizer = ?`, id, authorizer)
	if err != nil {
		return fmt.Errorf("failed to revoke claim '%s': %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to revoke claim '%s' for authorizer '%s': %w", id, authorizer, ErrNotFound)
	}
	return nil
}

func scanClaims(rows *sql.Rows) ([]Claim, error) {
	defer rows.Close()
	var out []Claim
	for rows.Next() {
		var (
			c               Claim
			capsules, scope string
		)
		if err := rows.Scan(&c.ID, &c.Authorizer, &c.AuthorizerSignature, &c.Receiver, &capsules,
			&c.PrivacyLevel, &scope, &c.OneTimeUse, &c.ExpiresAt, &c.Deprecated, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(capsules), &c.Capsules); err != nil {
			return nil, fmt.Errorf("corrupt capsule list for claim '%s': %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(scope), &c.Scope); err != nil {
			return nil, fmt.Errorf("corrupt scope for claim '%s': %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
