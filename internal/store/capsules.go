package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (s *Store) InsertAdditionalProps(ctx context.Context, p AdditionalProps) error {
	area := p.Area
	if area == nil {
		area = map[string]any{}
	}
	areaJSON, err := json.Marshal(area)
	if err != nil {
		return fmt.Errorf("failed to encode area for props '%s': %w", p.ID, err)
	}
	var producerTime any
	if p.ProducerTime != nil {
		producerTime = p.ProducerTime.UTC()
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO capsule_additional_props
			(uuid, type, owner, producer, producer_time, level, sex, age, area, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Type, p.Owner, p.Producer, producerTime, p.Level, p.Sex, p.Age, string(areaJSON), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert additional props '%s': %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetAdditionalProps(ctx context.Context, id string) (AdditionalProps, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT uuid, type, owner, producer, producer_time, level, sex, age, area, created_at
		FROM capsule_additional_props WHERE uuid = ?
	`, id)

	var (
		p            AdditionalProps
		producerTime sql.NullTime
		sex, age     sql.NullInt64
		area         string
	)
	err := row.Scan(&p.ID, &p.Type, &p.Owner, &p.Producer, &producerTime, &p.Level, &sex, &age, &area, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AdditionalProps{}, fmt.Errorf("failed to get additional props '%s': %w", id, ErrNotFound)
	}
	if err != nil {
		return AdditionalProps{}, fmt.Errorf("failed to get additional props '%s': %w", id, err)
	}
	if producerTime.Valid {
		t := producerTime.Time
		p.ProducerTime = &t
	}
	if sex.Valid {
		v := int(sex.Int64)
		p.Sex = &v
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	if err := json.Unmarshal([]byte(area), &p.Area); err != nil {
		return AdditionalProps{}, fmt.Errorf("corrupt area for props '%s': %w", id, err)
	}
	return p, nil
}

func (s *Store) InsertCapsule(ctx context.Context, c Capsule) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO capsules
			(uuid, raw_ciphertext, summary_ciphertext, gene_ciphertext, signature,
			 key_uuid, additional_props_uuid, source_object, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.RawCiphertext, c.SummaryCiphertext, c.GeneCiphertext, c.Signature,
		c.KeyID, c.AdditionalPropsID, c.SourceObject, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert capsule '%s': %w", c.ID, err)
	}
	return nil
}

const capsuleColumns = `c.uuid, c.raw_ciphertext, c.summary_ciphertext, c.gene_ciphertext, c.signature,
	c.key_uuid, c.additional_props_uuid, c.source_object, c.created_at`

func (s *Store) GetCapsule(ctx context.Context, id string) (Capsule, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+capsuleColumns+` FROM capsules c WHERE c.uuid = ?`, id)
	if err != nil {
		return Capsule{}, fmt.Errorf("failed to get capsule '%s': %w", id, err)
	}
	capsules, err := scanCapsules(rows)
	if err != nil {
		return Capsule{}, fmt.Errorf("failed to get capsule '%s': %w", id, err)
	}
	if len(capsules) == 0 {
		return Capsule{}, fmt.Errorf("failed to get capsule '%s': %w", id, ErrNotFound)
	}
	return capsules[0], nil
}

func (s *Store) ListCapsules(ctx context.Context, offset, limit int) ([]Capsule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+capsuleColumns+` FROM capsules c
		ORDER BY c.created_at ASC, c.rowid ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list capsules: %w", err)
	}
	return scanCapsules(rows)
}

func (s *Store) ListCapsulesByOwner(ctx context.Context, owner string, offset, limit int) ([]Capsule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+capsuleColumns+` FROM capsules c
		JOIN capsule_additional_props p ON p.uuid = c.additional_props_uuid
		WHERE p.owner = ?
		ORDER BY c.created_at ASC, c.rowid ASC
		LIMIT ? OFFSET ?
	`, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list capsules for owner '%s': %w", owner, err)
	}
	return scanCapsules(rows)
}

// MissingCapsules returns the subset of ids that have no capsule row.
func (s *Store) MissingCapsules(ctx context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		var one int
		err := s.q.QueryRowContext(ctx, `SELECT 1 FROM capsules WHERE uuid = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check capsule '%s': %w", id, err)
		}
	}
	return missing, nil
}

func scanCapsules(rows *sql.Rows) ([]Capsule, error) {
	defer rows.Close()
	var out []Capsule
	for rows.Next() {
		var (
			c       Capsule
			created time.Time
		)
		if err := rows.Scan(&c.ID, &c.RawCiphertext, &c.SummaryCiphertext, &c.GeneCiphertext, &c.Signature,
			&c.KeyID, &c.AdditionalPropsID, &c.SourceObject, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = created
		out = append(out, c)
	}
	return out, rows.Err()
}
