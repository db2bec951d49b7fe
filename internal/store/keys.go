package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
)

const keyColumns = `uuid, key_material, iv, wrapped_by, deprecated, created_at`

func (s *Store) InsertKey(ctx context.Context, k Key) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO secret_keys (uuid, key_material, iv, wrapped_by, deprecated, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.ID, base64.StdEncoding.EncodeToString(k.Material), base64.StdEncoding.EncodeToString(k.IV),
		k.WrappedBy, k.Deprecated, k.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert key '%s': %w", k.ID, err)
	}
	return nil
}

// FirstActiveKey returns the earliest persisted key that is not deprecated.
func (s *Store) FirstActiveKey(ctx context.Context) (Key, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+keyColumns+` FROM secret_keys
		WHERE deprecated = FALSE
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1
	`)
	k, err := scanKey(row)
	if err != nil {
		return Key{}, fmt.Errorf("failed to get active key: %w", err)
	}
	return k, nil
}

func (s *Store) GetKey(ctx context.Context, id string) (Key, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM secret_keys WHERE uuid = ?`, id)
	k, err := scanKey(row)
	if err != nil {
		return Key{}, fmt.Errorf("failed to get key '%s': %w", id, err)
	}
	return k, nil
}

// DeprecateKey marks a key deprecated. Deprecating an already deprecated key is not an error.
func (s *Store) DeprecateKey(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE secret_keys SET deprecated = TRUE WHERE uuid = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deprecate key '%s': %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to deprecate key '%s': %w", id, ErrNotFound)
	}
	return nil
}

func scanKey(row *sql.Row) (Key, error) {
	var (
		k            Key
		material, iv string
	)
	err := row.Scan(&k.ID, &material, &iv, &k.WrappedBy, &k.Deprecated, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrNotFound
	}
	if err != nil {
		return Key{}, err
	}
	if k.Material, err = base64.StdEncoding.DecodeString(material); err != nil {
		return Key{}, fmt.Errorf("corrupt key material: %w", err)
	}
	if k.IV, err = base64.StdEncoding.DecodeString(iv); err != nil {
		return Key{}, fmt.Errorf("corrupt iv: %w", err)
	}
	return k, nil
}
