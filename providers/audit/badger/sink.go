// Package badger keeps the capsule audit trail in an embedded Badger store,
// separate from the relational database.
//
// Keys are "audit:<capsule uuid>:<record uuid v7>", so a prefix scan returns
// one capsule's records in the order they were appended.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/hengadev/capsule"
)

const prefixAudit = "audit:"

// Sink implements capsule.AuditSink.
type Sink struct {
	db   *badger.DB
	owns bool
}

var _ capsule.AuditSink = (*Sink)(nil)

// Open opens (or creates) a Badger directory at path. An empty path keeps
// everything in memory.
func Open(path string) (*Sink, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store at '%s': %w", path, err)
	}
	return &Sink{db: db, owns: true}, nil
}

// New uses an already opened database. Close leaves it open.
func New(db *badger.DB) *Sink {
	return &Sink{db: db}
}

func (s *Sink) Close() error {
	if !s.owns {
		return nil
	}
	return s.db.Close()
}

// Append stores record. The record's own uuid is kept in the value; the key
// uses a fresh time-ordered uuid.
func (s *Sink) Append(ctx context.Context, record capsule.AuditRecord) error {
	if record.CapsuleID == "" {
		return errors.New("audit record has no capsule id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate audit key: %w", err)
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	key := []byte(prefixAudit + record.CapsuleID + ":" + seq.String())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Records returns the audit trail of one capsule, oldest first.
func (s *Sink) Records(ctx context.Context, capsuleID string) ([]capsule.AuditRecord, error) {
	return s.scan(ctx, []byte(prefixAudit+capsuleID+":"))
}

// All returns every record, grouped by capsule.
func (s *Sink) All(ctx context.Context) ([]capsule.AuditRecord, error) {
	return s.scan(ctx, []byte(prefixAudit))
}

func (s *Sink) scan(ctx context.Context, prefix []byte) ([]capsule.AuditRecord, error) {
	var records []capsule.AuditRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record capsule.AuditRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("failed to decode audit record %s: %w", it.Item().Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
