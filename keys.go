package capsule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/capsule/internal/crypto"
	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/store"
)

// KeyCustodian manages symmetric keys: one non-deprecated key is reused for
// every new capsule until someone deprecates it.
//
// The current key is always read from the database, never cached, so several
// service instances sharing a database agree on it. Two seals that both find no
// current key may each issue one; the earliest then becomes current for everyone.
type KeyCustodian struct {
	store   *store.Store
	wrapper KeyWrapper
	hook    monitoring.ObservabilityHook
	now     func() time.Time
}

func newKeyCustodian(st *store.Store, wrapper KeyWrapper, hook monitoring.ObservabilityHook, now func() time.Time) *KeyCustodian {
	return &KeyCustodian{store: st, wrapper: wrapper, hook: hook, now: now}
}

// GetCurrentKey returns the first non-deprecated key, or nil when none exists.
func (k *KeyCustodian) GetCurrentKey(ctx context.Context) (*Key, error) {
	key, err := k.currentKey(ctx, k.store)
	if err != nil {
		return nil, keyError("current_key", err)
	}
	return key, nil
}

// IssueKey generates and persists a fresh key.
func (k *KeyCustodian) IssueKey(ctx context.Context) (*Key, error) {
	key, record, err := k.newKey(ctx)
	if err != nil {
		return nil, keyError("issue_key", err)
	}
	if err := k.store.InsertKey(ctx, record); err != nil {
		return nil, keyError("issue_key", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	k.hook.OnKeyOperation(ctx, "issue", key.ID, nil)
	return key, nil
}

// ResolveOrIssue returns the current key, issuing one when there is none.
func (k *KeyCustodian) ResolveOrIssue(ctx context.Context) (*Key, error) {
	key, err := k.GetCurrentKey(ctx)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	return k.IssueKey(ctx)
}

// Deprecate retires a key. Capsules already sealed with it stay readable.
func (k *KeyCustodian) Deprecate(ctx context.Context, id string) error {
	if err := k.store.DeprecateKey(ctx, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return keyError("deprecate_key", err)
	}
	k.hook.OnKeyOperation(ctx, "deprecate", id, nil)
	return nil
}

// GetKey loads any key by id, deprecated or not.
func (k *KeyCustodian) GetKey(ctx context.Context, id string) (*Key, error) {
	key, err := k.getKey(ctx, id)
	if err != nil {
		return nil, keyError("get_key", err)
	}
	return key, nil
}

func (k *KeyCustodian) getKey(ctx context.Context, id string) (*Key, error) {
	record, err := k.store.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return k.unwrap(ctx, record)
}

// keyError codes custodian failures. A key that cannot be unwrapped makes
// its capsules unreadable, so it shares the invalid-input code with Open.
func keyError(op string, err error) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(CodeNotFound, op, err)
	case errors.Is(err, ErrPersistence):
		return newError(CodePersistence, op, err)
	case errors.Is(err, ErrKeyUnavailable):
		return newError(CodeCryptoInvalidInput, op, err)
	default:
		return newError(CodeInternal, op, err)
	}
}

// resolve returns the current key or a fresh unpersisted one. When fresh is
// true the caller must insert record in the same transaction as the capsule.
func (k *KeyCustodian) resolve(ctx context.Context) (key *Key, record store.Key, fresh bool, err error) {
	key, err = k.currentKey(ctx, k.store)
	if err != nil {
		return nil, store.Key{}, false, err
	}
	if key != nil {
		k.hook.OnKeyOperation(ctx, "resolve", key.ID, nil)
		return key, store.Key{}, false, nil
	}
	key, record, err = k.newKey(ctx)
	if err != nil {
		return nil, store.Key{}, false, err
	}
	return key, record, true, nil
}

func (k *KeyCustodian) currentKey(ctx context.Context, st *store.Store) (*Key, error) {
	record, err := st.FirstActiveKey(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return k.unwrap(ctx, record)
}

func (k *KeyCustodian) newKey(ctx context.Context) (*Key, store.Key, error) {
	secret, err := crypto.GenerateKey()
	if err != nil {
		return nil, store.Key{}, err
	}
	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, store.Key{}, err
	}

	key := &Key{ID: uuid.NewString(), Secret: secret, IV: iv, CreatedAt: k.now().UTC()}
	record := store.Key{ID: key.ID, Material: secret, IV: iv, CreatedAt: key.CreatedAt}
	if k.wrapper != nil {
		wrapped, err := k.wrapper.WrapKey(ctx, secret)
		if err != nil {
			return nil, store.Key{}, fmt.Errorf("%w: wrap key with %s: %w", ErrKeyUnavailable, k.wrapper.Name(), err)
		}
		record.Material = wrapped
		record.WrappedBy = k.wrapper.Name()
	}
	return key, record, nil
}

func (k *KeyCustodian) unwrap(ctx context.Context, record store.Key) (*Key, error) {
	key := &Key{
		ID:         record.ID,
		Secret:     record.Material,
		IV:         record.IV,
		Deprecated: record.Deprecated,
		CreatedAt:  record.CreatedAt,
	}
	if record.WrappedBy == "" {
		return key, nil
	}
	if k.wrapper == nil || k.wrapper.Name() != record.WrappedBy {
		return nil, fmt.Errorf("%w: key '%s' is wrapped by %q which is not configured", ErrKeyUnavailable, record.ID, record.WrappedBy)
	}
	secret, err := k.wrapper.UnwrapKey(ctx, record.Material)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key '%s': %w", ErrKeyUnavailable, record.ID, err)
	}
	key.Secret = secret
	return key, nil
}
