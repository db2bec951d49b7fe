package capsule

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/capsule/internal/crypto"
	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/serialization"
	"github.com/hengadev/capsule/internal/store"
	"github.com/hengadev/errsx"
)

// Sealer turns report data into encrypted, signed capsules and opens them again.
type Sealer struct {
	store     *store.Store
	keys      *KeyCustodian
	issuer    *ClaimIssuer
	extractor Extractor
	blobs     BlobStore
	audit     AuditSink
	authority *rsa.PrivateKey
	cfg       Config
	hook      monitoring.ObservabilityHook
	logger    *slog.Logger
	now       func() time.Time
}

// Seal runs the sealing pipeline:
//
//  1. resolve the current key, or prepare a new one
//  2. canonicalize and encrypt raw, summary and gene data under that key and IV
//  3. sign the canonical {"gene_data", "raw_data", "summary_data"} plaintext
//  4. in one transaction: insert additional props, the new key if any, the capsule
//  5. upload the source document to the blob store
//  6. grant the owner a claim and append an audit record
//
// A failure in steps 1 to 4 returns an *Error wrapping ErrSealingFailed and
// leaves nothing behind. Failures in steps 5 and 6 do not undo the committed
// capsule; they are logged and listed in SealResult.Warnings. The file at
// req.SourcePath is removed on every path.
func (s *Sealer) Seal(ctx context.Context, req SealRequest) (res *SealResult, err error) {
	const op = "seal"
	start := s.now()
	metadata := map[string]any{"owner": req.Props.Owner, "type": req.Props.Type}
	s.hook.OnProcessStart(ctx, op, metadata)
	defer func() {
		s.hook.OnProcessComplete(ctx, op, s.now().Sub(start), err, metadata)
	}()
	if req.SourcePath != "" {
		defer s.removeSource(ctx, req.SourcePath)
	}

	if err := s.validate(req); err != nil {
		return nil, sealError(CodeValidation, err)
	}

	raw, summary := req.Raw, req.Summary
	if raw == nil {
		extraction, err := s.extract(ctx, req)
		if err != nil {
			return nil, err
		}
		raw, summary = extraction.Raw, extraction.Summary
	}
	gene := req.Gene
	if gene == nil {
		gene = geneData(req.Props)
	}

	key, keyRecord, fresh, err := s.keys.resolve(ctx)
	if err != nil {
		if IsPersistenceError(err) {
			return nil, sealError(CodePersistence, err)
		}
		return nil, sealError(CodeSealingFailed, err)
	}

	fields, code, err := sealFields(raw, summary, gene, key, s.authority)
	if err != nil {
		return nil, sealError(code, err)
	}

	now := s.now().UTC()
	capsuleID := uuid.NewString()
	props := store.AdditionalProps{
		ID:           uuid.NewString(),
		Type:         req.Props.Type,
		Owner:        req.Props.Owner,
		Producer:     req.Props.Producer,
		ProducerTime: req.Props.ProducerTime,
		Level:        sealedCapsuleLevel,
		Sex:          req.Props.Sex,
		Age:          req.Props.Age,
		Area:         req.Props.Area,
		CreatedAt:    now,
	}
	row := store.Capsule{
		ID:                capsuleID,
		RawCiphertext:     fields.raw,
		SummaryCiphertext: fields.summary,
		GeneCiphertext:    fields.gene,
		Signature:         fields.signature,
		KeyID:             key.ID,
		AdditionalPropsID: props.ID,
		CreatedAt:         now,
	}
	if s.blobs != nil {
		row.SourceObject = capsuleID + filepath.Ext(req.SourcePath)
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.InsertAdditionalProps(ctx, props); err != nil {
			return err
		}
		if fresh {
			if err := tx.InsertKey(ctx, keyRecord); err != nil {
				return err
			}
		}
		return tx.InsertCapsule(ctx, row)
	})
	if err != nil {
		return nil, sealError(CodePersistence, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	if fresh {
		s.hook.OnKeyOperation(ctx, "issue", key.ID, map[string]any{"capsule_id": capsuleID})
	}
	metadata["capsule_id"] = capsuleID

	res = &SealResult{
		CapsuleID:    capsuleID,
		KeyID:        key.ID,
		KeyIssued:    fresh,
		SourceObject: row.SourceObject,
	}
	s.upload(ctx, req, res)
	s.grantOwner(ctx, req.Props, res)
	appendAudit(ctx, s.audit, s.logger, s.hook, AuditRecord{
		ID:         uuid.NewString(),
		CapsuleID:  capsuleID,
		OccurredAt: now,
	})

	s.logger.InfoContext(ctx, "capsule sealed",
		"capsule_id", capsuleID, "key_id", key.ID, "key_issued", fresh, "warnings", len(res.Warnings))
	return res, nil
}

// Open decrypts a capsule and checks its signature against the authority key.
func (s *Sealer) Open(ctx context.Context, id string) (*OpenedCapsule, error) {
	const op = "open"

	row, err := s.store.GetCapsule(ctx, id)
	if err != nil {
		return nil, lookupError(op, err)
	}
	props, err := s.store.GetAdditionalProps(ctx, row.AdditionalPropsID)
	if err != nil {
		return nil, lookupError(op, err)
	}
	key, err := s.keys.getKey(ctx, row.KeyID)
	if err != nil {
		if errors.Is(err, ErrKeyUnavailable) {
			return nil, newError(CodeCryptoInvalidInput, op, err)
		}
		return nil, lookupError(op, err)
	}

	raw, err := openField(row.RawCiphertext, key)
	if err != nil {
		return nil, newError(cryptoCode(err), op, fmt.Errorf("raw data of capsule '%s': %w", id, err))
	}
	summaryValue, err := openField(row.SummaryCiphertext, key)
	if err != nil {
		return nil, newError(cryptoCode(err), op, fmt.Errorf("summary of capsule '%s': %w", id, err))
	}
	summary, ok := summaryValue.(string)
	if !ok {
		return nil, newError(CodeCryptoInvalidInput, op,
			fmt.Errorf("%w: summary of capsule '%s' is not a string", ErrInvalidInput, id))
	}
	gene, err := openField(row.GeneCiphertext, key)
	if err != nil {
		return nil, newError(cryptoCode(err), op, fmt.Errorf("gene data of capsule '%s': %w", id, err))
	}

	if err := verifyCapsuleSignature(raw, summary, gene, row.Signature, &s.authority.PublicKey); err != nil {
		return nil, newError(CodeCryptoSignature, op, fmt.Errorf("capsule '%s': %w", id, err))
	}

	return &OpenedCapsule{Capsule: row, Props: props, Raw: raw, Summary: summary, Gene: gene}, nil
}

func (s *Sealer) validate(req SealRequest) error {
	var errs errsx.Map
	if req.SourcePath == "" {
		errs.Set("source_path", "a source document is required")
	} else if info, err := os.Stat(req.SourcePath); err != nil {
		errs.Set("source_path", err)
	} else if !info.Mode().IsRegular() {
		errs.Set("source_path", fmt.Sprintf("%s is not a regular file", req.SourcePath))
	}
	if req.Props.Owner == "" {
		errs.Set("owner", "owner is required")
	}
	if req.Raw == nil && s.extractor == nil {
		errs.Set("raw_data", "no raw data supplied and no extractor configured")
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// extract calls the Extractor under the configured timeout. The call runs in
// its own goroutine so an extractor that ignores ctx still cannot stall sealing.
func (s *Sealer) extract(ctx context.Context, req SealRequest) (*Extraction, error) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExtractionTimeout)
	defer cancel()

	type outcome struct {
		extraction *Extraction
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		extraction, err := s.extractor.Extract(ectx, Document{Path: req.SourcePath, ContentType: req.ContentType})
		done <- outcome{extraction, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ectx.Done():
		out = outcome{err: ectx.Err()}
	}

	switch {
	case out.err != nil && errors.Is(out.err, context.DeadlineExceeded):
		return nil, sealError(CodeExtractionTimeout,
			fmt.Errorf("%w after %s: %w", ErrExtractionTimeout, s.cfg.ExtractionTimeout, out.err))
	case out.err != nil:
		return nil, sealError(CodeExtractionFailed, fmt.Errorf("%w: %w", ErrExtractionFailed, out.err))
	case out.extraction == nil || out.extraction.Raw == nil:
		return nil, sealError(CodeExtractionFailed, fmt.Errorf("%w: extractor returned no raw data", ErrExtractionFailed))
	}
	return out.extraction, nil
}

func (s *Sealer) upload(ctx context.Context, req SealRequest, res *SealResult) {
	if s.blobs == nil {
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(req.SourcePath))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := os.ReadFile(req.SourcePath)
	if err == nil {
		err = s.blobs.Put(ctx, res.SourceObject, data, contentType)
	}
	if err == nil {
		return
	}

	warning := newError(CodeBlobStore, "seal",
		fmt.Errorf("%w: capsule '%s' committed without source object '%s': %w", ErrBlobStore, res.CapsuleID, res.SourceObject, err))
	s.logger.WarnContext(ctx, "source document upload failed, capsule references a missing object",
		"capsule_id", res.CapsuleID, "object", res.SourceObject, "error", err)
	s.hook.OnError(ctx, "seal.upload", warning, map[string]any{"capsule_id": res.CapsuleID})
	res.Warnings = append(res.Warnings, warning)
}

// grantOwner issues the reusable level 0 claim that lets the owner read the
// capsule. The platform authority is both the recorded authorizer and the
// signer; the collector stays on the capsule's props and gene data.
func (s *Sealer) grantOwner(ctx context.Context, props CollectorProps, res *SealResult) {
	claim, err := s.issuer.issueAuthorityClaim(ctx, ClaimRequest{
		Authorizer:   s.cfg.AuthorityID,
		Receiver:     props.Owner,
		Capsules:     []string{res.CapsuleID},
		PrivacyLevel: PrivacyLevelOpen,
		ExpiresAt:    s.now().Add(s.cfg.OwnerClaimTTL),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "owner claim not issued", "capsule_id", res.CapsuleID, "owner", props.Owner, "error", err)
		s.hook.OnError(ctx, "seal.owner_claim", err, map[string]any{"capsule_id": res.CapsuleID})
		res.Warnings = append(res.Warnings, err)
		return
	}
	res.OwnerClaimID = claim.ID
}

// removeSource deletes the staged document. Directories, pipes and devices
// are never staged copies and are left in place.
func (s *Sealer) removeSource(ctx context.Context, path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.WarnContext(ctx, "failed to remove staged source document", "path", path, "error", err)
	}
}

type sealedFields struct {
	raw, summary, gene string
	signature          string
}

// sealFields encrypts the three plaintexts under one key and IV and signs them.
// The returned Code classifies the failure.
func sealFields(raw any, summary string, gene any, key *Key, authority *rsa.PrivateKey) (sealedFields, Code, error) {
	var out sealedFields
	plaintexts := []struct {
		name  string
		value any
		dst   *string
	}{
		{"raw_data", raw, &out.raw},
		{"summary_data", summary, &out.summary},
		{"gene_data", gene, &out.gene},
	}
	for _, p := range plaintexts {
		canonical, err := serialization.Canonical(p.value)
		if err != nil {
			return sealedFields{}, CodeValidation, fmt.Errorf("%w: %s: %w", ErrValidation, p.name, err)
		}
		ciphertext, err := crypto.Encrypt([]byte(canonical), key.Secret, key.IV)
		if err != nil {
			return sealedFields{}, cryptoCode(err), fmt.Errorf("encrypt %s: %w", p.name, err)
		}
		*p.dst = ciphertext
	}

	payload, err := SignedPayload(raw, summary, gene)
	if err != nil {
		return sealedFields{}, CodeValidation, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	signature, err := crypto.Sign(payload, authority)
	if err != nil {
		return sealedFields{}, CodeCryptoSignature, fmt.Errorf("sign capsule: %w", err)
	}
	out.signature = base64.StdEncoding.EncodeToString(signature)
	return out, "", nil
}

// SignedPayload is the exact string a capsule signature covers:
// {"gene_data": ..., "raw_data": ..., "summary_data": ...} in canonical JSON.
func SignedPayload(raw any, summary string, gene any) (string, error) {
	return serialization.Canonical(map[string]any{
		"raw_data":     raw,
		"summary_data": summary,
		"gene_data":    gene,
	})
}

func verifyCapsuleSignature(raw any, summary string, gene any, signatureB64 string, pub *rsa.PublicKey) error {
	payload, err := SignedPayload(raw, summary, gene)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64: %w", ErrSignatureInvalid, err)
	}
	if !crypto.Verify(payload, signature, pub) {
		return ErrSignatureInvalid
	}
	return nil
}

func openField(ciphertext string, key *Key) (any, error) {
	plaintext, err := crypto.Decrypt(ciphertext, key.Secret, key.IV)
	if err != nil {
		return nil, err
	}
	value, err := serialization.Decode(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return value, nil
}

// geneData is the provenance record derived from what the collector submitted.
func geneData(p CollectorProps) map[string]any {
	collected := ""
	if p.ProducerTime != nil {
		collected = p.ProducerTime.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"collector_agent": p.Producer,
		"collector_time":  collected,
		"customer":        p.Owner,
		"level":           sealedCapsuleLevel,
		"type":            p.Type,
	}
}

func sealError(code Code, err error) *Error {
	return newError(code, "seal", fmt.Errorf("%w: %w", ErrSealingFailed, err))
}

// lookupError classifies a failed read by uuid.
func lookupError(op string, err error) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeNotFound, op, err)
	}
	return newError(CodePersistence, op, fmt.Errorf("%w: %w", ErrPersistence, err))
}
