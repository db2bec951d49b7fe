package capsule

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/hengadev/capsule/internal/monitoring"
	"github.com/hengadev/capsule/internal/store"
)

// Service wires the key custodian, the sealing pipeline, the claim issuer and
// the verifier over one database.
type Service struct {
	cfg       Config
	store     *store.Store
	ownsStore bool
	blobs     BlobStore
	authority *rsa.PrivateKey

	keys     *KeyCustodian
	sealer   *Sealer
	issuer   *ClaimIssuer
	verifier *Verifier
}

// NewService validates cfg, opens the database and loads the authority signing key.
//
// The signing key comes from WithSigningKey, else WithSigningKeySource, else the
// PEM file at cfg.AuthorityKeyPath. Authorizer public keys come from
// WithAuthorizerDirectory, else cfg.AuthorizerKeysDir; without either every
// claim issuance is rejected as ErrUnknownAuthorizer.
func NewService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &serviceOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}

	if o.logger == nil {
		logger, err := monitoring.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		o.logger = logger
	}
	if o.hook == nil {
		o.hook = &monitoring.NoOpObservabilityHook{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.privacy == nil {
		o.privacy = unimplementedPrivacy{}
	}
	if o.directory == nil {
		if cfg.AuthorizerKeysDir != "" {
			o.directory = NewPEMDirectory(cfg.AuthorizerKeysDir)
		} else {
			o.directory = noDirectory{}
		}
	}

	authority, err := resolveSigningKey(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	st, owns, err := openStore(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	if o.audit == nil {
		o.audit = storeAuditSink{store: st}
	}

	s := &Service{cfg: cfg, store: st, ownsStore: owns, blobs: o.blobs, authority: authority}
	s.keys = newKeyCustodian(st, o.wrapper, o.hook, o.now)
	s.issuer = &ClaimIssuer{
		store:     st,
		directory: o.directory,
		authority: authority,
		hook:      o.hook,
		logger:    o.logger,
		now:       o.now,
	}
	s.sealer = &Sealer{
		store:     st,
		keys:      s.keys,
		issuer:    s.issuer,
		extractor: o.extractor,
		blobs:     o.blobs,
		audit:     o.audit,
		authority: authority,
		cfg:       cfg,
		hook:      o.hook,
		logger:    o.logger,
		now:       o.now,
	}
	s.verifier = &Verifier{
		store:   st,
		sealer:  s.sealer,
		audit:   o.audit,
		privacy: o.privacy,
		hook:    o.hook,
		logger:  o.logger,
		now:     o.now,
	}
	return s, nil
}

func resolveSigningKey(ctx context.Context, cfg Config, o *serviceOptions) (*rsa.PrivateKey, error) {
	if o.signingKey != nil {
		return o.signingKey, nil
	}
	source := o.keySource
	if source == nil {
		if cfg.AuthorityKeyPath == "" {
			return nil, fmt.Errorf("%w: an authority signing key is required", ErrInvalidConfiguration)
		}
		source = FileSigningKeySource(cfg.AuthorityKeyPath)
	}
	key, err := loadSigningKey(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: load authority signing key: %w", ErrInvalidConfiguration, err)
	}
	return key, nil
}

func openStore(ctx context.Context, cfg Config, o *serviceOptions) (*store.Store, bool, error) {
	if o.store != nil {
		return o.store, false, nil
	}
	if o.db != nil {
		st, err := store.New(ctx, o.db)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return st, false, nil
	}
	st, err := store.Open(ctx, cfg.DatabaseFile())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return st, true, nil
}

// Close releases the database when the service opened it.
func (s *Service) Close() error {
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

func (s *Service) Keys() *KeyCustodian { return s.keys }

// AuthorityPublicKey is the key capsule signatures verify against.
func (s *Service) AuthorityPublicKey() *rsa.PublicKey { return &s.authority.PublicKey }

func (s *Service) Seal(ctx context.Context, req SealRequest) (*SealResult, error) {
	return s.sealer.Seal(ctx, req)
}

func (s *Service) IssueClaim(ctx context.Context, req ClaimRequest) (*Claim, error) {
	return s.issuer.Issue(ctx, req)
}

func (s *Service) Access(ctx context.Context, claimID, presenter string) (*AccessResult, error) {
	return s.verifier.Access(ctx, claimID, presenter)
}

// GetCapsule returns the stored, still encrypted capsule.
func (s *Service) GetCapsule(ctx context.Context, id string) (*Capsule, error) {
	c, err := s.store.GetCapsule(ctx, id)
	if err != nil {
		return nil, lookupError("get_capsule", err)
	}
	return &c, nil
}

// OpenCapsule decrypts a capsule and verifies its signature.
func (s *Service) OpenCapsule(ctx context.Context, id string) (*OpenedCapsule, error) {
	return s.sealer.Open(ctx, id)
}

func (s *Service) ListCapsules(ctx context.Context, offset, limit int) ([]Capsule, error) {
	if err := checkPage(offset, limit); err != nil {
		return nil, newError(CodeValidation, "list_capsules", err)
	}
	capsules, err := s.store.ListCapsules(ctx, offset, limit)
	if err != nil {
		return nil, newError(CodePersistence, "list_capsules", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	return capsules, nil
}

func (s *Service) ListCapsulesByOwner(ctx context.Context, owner string, offset, limit int) ([]Capsule, error) {
	if err := checkPage(offset, limit); err != nil {
		return nil, newError(CodeValidation, "list_capsules", err)
	}
	capsules, err := s.store.ListCapsulesByOwner(ctx, owner, offset, limit)
	if err != nil {
		return nil, newError(CodePersistence, "list_capsules", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	return capsules, nil
}

// SourceURL presigns the original document of a capsule. A zero ttl uses Config.BlobPresignTTL.
func (s *Service) SourceURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	const op = "source_url"
	if s.blobs == nil {
		return "", newError(CodeBlobStore, op, fmt.Errorf("%w: no blob store configured", ErrBlobStore))
	}
	c, err := s.store.GetCapsule(ctx, id)
	if err != nil {
		return "", lookupError(op, err)
	}
	if c.SourceObject == "" {
		return "", newError(CodeNotFound, op, fmt.Errorf("%w: capsule '%s' has no source document", ErrNotFound, id))
	}
	if ttl <= 0 {
		ttl = s.cfg.BlobPresignTTL
	}
	url, err := s.blobs.PresignGet(ctx, c.SourceObject, ttl)
	if err != nil {
		return "", newError(CodeBlobStore, op, fmt.Errorf("%w: %w", ErrBlobStore, err))
	}
	return url, nil
}

func (s *Service) GetClaim(ctx context.Context, id string) (*Claim, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return nil, lookupError("get_claim", err)
	}
	return &c, nil
}

func (s *Service) ListClaimsByReceiver(ctx context.Context, receiver string) ([]Claim, error) {
	claims, err := s.store.ListClaimsByReceiver(ctx, receiver)
	if err != nil {
		return nil, newError(CodePersistence, "list_claims", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	return claims, nil
}

func (s *Service) RevokeClaim(ctx context.Context, id, authorizer string) error {
	return s.issuer.Revoke(ctx, id, authorizer)
}

// AuditTrail lists what the default database sink recorded for a capsule.
func (s *Service) AuditTrail(ctx context.Context, capsuleID string) ([]AuditRecord, error) {
	records, err := s.store.ListAudits(ctx, capsuleID)
	if err != nil {
		return nil, newError(CodePersistence, "audit_trail", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	return records, nil
}

func checkPage(offset, limit int) error {
	if offset < 0 || limit <= 0 {
		return fmt.Errorf("%w: offset must be >= 0 and limit > 0", ErrValidation)
	}
	return nil
}
