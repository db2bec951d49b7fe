package capsule

import (
	"errors"
	"fmt"

	"github.com/hengadev/capsule/internal/crypto"
	"github.com/hengadev/capsule/internal/store"
)

var (
	// Input errors
	ErrValidation           = errors.New("validation failed")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnknownAuthorizer    = errors.New("unknown authorizer")

	// Pipeline errors
	ErrSealingFailed     = errors.New("sealing failed")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrPersistence       = errors.New("persistence failed")
	ErrBlobStore         = errors.New("blob store failed")

	// Crypto errors
	ErrInvalidInput     = crypto.ErrInvalidInput
	ErrPadding          = crypto.ErrPadding
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrKeyUnavailable   = errors.New("key unavailable")

	// Access errors
	ErrNotFound       = store.ErrNotFound
	ErrClaimRejected  = errors.New("claim rejected")
	ErrNotImplemented = errors.New("not implemented")
)

// Code is the stable identifier of a failure class handed to callers of the service.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeExtractionFailed   Code = "EXTRACTION_FAILED"
	CodeExtractionTimeout  Code = "EXTRACTION_TIMEOUT"
	CodeCryptoInvalidInput Code = "CRYPTO_INVALID_INPUT"
	CodeCryptoPadding      Code = "CRYPTO_PADDING"
	CodeCryptoSignature    Code = "CRYPTO_SIGNATURE"
	CodePersistence        Code = "PERSISTENCE"
	CodeBlobStore          Code = "BLOB_STORE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeClaimRejected      Code = "CLAIM_REJECTED"
	CodeNotImplemented     Code = "NOT_IMPLEMENTED"
	CodeSealingFailed      Code = "SEALING_FAILED"
	CodeInternal           Code = "INTERNAL"
)

// RejectReason says why a presented claim was refused.
type RejectReason string

const (
	ReasonEmptyClaim    RejectReason = "EmptyClaim"
	ReasonNotFound      RejectReason = "NotFound"
	ReasonOwnerMismatch RejectReason = "OwnerMismatch"
	ReasonExpired       RejectReason = "Expired"
	ReasonDeprecated    RejectReason = "Deprecated"
)

// Error is the boundary error returned by Service operations. Op names the
// operation ("seal", "issue_claim", "access", ...), Reason is set only for
// CodeClaimRejected.
type Error struct {
	Code   Code
	Op     string
	Reason RejectReason
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Reason != "" {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func newRejection(op string, reason RejectReason, claimID string) *Error {
	return &Error{
		Code:   CodeClaimRejected,
		Op:     op,
		Reason: reason,
		Err:    fmt.Errorf("%w: claim '%s': %s", ErrClaimRejected, claimID, reason),
	}
}

// CodeOf returns the Code carried by err, or CodeInternal when err is not an *Error.
// A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) RejectReason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// cryptoCode maps a cipher or signature failure to its code.
func cryptoCode(err error) Code {
	switch {
	case errors.Is(err, ErrPadding):
		return CodeCryptoPadding
	case errors.Is(err, ErrSignatureInvalid):
		return CodeCryptoSignature
	default:
		return CodeCryptoInvalidInput
	}
}

// IsValidationError returns true if the error represents bad caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownAuthorizer) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsCryptoError returns true if the error comes from the cipher suite or a signature check.
func IsCryptoError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrPadding) ||
		errors.Is(err, ErrSignatureInvalid)
}

// IsPersistenceError returns true if the relational store failed.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsExtractionError returns true if the extraction collaborator failed or timed out.
func IsExtractionError(err error) bool {
	return errors.Is(err, ErrExtractionFailed) || errors.Is(err, ErrExtractionTimeout)
}

// IsClaimRejected returns true if a presented claim was refused.
func IsClaimRejected(err error) bool {
	return errors.Is(err, ErrClaimRejected)
}
