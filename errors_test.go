package capsule

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), CodeInternal},
		{"boundary error", newError(CodePersistence, "seal", ErrPersistence), CodePersistence},
		{"wrapped boundary error", fmt.Errorf("handler: %w", newError(CodeCryptoPadding, "open", ErrPadding)), CodeCryptoPadding},
		{"rejection", newRejection("access", ReasonExpired, "c-1"), CodeClaimRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestRejection(t *testing.T) {
	err := newRejection("access", ReasonOwnerMismatch, "claim-1")

	assert.Equal(t, ReasonOwnerMismatch, ReasonOf(err))
	assert.True(t, IsClaimRejected(err))
	assert.Contains(t, err.Error(), "CLAIM_REJECTED")
	assert.Contains(t, err.Error(), "OwnerMismatch")
	assert.Equal(t, RejectReason(""), ReasonOf(errors.New("other")))
}

func TestCryptoCode(t *testing.T) {
	assert.Equal(t, CodeCryptoPadding, cryptoCode(fmt.Errorf("x: %w", ErrPadding)))
	assert.Equal(t, CodeCryptoSignature, cryptoCode(ErrSignatureInvalid))
	assert.Equal(t, CodeCryptoInvalidInput, cryptoCode(ErrInvalidInput))
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation", fmt.Errorf("%w: owner", ErrValidation), IsValidationError, true},
		{"unknown authorizer is validation", ErrUnknownAuthorizer, IsValidationError, true},
		{"padding is crypto", ErrPadding, IsCryptoError, true},
		{"signature is crypto", ErrSignatureInvalid, IsCryptoError, true},
		{"persistence", newError(CodePersistence, "seal", fmt.Errorf("%w: disk", ErrPersistence)), IsPersistenceError, true},
		{"timeout is extraction", ErrExtractionTimeout, IsExtractionError, true},
		{"padding is not persistence", ErrPadding, IsPersistenceError, false},
		{"validation is not crypto", ErrValidation, IsCryptoError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestError_UnwrapKeepsSentinels(t *testing.T) {
	err := sealError(CodeExtractionFailed, fmt.Errorf("%w: upstream 502", ErrExtractionFailed))

	assert.ErrorIs(t, err, ErrSealingFailed)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, "seal", err.Op)
}
