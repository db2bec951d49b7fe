package capsule

import (
	"context"
	"fmt"
)

// unimplementedPrivacy is the default PrivacyComputer: no level above 0 has a
// defined transformation yet.
type unimplementedPrivacy struct{}

func (unimplementedPrivacy) Compute(ctx context.Context, claim *Claim) (any, error) {
	return nil, fmt.Errorf("%w: privacy level %d", ErrNotImplemented, claim.PrivacyLevel)
}
