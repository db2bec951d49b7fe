package capsule

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func issueTestClaim(t *testing.T, env *TestEnv, mutate func(*ClaimRequest)) (*Claim, string) {
	t.Helper()
	capsuleID, doctor := sealForClaims(t, env)
	req := ClaimRequest{
		Authorizer:   "doctor-1",
		Receiver:     "B",
		Capsules:     []string{capsuleID},
		PrivacyLevel: PrivacyLevelOpen,
		OneTimeUse:   true,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(&req)
	}
	claim, err := env.Service.IssueClaim(context.Background(), signedRequest(t, doctor, req))
	require.NoError(t, err)
	return claim, capsuleID
}

func TestAccess_OneTimeClaimScenario(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)
	claim, capsuleID := issueTestClaim(t, env, nil)

	res, err := env.Service.Access(ctx, claim.ID, "C")
	require.Error(t, err)
	assert.Equal(t, AccessRejected, res.State)
	assert.Equal(t, ReasonOwnerMismatch, res.Reason)
	assert.Equal(t, CodeClaimRejected, CodeOf(err))

	res, err = env.Service.Access(ctx, claim.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, AccessGrantedAndConsumed, res.State)
	require.Len(t, res.Capsules, 1)
	assert.Equal(t, capsuleID, res.Capsules[0].Capsule.ID)
	assert.Equal(t, map[string]any{"wbc": json.Number("6.5")}, res.Capsules[0].Raw)
	assert.Equal(t, "normal", res.Capsules[0].Summary)

	stored, err := env.Service.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deprecated)

	res, err = env.Service.Access(ctx, claim.ID, "B")
	require.Error(t, err)
	assert.Equal(t, AccessRejected, res.State)
	assert.Equal(t, ReasonDeprecated, res.Reason)

	_, err = env.Service.Access(ctx, claim.ID, "C")
	assert.Equal(t, ReasonOwnerMismatch, ReasonOf(err))
}

func TestAccess_ReusableClaim(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)
	claim, _ := issueTestClaim(t, env, func(r *ClaimRequest) { r.OneTimeUse = false })

	for i := 0; i < 3; i++ {
		res, err := env.Service.Access(ctx, claim.ID, "B")
		require.NoError(t, err)
		assert.Equal(t, AccessGranted, res.State)
	}
	stored, err := env.Service.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deprecated)
}

func TestAccess_ConcurrentOneTimeClaim(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)
	claim, _ := issueTestClaim(t, env, nil)

	const presenters = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		reasons []RejectReason
	)
	for i := 0; i < presenters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Service.Access(ctx, claim.ID, "B")
			mu.Lock()
			defer mu.Unlock()
			if err == nil && res.State == AccessGrantedAndConsumed {
				granted++
				return
			}
			reasons = append(reasons, ReasonOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	require.Len(t, reasons, presenters-1)
	for _, r := range reasons {
		assert.Contains(t, []RejectReason{ReasonDeprecated, ReasonExpired}, r)
	}

	_, err := env.Service.Access(ctx, claim.ID, "B")
	assert.True(t, IsClaimRejected(err))
}

func TestAccess_RejectionOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := &testClock{now: now}
	env := NewTestService(t, WithClock(clock.Now))
	claim, _ := issueTestClaim(t, env, func(r *ClaimRequest) { r.ExpiresAt = now.Add(time.Hour) })

	t.Run("empty claim id", func(t *testing.T) {
		res, err := env.Service.Access(ctx, "", "B")
		assert.Equal(t, ReasonEmptyClaim, ReasonOf(err))
		assert.Equal(t, AccessRejected, res.State)
	})

	t.Run("unknown claim", func(t *testing.T) {
		_, err := env.Service.Access(ctx, "00000000-0000-0000-0000-000000000000", "B")
		assert.Equal(t, ReasonNotFound, ReasonOf(err))
	})

	t.Run("owner mismatch wins over expiry", func(t *testing.T) {
		clock.Set(now.Add(2 * time.Hour))
		defer clock.Set(now)
		_, err := env.Service.Access(ctx, claim.ID, "C")
		assert.Equal(t, ReasonOwnerMismatch, ReasonOf(err))
	})

	t.Run("expired at exactly expires_at", func(t *testing.T) {
		clock.Set(claim.ExpiresAt)
		defer clock.Set(now)
		_, err := env.Service.Access(ctx, claim.ID, "B")
		assert.Equal(t, ReasonExpired, ReasonOf(err))
	})

	t.Run("expired wins over deprecated", func(t *testing.T) {
		require.NoError(t, env.Service.RevokeClaim(ctx, claim.ID, "doctor-1"))
		clock.Set(now.Add(2 * time.Hour))
		defer clock.Set(now)
		_, err := env.Service.Access(ctx, claim.ID, "B")
		assert.Equal(t, ReasonExpired, ReasonOf(err))
	})
}

func TestAccess_AuditsEveryCapsule(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)
	claim, capsuleID := issueTestClaim(t, env, nil)
	before := len(env.Audit.Records())

	_, err := env.Service.Access(ctx, claim.ID, "B")
	require.NoError(t, err)

	records := env.Audit.Records()[before:]
	require.Len(t, records, 1)
	assert.Equal(t, capsuleID, records[0].CapsuleID)
	assert.Equal(t, claim.ID, records[0].ClaimID)
}

func TestAccess_PrivacyLevelsNotImplemented(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)

	for level := 1; level <= MaxPrivacyLevel; level++ {
		claim, _ := issueTestClaim(t, env, func(r *ClaimRequest) { r.PrivacyLevel = level })

		res, err := env.Service.Access(ctx, claim.ID, "B")
		require.NoError(t, err)
		assert.Equal(t, AccessNotImplemented, res.State)
		assert.Empty(t, res.Capsules)

		stored, err := env.Service.GetClaim(ctx, claim.ID)
		require.NoError(t, err)
		assert.False(t, stored.Deprecated, "level %d claims are not consumed", level)
	}
}

type privacyComputerMock struct {
	mock.Mock
}

func (m *privacyComputerMock) Compute(ctx context.Context, claim *Claim) (any, error) {
	args := m.Called(ctx, claim)
	return args.Get(0), args.Error(1)
}

func TestAccess_DelegatesToPrivacyComputer(t *testing.T) {
	ctx := context.Background()
	privacy := &privacyComputerMock{}
	env := NewTestService(t, WithPrivacyComputer(privacy))
	claim, _ := issueTestClaim(t, env, func(r *ClaimRequest) { r.PrivacyLevel = 2 })

	privacy.On("Compute", mock.Anything, mock.MatchedBy(func(c *Claim) bool { return c.ID == claim.ID })).
		Return(map[string]any{"age_band": "40-49"}, nil).Once()
	res, err := env.Service.Access(ctx, claim.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, AccessGranted, res.State)
	assert.Equal(t, map[string]any{"age_band": "40-49"}, res.View)

	privacy.On("Compute", mock.Anything, mock.Anything).Return(nil, errors.New("enclave offline")).Once()
	_, err = env.Service.Access(ctx, claim.ID, "B")
	assert.Equal(t, CodeInternal, CodeOf(err))
	privacy.AssertExpectations(t)
}

func TestAccess_CorruptCapsuleDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	env := NewTestService(t)
	claim, capsuleID := issueTestClaim(t, env, nil)

	_, err := env.Store.DB().ExecContext(ctx, `UPDATE capsules SET signature = 'AAAA' WHERE uuid = ?`, capsuleID)
	require.NoError(t, err)

	_, err = env.Service.Access(ctx, claim.ID, "B")
	assert.Equal(t, CodeCryptoSignature, CodeOf(err))

	stored, err := env.Service.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deprecated)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
