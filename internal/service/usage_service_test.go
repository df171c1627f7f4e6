package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

func TestConsumeOrderGrantToExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grant := f.grantOrder(t, "dev-1", 1001, "WC-1001", "a@x.com", 3)
	subject := caller("a@x.com", "dev-1")

	for _, want := range []int{2, 1, 0} {
		result, err := f.usage.Consume(ctx, subject, "")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, want, result.Remaining)
	}

	result, err := f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ReasonExhausted, result.Reason)

	stored, err := f.store.GetGrantByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.UsageCount)
}

func TestConsumeWithoutAccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.usage.Consume(context.Background(), caller("nobody@x.com", "dev-1"), "click-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ReasonNoAccess, result.Reason)
}

func TestResolveReflectsConsumption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.grantOrder(t, "dev-1", 5, "WC-5", "a@x.com", 5)
	subject := caller("a@x.com", "dev-1")

	result, err := f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	require.True(t, result.Success)

	resolved, err := f.resolver.Resolve(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, result.Remaining, resolved.AvailableUsages)
	assert.Equal(t, 4, resolved.AvailableUsages)
}

func TestConsumeDisabledGrantIsNoAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grant := f.grantOrder(t, "dev-1", 6, "WC-6", "a@x.com", 3)
	_, err := f.grants.DisableGrant(ctx, grant.ID, "admin", "chargeback")
	require.NoError(t, err)

	result, err := f.usage.Consume(ctx, caller("a@x.com", "dev-1"), "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ReasonNoAccess, result.Reason)
}

func TestConsumptionOrderPrefersOldestOrderGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createCode(t, "MIXED", 5)
	subject := caller("a@x.com", "dev-1")

	_, err := f.redemption.Redeem(ctx, subject, RedeemInput{Input: "MIXED"})
	require.NoError(t, err)
	first := f.grantOrder(t, "dev-1", 10, "WC-10", "a@x.com", 1)
	f.grantOrder(t, "dev-1", 11, "WC-11", "a@x.com", 1)

	result, err := f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, first.ID, result.Grant.ID)
	// one left on WC-11 plus four on the code
	assert.Equal(t, 5, result.Remaining)

	result, err = f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOrder, result.Grant.SourceKind)
	assert.Equal(t, "WC-11", result.Grant.SourceReference)

	result, err = f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCode, result.Grant.SourceKind)
	assert.Equal(t, 3, result.Remaining)
}

func TestPureCodeSubjectConsumesCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createCode(t, "SOLO", 3)
	subject := caller("code@x.com", "dev-1")

	_, err := f.redemption.Redeem(ctx, subject, RedeemInput{Input: "SOLO"})
	require.NoError(t, err)

	result, err := f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, domain.SourceCode, result.Grant.SourceKind)
	assert.Equal(t, 1, result.Remaining)
}

func TestConsumeOfflineWritesDeviceCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.grantOrder(t, "dev-1", 8, "WC-8", "a@x.com", 2)
	subject := caller("a@x.com", "dev-1")

	f.store.down.Store(true)
	result, err := f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, domain.OriginCache, result.Grant.Origin)
	assert.Equal(t, 1, result.Remaining)

	resolved, err := f.resolver.Resolve(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved.AvailableUsages)
}

func TestConsumeWriteFailureIsUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.grantOrder(t, "", 9, "WC-9", "a@x.com", 2)

	// resolve succeeds against the store, then the write fails
	f.usage.store = failingIncrements{f.store}

	result, err := f.usage.Consume(ctx, caller("a@x.com", ""), "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ReasonUnavailable, result.Reason)
}

func TestConsumeRecordsAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.grantOrder(t, "dev-1", 12, "WC-12", "a@x.com", 1)
	subject := caller("a@x.com", "dev-1")

	_, err := f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)
	_, err = f.usage.Consume(ctx, subject, "")
	require.NoError(t, err)

	attempts := f.store.UsageAttempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, "success", attempts[0].Outcome)
	assert.NotNil(t, attempts[0].GrantID)
	assert.Equal(t, "exhausted", attempts[1].Outcome)
	assert.Equal(t, "dev-1", attempts[1].DeviceID)
}

type failingIncrements struct {
	*flakyStore
}

func (failingIncrements) IncrementUsage(context.Context, string) (*domain.Grant, error) {
	return nil, errUnreachable
}

func TestRepeatedInteractionConsumesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grant := f.grantOrder(t, "dev-1", 1001, "WC-1001", "a@x.com", 10)
	subject := caller("a@x.com", "dev-1")

	var (
		mu      sync.Mutex
		results []domain.ConsumeResult
	)
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			result, err := f.usage.Consume(ctx, subject, "click-1")
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, result := range results {
		assert.True(t, result.Success)
		assert.Equal(t, 9, result.Remaining)
	}

	again, err := f.usage.Consume(ctx, subject, "click-1")
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, 9, again.Remaining)

	stored, err := f.store.GetGrantByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)

	next, err := f.usage.Consume(ctx, subject, "click-2")
	require.NoError(t, err)
	assert.Equal(t, 8, next.Remaining)
}

func TestRepeatedInteractionRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	subject := caller("b@x.com", "dev-9")

	missing, err := f.usage.Consume(ctx, subject, "click-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNoAccess, missing.Reason)

	f.grantOrder(t, "dev-9", 2002, "WC-2002", "b@x.com", 1)
	retried, err := f.usage.Consume(ctx, subject, "click-1")
	require.NoError(t, err)
	assert.True(t, retried.Success)
	assert.Equal(t, 0, retried.Remaining)
}

func TestConcurrentConsumersRaceForLastUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grant := f.grantOrder(t, "dev-0", 77, "WC-77", "a@x.com", 1)

	const consumers = 20
	var (
		mu      sync.Mutex
		results []domain.ConsumeResult
	)
	var g errgroup.Group
	for i := 0; i < consumers; i++ {
		device := fmt.Sprintf("dev-%d", i)
		g.Go(func() error {
			result, err := f.usage.Consume(ctx, caller("a@x.com", device), "")
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return err
		})
	}
	require.NoError(t, g.Wait())

	succeeded, exhausted := 0, 0
	for _, result := range results {
		switch {
		case result.Success:
			succeeded++
		case result.Reason == domain.ReasonExhausted:
			exhausted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, consumers-1, exhausted)

	stored, err := f.store.GetGrantByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
}
