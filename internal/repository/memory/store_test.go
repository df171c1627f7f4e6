package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

func orderGrant(orderID int64, number, identity string, maxUsage int) *domain.Grant {
	return &domain.Grant{
		SubjectIdentity: identity,
		SourceKind:      domain.SourceOrder,
		SourceReference: number,
		OrderID:         &orderID,
		MaxUsage:        maxUsage,
		IsEnabled:       true,
		GrantedBy:       "admin",
	}
}

func TestUpsertOrderGrantPreservesUsage(t *testing.T) {
	ctx := context.Background()
	store := New()

	grant := orderGrant(1001, "WC-1001", "a@x.com", 3)
	require.NoError(t, store.UpsertGrant(ctx, grant))
	require.NotEmpty(t, grant.ID)

	_, err := store.IncrementUsage(ctx, grant.ID)
	require.NoError(t, err)
	_, err = store.IncrementUsage(ctx, grant.ID)
	require.NoError(t, err)

	regrant := orderGrant(1001, "WC-1001", "a@x.com", 1)
	require.NoError(t, store.UpsertGrant(ctx, regrant))
	assert.Equal(t, grant.ID, regrant.ID)
	assert.Equal(t, 2, regrant.UsageCount)
	assert.Equal(t, 2, regrant.MaxUsage)
	assert.Equal(t, 0, regrant.Remaining())
}

func TestIncrementUsageStopsAtMax(t *testing.T) {
	ctx := context.Background()
	store := New()

	grant := orderGrant(7, "WC-7", "a@x.com", 1)
	require.NoError(t, store.UpsertGrant(ctx, grant))

	written, err := store.IncrementUsage(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, written.UsageCount)

	_, err = store.IncrementUsage(ctx, grant.ID)
	assert.ErrorIs(t, err, repository.ErrExhausted)

	_, err = store.IncrementUsage(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIncrementUsageRejectsDisabledGrant(t *testing.T) {
	ctx := context.Background()
	store := New()

	grant := orderGrant(8, "WC-8", "a@x.com", 3)
	require.NoError(t, store.UpsertGrant(ctx, grant))
	_, err := store.SetGrantEnabled(ctx, grant.ID, false, "admin", "refund")
	require.NoError(t, err)

	_, err = store.IncrementUsage(ctx, grant.ID)
	assert.ErrorIs(t, err, repository.ErrGrantDisabled)
}

func TestOrderNumberLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.UpsertGrant(ctx, orderGrant(9, "WC-1001", "a@x.com", 1)))

	found, err := store.GetGrantByOrderNumber(ctx, " wc-1001 ")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", found.SubjectIdentity)
	assert.Equal(t, domain.OriginStore, found.Origin)
}

func TestCodeGrantsShareCodeCapacity(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := &domain.RedemptionCode{Code: "promo5", MaxUsage: 5, IsActive: true}
	require.NoError(t, store.CreateCode(ctx, code))
	assert.Equal(t, "PROMO5", code.Code)

	for i := 0; i < 5; i++ {
		_, grant, err := store.RedeemCode(ctx, code.ID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
		require.NoError(t, err)
		assert.Equal(t, 5-(i+1), grant.Remaining())
	}

	_, _, err := store.RedeemCode(ctx, code.ID, &domain.RedemptionRecord{SubjectIdentity: "b@x.com"})
	assert.ErrorIs(t, err, repository.ErrExhausted)

	grants, err := store.GetGrantsForSubject(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, 0, grants[0].Remaining())

	records, err := store.ListRedemptions(ctx, &code.ID)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestRedeemCodeRejectsInactiveAndExpired(t *testing.T) {
	ctx := context.Background()
	store := New()

	inactive := &domain.RedemptionCode{Code: "OFF", MaxUsage: 5, IsActive: false}
	require.NoError(t, store.CreateCode(ctx, inactive))
	_, _, err := store.RedeemCode(ctx, inactive.ID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
	assert.ErrorIs(t, err, repository.ErrCodeInactive)

	past := time.Now().Add(-time.Hour)
	expired := &domain.RedemptionCode{Code: "OLD", MaxUsage: 5, IsActive: true, ExpiresAt: &past}
	require.NoError(t, store.CreateCode(ctx, expired))
	_, _, err = store.RedeemCode(ctx, expired.ID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
	assert.ErrorIs(t, err, repository.ErrCodeExpired)
}

func TestConcurrentRedemptionNeverExceedsMax(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := &domain.RedemptionCode{Code: "RACE", MaxUsage: 3, IsActive: true}
	require.NoError(t, store.CreateCode(ctx, code))

	var succeeded, exhausted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		identity := fmt.Sprintf("user%d@x.com", i)
		g.Go(func() error {
			_, _, err := store.RedeemCode(ctx, code.ID, &domain.RedemptionRecord{SubjectIdentity: identity})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, repository.ErrExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int32(17), exhausted.Load())

	stored, err := store.GetCodeByID(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentUsage)
}

func TestDeletedCodeDisablesItsGrants(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := &domain.RedemptionCode{Code: "GONE", MaxUsage: 2, IsActive: true}
	require.NoError(t, store.CreateCode(ctx, code))
	_, grant, err := store.RedeemCode(ctx, code.ID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteCode(ctx, code.ID))

	after, err := store.GetGrantByID(ctx, grant.ID)
	require.NoError(t, err)
	assert.False(t, after.IsEnabled)
	assert.Equal(t, 0, after.Remaining())
}

func TestUpdateCodeRejectsMaxBelowUsage(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := &domain.RedemptionCode{Code: "TIGHT", MaxUsage: 2, IsActive: true}
	require.NoError(t, store.CreateCode(ctx, code))
	_, _, err := store.RedeemCode(ctx, code.ID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
	require.NoError(t, err)
	_, _, err = store.RedeemCode(ctx, code.ID, &domain.RedemptionRecord{SubjectIdentity: "b@x.com"})
	require.NoError(t, err)

	update := *code
	update.MaxUsage = 1
	assert.ErrorIs(t, store.UpdateCode(ctx, &update), repository.ErrConflict)

	require.ErrorIs(t, store.CreateCode(ctx, &domain.RedemptionCode{Code: "tight", MaxUsage: 1}), repository.ErrConflict)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := New().WithClock(func() time.Time { return now })

	enabledAt := now.Add(-time.Hour)
	g1 := orderGrant(1, "WC-1", "a@x.com", 4)
	g1.EnabledAt = &enabledAt
	require.NoError(t, store.UpsertGrant(ctx, g1))
	g2 := orderGrant(2, "WC-2", "b@x.com", 2)
	g2.IsEnabled = false
	require.NoError(t, store.UpsertGrant(ctx, g2))
	_, err := store.IncrementUsage(ctx, g1.ID)
	require.NoError(t, err)

	stats, err := store.GrantStatistics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, domain.GrantStatistics{
		TotalOrders:      2,
		EnabledOrders:    1,
		DisabledOrders:   1,
		TotalUsage:       1,
		RemainingUsage:   3,
		EnabledThisMonth: 1,
	}, stats)

	require.NoError(t, store.CreateCode(ctx, &domain.RedemptionCode{Code: "A", MaxUsage: 5, IsActive: true}))
	require.NoError(t, store.CreateCode(ctx, &domain.RedemptionCode{Code: "B", MaxUsage: 3, IsActive: false}))
	codeStats, err := store.CodeStatistics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, codeStats.TotalCodes)
	assert.Equal(t, 1, codeStats.ActiveCodes)
	assert.Equal(t, 8, codeStats.TotalMaxUsage)
	assert.Equal(t, 2, codeStats.CreatedThisMonth)
}
