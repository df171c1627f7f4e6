package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/ratelimit"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	"github.com/spec-kit/growth-entitlements/internal/repository/memory"
)

var errUnreachable = errors.New("dial tcp: connection refused")

// flakyStore fails every entitlement call while down.
type flakyStore struct {
	*memory.Store
	down atomic.Bool
}

func (f *flakyStore) GetGrantsForSubject(ctx context.Context, identity string) ([]domain.Grant, error) {
	if f.down.Load() {
		return nil, errUnreachable
	}
	return f.Store.GetGrantsForSubject(ctx, identity)
}

func (f *flakyStore) GetGrantByOrderNumber(ctx context.Context, number string) (*domain.Grant, error) {
	if f.down.Load() {
		return nil, errUnreachable
	}
	return f.Store.GetGrantByOrderNumber(ctx, number)
}

func (f *flakyStore) GetGrantByCode(ctx context.Context, code, identity string) (*domain.Grant, error) {
	if f.down.Load() {
		return nil, errUnreachable
	}
	return f.Store.GetGrantByCode(ctx, code, identity)
}

func (f *flakyStore) UpsertGrant(ctx context.Context, grant *domain.Grant) error {
	if f.down.Load() {
		return errUnreachable
	}
	return f.Store.UpsertGrant(ctx, grant)
}

func (f *flakyStore) IncrementUsage(ctx context.Context, grantID string) (*domain.Grant, error) {
	if f.down.Load() {
		return nil, errUnreachable
	}
	return f.Store.IncrementUsage(ctx, grantID)
}

func (f *flakyStore) GetCode(ctx context.Context, code string) (*domain.RedemptionCode, error) {
	if f.down.Load() {
		return nil, errUnreachable
	}
	return f.Store.GetCode(ctx, code)
}

func (f *flakyStore) RedeemCode(ctx context.Context, codeID string, record *domain.RedemptionRecord) (*domain.RedemptionCode, *domain.Grant, error) {
	if f.down.Load() {
		return nil, nil, errUnreachable
	}
	return f.Store.RedeemCode(ctx, codeID, record)
}

func (f *flakyStore) GetGlobalSwitch(ctx context.Context) (bool, error) {
	if f.down.Load() {
		return false, errUnreachable
	}
	return f.Store.GetGlobalSwitch(ctx)
}

var _ repository.Store = (*flakyStore)(nil)

type fixture struct {
	store      *flakyStore
	caches     *cache.MemoryProvider
	dispatcher events.Dispatcher
	control    *ControlService
	resolver   *Resolver
	redemption *RedemptionService
	usage      *UsageService
	grants     *GrantService
	codes      *CodeService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLimiter(t, ratelimit.Unlimited{})
}

func newFixtureWithLimiter(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()

	store := &flakyStore{Store: memory.New()}
	caches, err := cache.NewMemoryProvider(16, time.Hour)
	require.NoError(t, err)
	dispatcher := events.NewInMemoryDispatcher()
	NewAuditService(dispatcher, store, nil).RegisterHandlers()

	timeout := 500 * time.Millisecond
	control := NewControlService(ControlDependencies{
		Settings:      store,
		Dispatcher:    dispatcher,
		StoreTimeout:  timeout,
		DefaultSwitch: true,
	})
	resolver := NewResolver(ResolverDependencies{
		Store:        store,
		Caches:       caches,
		Control:      control,
		StoreTimeout: timeout,
	})

	return &fixture{
		store:      store,
		caches:     caches,
		dispatcher: dispatcher,
		control:    control,
		resolver:   resolver,
		redemption: NewRedemptionService(RedemptionDependencies{
			Codes:        store,
			Grants:       store,
			Caches:       caches,
			Limiter:      limiter,
			Dispatcher:   dispatcher,
			StoreTimeout: timeout,
		}),
		usage: NewUsageService(UsageDependencies{
			Resolver:     resolver,
			Store:        store,
			Caches:       caches,
			Dispatcher:   dispatcher,
			StoreTimeout: timeout,
		}),
		grants: NewGrantService(GrantDependencies{
			Store:        store,
			Caches:       caches,
			Dispatcher:   dispatcher,
			StoreTimeout: timeout,
		}),
		codes: NewCodeService(CodeDependencies{Codes: store}),
	}
}

func caller(identity, device string) domain.Caller {
	return domain.Caller{Identity: domain.ParseIdentity(identity), DeviceID: device}
}

func (f *fixture) createCode(t *testing.T, code string, maxUsage int) *domain.RedemptionCode {
	t.Helper()
	created, err := f.codes.Create(context.Background(), CodeCreateInput{Code: code, MaxUsage: maxUsage})
	require.NoError(t, err)
	return created
}

func (f *fixture) grantOrder(t *testing.T, device string, orderID int64, number, identity string, maxUsage int) *domain.Grant {
	t.Helper()
	grant, err := f.grants.GrantForOrder(context.Background(), device, GrantOrderInput{
		OrderID:         orderID,
		OrderNumber:     number,
		SubjectIdentity: identity,
		MaxUsage:        maxUsage,
	})
	require.NoError(t, err)
	return grant
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}
