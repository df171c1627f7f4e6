package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// Resolver computes a subject's entitlement from the Entitlement Store and the caller's
// device cache. It is the only place that decides between the two tiers.
type Resolver struct {
	store   repository.GrantRepository
	caches  cache.Provider
	control *ControlService
	logger  *zap.Logger
	metrics *observability.Metrics
	timeout time.Duration
	now     func() time.Time
}

// ResolverDependencies bundles collaborators for the resolver.
type ResolverDependencies struct {
	Store        repository.GrantRepository
	Caches       cache.Provider
	Control      *ControlService
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StoreTimeout time.Duration
}

// NewResolver builds the resolver.
func NewResolver(deps ResolverDependencies) *Resolver {
	return &Resolver{
		store:   deps.Store,
		caches:  deps.Caches,
		control: deps.Control,
		logger:  loggerOrNop(deps.Logger),
		metrics: deps.Metrics,
		timeout: storeTimeout(deps.StoreTimeout),
		now:     time.Now,
	}
}

// Resolve answers whether the caller may use the feature and how many times. Store
// failures degrade to the cache and then to no access; the only error is an empty
// identity.
func (r *Resolver) Resolve(ctx context.Context, caller domain.Caller) (domain.ResolvedEntitlement, error) {
	if caller.Identity.IsZero() {
		return domain.ResolvedEntitlement{}, apperrors.NewValidationError("subject identity is required", nil)
	}

	grants, source := r.grants(ctx, caller)
	systemEnabled := true
	if r.control != nil {
		systemEnabled = r.control.GlobalSwitch(ctx)
	}
	resolved := summarize(grants, r.now(), systemEnabled, source)
	r.metrics.RecordResolution(string(source))
	return resolved, nil
}

// grants returns the records of the authoritative tier. The store wins whenever it
// returns any record for the identity, including disabled ones.
func (r *Resolver) grants(ctx context.Context, caller domain.Caller) ([]domain.Grant, domain.Origin) {
	identity := caller.Identity.Value
	local := deviceCache(r.caches, caller.DeviceID)

	storeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	stored, err := r.store.GetGrantsForSubject(storeCtx, identity)
	cancel()
	if err != nil {
		r.logger.Warn("entitlement store unreachable, using local cache",
			zap.String("identity", identity), zap.Error(err))
		r.metrics.RecordStoreFallback("get_grants")
	} else if len(stored) > 0 {
		mirror(ctx, local, r.logger, stored...)
		return stored, domain.OriginStore
	}

	if local == nil {
		return nil, domain.OriginStore
	}
	cached, cacheErr := local.GetGrantsForSubject(ctx, identity)
	if cacheErr != nil {
		r.logger.Warn("local cache read failed", zap.String("device_id", caller.DeviceID), zap.Error(cacheErr))
		return nil, domain.OriginCache
	}
	return cached, domain.OriginCache
}

func summarize(grants []domain.Grant, now time.Time, systemEnabled bool, source domain.Origin) domain.ResolvedEntitlement {
	resolved := domain.ResolvedEntitlement{
		ContributingGrants: make([]domain.Grant, 0, len(grants)),
		SystemEnabled:      systemEnabled,
		Source:             source,
	}
	for _, g := range grants {
		if !g.Contributes(now) {
			continue
		}
		resolved.ContributingGrants = append(resolved.ContributingGrants, g)
		resolved.AvailableUsages += g.Remaining()
	}
	resolved.CanUse = len(resolved.ContributingGrants) > 0

	switch {
	case !resolved.CanUse && !systemEnabled:
		resolved.Status = domain.AccessSystemDisabled
	case !resolved.CanUse:
		resolved.Status = domain.AccessNone
	case resolved.AvailableUsages == 0:
		resolved.Status = domain.AccessExhausted
	default:
		resolved.Status = domain.AccessAvailable
	}
	return resolved
}
