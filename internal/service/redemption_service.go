package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/ratelimit"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// RedeemInput is what the customer typed plus request metadata for the audit record.
type RedeemInput struct {
	Input       string
	SubjectName string
	IPAddress   *string
	UserAgent   *string
}

// RedeemResult describes a successful redemption.
type RedeemResult struct {
	Kind            domain.SourceKind
	Grant           *domain.Grant
	Code            *domain.RedemptionCode
	BoundIdentity   string
	AvailableUsages int
	Origin          domain.Origin
}

// RedemptionService turns a redemption code or an order number into an entitlement.
type RedemptionService struct {
	codes      repository.CodeRepository
	grants     repository.GrantRepository
	caches     cache.Provider
	limiter    ratelimit.Limiter
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	now        func() time.Time
}

// RedemptionDependencies bundles collaborators for the redemption service.
type RedemptionDependencies struct {
	Codes        repository.CodeRepository
	Grants       repository.GrantRepository
	Caches       cache.Provider
	Limiter      ratelimit.Limiter
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StoreTimeout time.Duration
}

// NewRedemptionService builds the service.
func NewRedemptionService(deps RedemptionDependencies) *RedemptionService {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &RedemptionService{
		codes:      deps.Codes,
		grants:     deps.Grants,
		caches:     deps.Caches,
		limiter:    limiter,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		timeout:    storeTimeout(deps.StoreTimeout),
		now:        time.Now,
	}
}

// Redeem tries input as a redemption code first and as an order number second.
func (s *RedemptionService) Redeem(ctx context.Context, caller domain.Caller, in RedeemInput) (*RedeemResult, error) {
	raw := strings.TrimSpace(in.Input)
	if raw == "" {
		return nil, apperrors.NewValidationError("code or order number is required", nil)
	}
	if caller.Identity.IsZero() {
		return nil, apperrors.NewValidationError("subject identity is required", nil)
	}
	if err := s.allow(ctx, caller); err != nil {
		return nil, err
	}

	local := deviceCache(s.caches, caller.DeviceID)
	result, reachable, err := s.redeemCode(ctx, caller, local, raw, in)
	if err != nil {
		s.metrics.RecordRedemption(string(domain.SourceCode), errorOutcome(err))
		return nil, err
	}
	if result != nil {
		s.metrics.RecordRedemption(string(domain.SourceCode), "success")
		return result, nil
	}

	result, err = s.redeemOrder(ctx, caller, local, raw, reachable)
	if err != nil {
		s.metrics.RecordRedemption(string(domain.SourceOrder), errorOutcome(err))
		return nil, err
	}
	s.metrics.RecordRedemption(string(domain.SourceOrder), "success")
	return result, nil
}

func (s *RedemptionService) allow(ctx context.Context, caller domain.Caller) error {
	key := caller.DeviceID
	if key == "" {
		key = caller.Identity.Value
	}
	ok, err := s.limiter.Allow(ctx, "redeem:"+key)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return apperrors.NewTooManyRequests("too many redemption attempts, try again later")
	}
	return nil
}

// redeemCode returns a nil result with no error when input is not a known code. The
// reachable flag reports whether the store answered the lookup.
func (s *RedemptionService) redeemCode(ctx context.Context, caller domain.Caller, local cache.Cache, raw string, in RedeemInput) (*RedeemResult, bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	code, err := s.codes.GetCode(storeCtx, raw)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, true, nil
	case err != nil:
		s.logger.Warn("code lookup failed, using local cache", zap.Error(err))
		s.metrics.RecordStoreFallback("get_code")
		result, cacheErr := s.cachedCodeGrant(ctx, caller, local, raw)
		return result, false, cacheErr
	}

	details := map[string]any{"code": code.Code}
	now := s.now()
	switch {
	case !code.IsActive:
		return nil, true, apperrors.NewInactive("this code is no longer active", details)
	case code.Expired(now):
		return nil, true, apperrors.NewExpired("this code has expired", details)
	case code.Exhausted():
		return nil, true, apperrors.NewExhausted("this code has already been fully used", details)
	}

	record := &domain.RedemptionRecord{
		SubjectIdentity: caller.Identity.Value,
		SubjectName:     in.SubjectName,
		IPAddress:       in.IPAddress,
		UserAgent:       in.UserAgent,
	}
	redeemed, grant, err := s.codes.RedeemCode(storeCtx, code.ID, record)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrExhausted):
		return nil, true, apperrors.NewExhausted("this code has already been fully used", details)
	case errors.Is(err, repository.ErrCodeInactive):
		return nil, true, apperrors.NewInactive("this code is no longer active", details)
	case errors.Is(err, repository.ErrCodeExpired):
		return nil, true, apperrors.NewExpired("this code has expired", details)
	case errors.Is(err, repository.ErrNotFound):
		return nil, true, apperrors.NewNotFound("code", details)
	default:
		// The transaction did not commit, so nothing was consumed.
		s.logger.Warn("code redemption failed", zap.String("code", code.Code), zap.Error(err))
		s.metrics.RecordStoreFallback("redeem_code")
		result, cacheErr := s.cachedCodeGrant(ctx, caller, local, raw)
		if result == nil && cacheErr == nil {
			return nil, false, apperrors.NewNotFound("code or order", map[string]any{"input": raw})
		}
		return result, false, cacheErr
	}

	mirror(ctx, local, s.logger, *grant)
	s.logger.Info("code redeemed",
		zap.String("code", redeemed.Code),
		zap.String("identity", caller.Identity.Value),
		zap.Int("code_remaining", redeemed.Remaining()))
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(events.EventCodeRedeemed, caller.Identity.Value, "",
		events.CodeRedeemedPayload{CodeID: redeemed.ID, Code: redeemed.Code, GrantID: grant.ID, Remaining: grant.Remaining()}))

	return &RedeemResult{
		Kind:            domain.SourceCode,
		Grant:           grant,
		Code:            redeemed,
		BoundIdentity:   caller.Identity.Value,
		AvailableUsages: grant.Remaining(),
		Origin:          domain.OriginStore,
	}, true, nil
}

// cachedCodeGrant reports an earlier redemption kept on this device. It never consumes
// capacity, since only the store can increment a code atomically.
func (s *RedemptionService) cachedCodeGrant(ctx context.Context, caller domain.Caller, local cache.Cache, raw string) (*RedeemResult, error) {
	if local == nil {
		return nil, nil
	}
	grant, err := local.GetGrantByCode(ctx, raw, caller.Identity.Value)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("local cache read failed", zap.Error(err))
		}
		return nil, nil
	}
	if !grant.Contributes(s.now()) {
		return nil, apperrors.NewInactive("this code is no longer active", map[string]any{"code": grant.SourceReference})
	}
	return &RedeemResult{
		Kind:            domain.SourceCode,
		Grant:           grant,
		BoundIdentity:   grant.SubjectIdentity,
		AvailableUsages: grant.Remaining(),
		Origin:          domain.OriginCache,
	}, nil
}

// redeemOrder binds the caller to an order's grant. The store match wins over a cached
// one; the cache is consulted when the store has none or cannot be reached.
func (s *RedemptionService) redeemOrder(ctx context.Context, caller domain.Caller, local cache.Cache, raw string, reachable bool) (*RedeemResult, error) {
	var grant *domain.Grant
	if reachable {
		storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		found, err := s.grants.GetGrantByOrderNumber(storeCtx, raw)
		cancel()
		switch {
		case err == nil:
			grant = found
		case !errors.Is(err, repository.ErrNotFound):
			s.logger.Warn("order lookup failed, using local cache", zap.Error(err))
			s.metrics.RecordStoreFallback("get_order")
		}
	}
	if grant == nil && local != nil {
		found, err := local.GetGrantByOrderNumber(ctx, raw)
		switch {
		case err == nil:
			grant = found
		case !errors.Is(err, repository.ErrNotFound):
			s.logger.Warn("local cache read failed", zap.Error(err))
		}
	}
	if grant == nil {
		return nil, apperrors.NewNotFound("code or order", map[string]any{"input": raw})
	}
	if !grant.Contributes(s.now()) {
		return nil, apperrors.NewInactive("this order is not enabled", map[string]any{"order_number": grant.SourceReference})
	}

	if grant.Origin == domain.OriginStore {
		mirror(ctx, local, s.logger, *grant)
	}
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(events.EventOrderBound, grant.SubjectIdentity, "",
		events.OrderBoundPayload{GrantID: grant.ID, OrderNumber: grant.SourceReference, Available: grant.Remaining(), Origin: grant.Origin}))

	return &RedeemResult{
		Kind:            domain.SourceOrder,
		Grant:           grant,
		BoundIdentity:   grant.SubjectIdentity,
		AvailableUsages: grant.Remaining(),
		Origin:          grant.Origin,
	}, nil
}

func errorOutcome(err error) string {
	if domainErr := apperrors.ToDomainError(err); domainErr != nil {
		return strings.ToLower(domainErr.Code)
	}
	return "error"
}
