package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

const (
	defaultReplayWindow = 10 * time.Minute
	replayCapacity      = 10000
)

// UsageService consumes one unit of entitlement per report generation.
type UsageService struct {
	resolver   *Resolver
	store      repository.GrantRepository
	caches     cache.Provider
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	inflight   singleflight.Group
	completed  *expirable.LRU[string, domain.ConsumeResult]
}

// UsageDependencies bundles collaborators for the usage service.
type UsageDependencies struct {
	Resolver     *Resolver
	Store        repository.GrantRepository
	Caches       cache.Provider
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StoreTimeout time.Duration
	// ReplayWindow is how long a successful consumption answers repeats of its
	// interaction id.
	ReplayWindow time.Duration
}

// NewUsageService builds the service.
func NewUsageService(deps UsageDependencies) *UsageService {
	window := deps.ReplayWindow
	if window <= 0 {
		window = defaultReplayWindow
	}
	return &UsageService{
		resolver:   deps.Resolver,
		store:      deps.Store,
		caches:     deps.Caches,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		timeout:    storeTimeout(deps.StoreTimeout),
		completed:  expirable.NewLRU[string, domain.ConsumeResult](replayCapacity, nil, window),
	}
}

// Consume re-resolves the caller and decrements one contributing grant. Failing to
// consume is a normal result; the error is reserved for invalid callers. Submissions
// sharing an interaction id get the result of the first one, whether they overlap it
// or arrive within the replay window after it succeeded.
func (s *UsageService) Consume(ctx context.Context, caller domain.Caller, interactionID string) (domain.ConsumeResult, error) {
	if interactionID == "" {
		return s.consume(ctx, caller)
	}
	key := caller.Identity.Value + "|" + caller.DeviceID + "|" + interactionID
	if result, ok := s.completed.Get(key); ok {
		return result, nil
	}
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		if result, ok := s.completed.Get(key); ok {
			return result, nil
		}
		result, err := s.consume(ctx, caller)
		// Only spent units are replayed; a failed attempt may be retried.
		if err == nil && result.Success {
			s.completed.Add(key, result)
		}
		return result, err
	})
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	return v.(domain.ConsumeResult), nil
}

func (s *UsageService) consume(ctx context.Context, caller domain.Caller) (domain.ConsumeResult, error) {
	resolved, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	if !resolved.CanUse {
		return s.finish(ctx, caller, domain.ConsumeResult{Reason: domain.ReasonNoAccess}), nil
	}

	local := deviceCache(s.caches, caller.DeviceID)
	for _, candidate := range consumptionOrder(resolved.ContributingGrants) {
		written, err := s.increment(ctx, local, candidate)
		switch {
		case err == nil:
			result := domain.ConsumeResult{
				Success:   true,
				Remaining: written.Remaining() + othersRemaining(resolved.ContributingGrants, written.ID),
				Grant:     written,
			}
			return s.finish(ctx, caller, result), nil
		case errors.Is(err, repository.ErrExhausted),
			errors.Is(err, repository.ErrGrantDisabled),
			errors.Is(err, repository.ErrNotFound):
			continue
		default:
			s.logger.Warn("usage increment failed",
				zap.String("identity", caller.Identity.Value),
				zap.String("grant_id", candidate.ID),
				zap.String("origin", string(candidate.Origin)),
				zap.Error(err))
			if candidate.Origin == domain.OriginStore {
				s.metrics.RecordStoreFallback("increment_usage")
			}
			return s.finish(ctx, caller, domain.ConsumeResult{Reason: domain.ReasonUnavailable}), nil
		}
	}
	return s.finish(ctx, caller, domain.ConsumeResult{Reason: domain.ReasonExhausted}), nil
}

// increment writes to the tier the grant was resolved from. Store writes are mirrored
// into the device cache from the returned counters.
func (s *UsageService) increment(ctx context.Context, local cache.Cache, grant domain.Grant) (*domain.Grant, error) {
	if grant.Origin == domain.OriginCache {
		if local == nil {
			return nil, repository.ErrNotFound
		}
		return local.IncrementUsage(ctx, grant.ID)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	written, err := s.store.IncrementUsage(storeCtx, grant.ID)
	if err != nil {
		return nil, err
	}
	mirror(ctx, local, s.logger, *written)
	return written, nil
}

func (s *UsageService) finish(ctx context.Context, caller domain.Caller, result domain.ConsumeResult) domain.ConsumeResult {
	outcome := "success"
	eventType := events.EventUsageConsumed
	if !result.Success {
		outcome = string(result.Reason)
		eventType = events.EventUsageRejected
	}
	var grantID *string
	if result.Grant != nil {
		id := result.Grant.ID
		grantID = &id
	}
	s.metrics.RecordConsumption(outcome)
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(eventType, caller.Identity.Value, "", events.UsagePayload{
		DeviceID:  caller.DeviceID,
		GrantID:   grantID,
		Remaining: result.Remaining,
		Reason:    result.Reason,
	}))
	return result
}

// consumptionOrder lists grants with capacity: order grants oldest first, then code
// grants oldest first. A subject holding only code grants therefore consumes codes.
func consumptionOrder(grants []domain.Grant) []domain.Grant {
	candidates := make([]domain.Grant, 0, len(grants))
	for _, g := range grants {
		if g.Remaining() > 0 {
			candidates = append(candidates, g)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		iOrder := candidates[i].SourceKind == domain.SourceOrder
		jOrder := candidates[j].SourceKind == domain.SourceOrder
		if iOrder != jOrder {
			return iOrder
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates
}

func othersRemaining(grants []domain.Grant, writtenID string) int {
	total := 0
	for _, g := range grants {
		if g.ID != writtenID {
			total += g.Remaining()
		}
	}
	return total
}
