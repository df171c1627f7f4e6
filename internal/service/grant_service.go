package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/cache"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

const (
	autoGrantedBy = "auto"
	autoGrantNote = "Automatically enabled on order completion"
)

// GrantService creates order grants for the checkout collaborator and manages grants for
// operators.
type GrantService struct {
	store      repository.GrantStore
	caches     cache.Provider
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	now        func() time.Time
}

// GrantDependencies bundles collaborators for the grant service.
type GrantDependencies struct {
	Store        repository.GrantStore
	Caches       cache.Provider
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StoreTimeout time.Duration
}

// GrantOrderInput describes an order being made eligible.
type GrantOrderInput struct {
	OrderID         int64
	OrderNumber     string
	SubjectIdentity string
	SubjectName     string
	MaxUsage        int
	GrantedBy       string
	Note            string
}

// NewGrantService builds the service.
func NewGrantService(deps GrantDependencies) *GrantService {
	return &GrantService{
		store:      deps.Store,
		caches:     deps.Caches,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		timeout:    storeTimeout(deps.StoreTimeout),
		now:        time.Now,
	}
}

// GrantForOrder creates or updates the grant of an order. Re-granting keeps consumed
// usage. When the store is unreachable the grant is kept in the device cache.
func (s *GrantService) GrantForOrder(ctx context.Context, deviceID string, in GrantOrderInput) (*domain.Grant, error) {
	in.OrderNumber = strings.TrimSpace(in.OrderNumber)
	identity := domain.ParseIdentity(in.SubjectIdentity)
	switch {
	case in.OrderID <= 0:
		return nil, apperrors.NewValidationError("order id must be positive", nil)
	case in.OrderNumber == "":
		return nil, apperrors.NewValidationError("order number is required", nil)
	case identity.IsZero():
		return nil, apperrors.NewValidationError("subject identity is required", nil)
	case in.MaxUsage <= 0:
		return nil, apperrors.NewValidationError("max usage must be positive", map[string]any{"max_usage": in.MaxUsage})
	}
	if in.GrantedBy == "" {
		in.GrantedBy = "admin"
	}

	now := s.now()
	orderID := in.OrderID
	grant := &domain.Grant{
		SubjectIdentity: identity.Value,
		SubjectName:     in.SubjectName,
		SourceKind:      domain.SourceOrder,
		SourceReference: in.OrderNumber,
		OrderID:         &orderID,
		MaxUsage:        in.MaxUsage,
		IsEnabled:       true,
		EnabledAt:       &now,
		GrantedBy:       in.GrantedBy,
		Notes:           in.Note,
	}
	local := deviceCache(s.caches, deviceID)

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.store.UpsertGrant(storeCtx, grant)
	cancel()
	switch {
	case err == nil:
		mirror(ctx, local, s.logger, *grant)
	case repository.IsDefinitive(err):
		return nil, apperrors.NewConflict("order grant rejected", map[string]any{"order_number": in.OrderNumber})
	default:
		s.logger.Warn("entitlement store unreachable, granting locally",
			zap.String("order_number", in.OrderNumber), zap.Error(err))
		s.metrics.RecordStoreFallback("upsert_grant")
		if local == nil {
			return nil, apperrors.NewUnavailable(err)
		}
		if err := local.UpsertGrant(ctx, grant); err != nil {
			return nil, apperrors.NewUnavailable(err)
		}
	}

	s.logger.Info("order grant saved",
		zap.String("order_number", grant.SourceReference),
		zap.String("identity", grant.SubjectIdentity),
		zap.Int("max_usage", grant.MaxUsage),
		zap.String("origin", string(grant.Origin)))
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(events.EventGrantCreated, grant.SubjectIdentity, in.GrantedBy,
		grantPayload(grant, in.Note)))
	return grant, nil
}

// GrantForCompletedOrder enables an order automatically once checkout completes.
func (s *GrantService) GrantForCompletedOrder(ctx context.Context, deviceID string, order domain.CompletedOrder) (*domain.Grant, error) {
	if order.Status != "" && !strings.EqualFold(order.Status, "completed") {
		return nil, apperrors.NewValidationError("order is not completed", map[string]any{"status": order.Status})
	}
	number := order.Number
	if number == "" && order.ID > 0 {
		number = "WC-" + strconv.FormatInt(order.ID, 10)
	}
	return s.GrantForOrder(ctx, deviceID, GrantOrderInput{
		OrderID:         order.ID,
		OrderNumber:     number,
		SubjectIdentity: order.CustomerIdentity().Value,
		SubjectName:     order.CustomerName(),
		MaxUsage:        order.UsageAllowance(),
		GrantedBy:       autoGrantedBy,
		Note:            autoGrantNote,
	})
}

// EnableGrant turns a grant back on.
func (s *GrantService) EnableGrant(ctx context.Context, grantID, actor, note string) (*domain.Grant, error) {
	return s.setEnabled(ctx, grantID, true, actor, note)
}

// DisableGrant soft-deletes a grant; its usage stays recorded.
func (s *GrantService) DisableGrant(ctx context.Context, grantID, actor, note string) (*domain.Grant, error) {
	return s.setEnabled(ctx, grantID, false, actor, note)
}

func (s *GrantService) setEnabled(ctx context.Context, grantID string, enabled bool, actor, note string) (*domain.Grant, error) {
	if strings.TrimSpace(grantID) == "" {
		return nil, apperrors.NewValidationError("grant id is required", nil)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	grant, err := s.store.SetGrantEnabled(storeCtx, grantID, enabled, actor, note)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("grant", map[string]any{"grant_id": grantID})
		}
		return nil, apperrors.NewUnavailable(err)
	}

	eventType := events.EventGrantDisabled
	if enabled {
		eventType = events.EventGrantEnabled
	}
	s.logger.Info("grant toggled", zap.String("grant_id", grantID), zap.Bool("enabled", enabled), zap.String("actor", actor))
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(eventType, grant.SubjectIdentity, actor, grantPayload(grant, note)))
	return grant, nil
}

// GetGrant loads a grant by id.
func (s *GrantService) GetGrant(ctx context.Context, grantID string) (*domain.Grant, error) {
	grant, err := s.store.GetGrantByID(ctx, grantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("grant", map[string]any{"grant_id": grantID})
		}
		return nil, apperrors.NewUnavailable(err)
	}
	return grant, nil
}

// GetOrderGrant loads the grant of an order.
func (s *GrantService) GetOrderGrant(ctx context.Context, orderID int64) (*domain.Grant, error) {
	grant, err := s.store.GetGrantByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("order grant", map[string]any{"order_id": orderID})
		}
		return nil, apperrors.NewUnavailable(err)
	}
	return grant, nil
}

// ListGrants lists grants for operators.
func (s *GrantService) ListGrants(ctx context.Context, filter repository.GrantFilter) ([]domain.Grant, error) {
	grants, err := s.store.ListGrants(ctx, filter)
	if err != nil {
		return nil, apperrors.NewUnavailable(err)
	}
	return grants, nil
}

// Statistics summarizes order grants.
func (s *GrantService) Statistics(ctx context.Context) (domain.GrantStatistics, error) {
	stats, err := s.store.GrantStatistics(ctx, s.now())
	if err != nil {
		return domain.GrantStatistics{}, apperrors.NewUnavailable(err)
	}
	return stats, nil
}

func grantPayload(grant *domain.Grant, note string) events.GrantChangedPayload {
	return events.GrantChangedPayload{
		GrantID:         grant.ID,
		SourceKind:      grant.SourceKind,
		SourceReference: grant.SourceReference,
		Enabled:         grant.IsEnabled,
		MaxUsage:        grant.MaxUsage,
		Note:            note,
	}
}
