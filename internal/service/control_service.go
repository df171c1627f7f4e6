package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/observability"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// ControlService is the boundary to the Admin Control Plane's global switch.
type ControlService struct {
	settings   repository.SettingsRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	lastKnown  atomic.Bool
}

// ControlDependencies bundles collaborators for the control service.
type ControlDependencies struct {
	Settings      repository.SettingsRepository
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	StoreTimeout  time.Duration
	DefaultSwitch bool
}

// NewControlService builds the service.
func NewControlService(deps ControlDependencies) *ControlService {
	s := &ControlService{
		settings:   deps.Settings,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		timeout:    storeTimeout(deps.StoreTimeout),
	}
	s.lastKnown.Store(deps.DefaultSwitch)
	return s
}

// GlobalSwitch re-reads the switch. When the store cannot answer, the last value seen
// is used.
func (s *ControlService) GlobalSwitch(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	enabled, err := s.settings.GetGlobalSwitch(ctx)
	switch {
	case err == nil:
		s.lastKnown.Store(enabled)
		return enabled
	case errors.Is(err, repository.ErrNotFound):
		return s.lastKnown.Load()
	default:
		s.logger.Warn("global switch read failed", zap.Error(err))
		s.metrics.RecordStoreFallback("global_switch")
		return s.lastKnown.Load()
	}
}

// SetGlobalSwitch persists the switch and notifies subscribers.
func (s *ControlService) SetGlobalSwitch(ctx context.Context, enabled bool, actor string) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.settings.SetGlobalSwitch(storeCtx, enabled, actor); err != nil {
		return apperrors.NewUnavailable(err)
	}
	s.lastKnown.Store(enabled)
	s.logger.Info("global switch changed", zap.Bool("enabled", enabled), zap.String("actor", actor))
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(events.EventGlobalSwitchChanged, "", actor,
		events.GlobalSwitchChangedPayload{Enabled: enabled}))
	return nil
}

// Subscribe registers handler for switch changes.
func (s *ControlService) Subscribe(handler func(ctx context.Context, enabled bool)) {
	if s.dispatcher == nil || handler == nil {
		return
	}
	s.dispatcher.Subscribe(events.EventGlobalSwitchChanged, func(ctx context.Context, event events.Event) error {
		if payload, ok := event.Payload.(events.GlobalSwitchChangedPayload); ok {
			handler(ctx, payload.Enabled)
		}
		return nil
	})
}
