package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/events"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

// AuditService records consumption attempts and logs admin-visible events.
type AuditService struct {
	dispatcher events.Dispatcher
	audit      repository.AuditRepository
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, audit repository.AuditRepository, logger *zap.Logger) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		audit:      audit,
		logger:     loggerOrNop(logger),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventUsageConsumed, a.handleUsage)
	a.dispatcher.Subscribe(events.EventUsageRejected, a.handleUsage)
	a.dispatcher.SubscribeAll(a.handleLogged)
}

func (a *AuditService) handleUsage(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.UsagePayload)
	if !ok {
		return nil
	}
	outcome := "success"
	if event.Type == events.EventUsageRejected {
		outcome = string(payload.Reason)
	}
	if a.audit == nil {
		return nil
	}
	if err := a.audit.RecordUsageAttempt(ctx, domain.UsageAttempt{
		SubjectIdentity: event.Subject,
		DeviceID:        payload.DeviceID,
		GrantID:         payload.GrantID,
		Outcome:         outcome,
		Remaining:       payload.Remaining,
	}); err != nil {
		return fmt.Errorf("record usage attempt: %w", err)
	}
	return nil
}

func (a *AuditService) handleLogged(_ context.Context, event events.Event) error {
	level := zap.InfoLevel
	if event.Type == events.EventUsageConsumed || event.Type == events.EventUsageRejected {
		level = zap.DebugLevel
	}
	a.logger.Log(level, string(event.Type),
		zap.String("event_id", event.ID),
		zap.String("subject", event.Subject),
		zap.String("actor", event.Actor),
		zap.Any("payload", event.Payload))
	return nil
}
