package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// Sentinel errors returned by every GrantRepository and CodeRepository implementation.
// Any other error means the backing store could not be reached.
var (
	ErrNotFound      = errors.New("repository: not found")
	ErrExhausted     = errors.New("repository: usage exhausted")
	ErrGrantDisabled = errors.New("repository: grant disabled")
	ErrCodeInactive  = errors.New("repository: code inactive")
	ErrCodeExpired   = errors.New("repository: code expired")
	ErrConflict      = errors.New("repository: conflict")
)

// IsDefinitive reports whether err is an answer from the store rather than a failure
// to reach it.
func IsDefinitive(err error) bool {
	if err == nil {
		return true
	}
	for _, target := range []error{ErrNotFound, ErrExhausted, ErrGrantDisabled, ErrCodeInactive, ErrCodeExpired, ErrConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// GrantRepository is the narrow grant interface shared by the Entitlement Store and the
// per-device Local Cache.
type GrantRepository interface {
	// GetGrantsForSubject returns every grant record of the subject, enabled or not.
	GetGrantsForSubject(ctx context.Context, identity string) ([]domain.Grant, error)
	// GetGrantByOrderNumber matches order numbers case-insensitively.
	GetGrantByOrderNumber(ctx context.Context, number string) (*domain.Grant, error)
	// GetGrantByCode returns the subject's grant for a redemption code.
	GetGrantByCode(ctx context.Context, code, identity string) (*domain.Grant, error)
	// UpsertGrant creates or updates a grant; order grants are keyed by order id, code
	// grants by (code, subject). The grant is updated in place with stored values.
	UpsertGrant(ctx context.Context, grant *domain.Grant) error
	// IncrementUsage consumes one unit only if capacity remains and returns the written
	// counters.
	IncrementUsage(ctx context.Context, grantID string) (*domain.Grant, error)
}

// GrantFilter captures admin listing parameters.
type GrantFilter struct {
	SourceKind      *domain.SourceKind
	SubjectIdentity *string
	Enabled         *bool
	Limit           int
	Offset          int
}

// GrantAdminRepository is the store-only grant surface used by the admin control plane.
type GrantAdminRepository interface {
	ListGrants(ctx context.Context, filter GrantFilter) ([]domain.Grant, error)
	GetGrantByID(ctx context.Context, id string) (*domain.Grant, error)
	GetGrantByOrderID(ctx context.Context, orderID int64) (*domain.Grant, error)
	SetGrantEnabled(ctx context.Context, id string, enabled bool, actor, note string) (*domain.Grant, error)
	GrantStatistics(ctx context.Context, now time.Time) (domain.GrantStatistics, error)
}

// CodeRepository persists redemption codes and their append-only usage records.
type CodeRepository interface {
	CreateCode(ctx context.Context, code *domain.RedemptionCode) error
	GetCode(ctx context.Context, code string) (*domain.RedemptionCode, error)
	GetCodeByID(ctx context.Context, id string) (*domain.RedemptionCode, error)
	ListCodes(ctx context.Context) ([]domain.RedemptionCode, error)
	UpdateCode(ctx context.Context, code *domain.RedemptionCode) error
	DeleteCode(ctx context.Context, id string) error
	CodeExists(ctx context.Context, code string) (bool, error)
	// RedeemCode increments the code, appends the record and binds a code grant to the
	// record's subject as one transaction. It fails with ErrExhausted once the code is
	// at capacity, however many callers race for the last unit.
	RedeemCode(ctx context.Context, codeID string, record *domain.RedemptionRecord) (*domain.RedemptionCode, *domain.Grant, error)
	ListRedemptions(ctx context.Context, codeID *string) ([]domain.RedemptionRecord, error)
	CodeStatistics(ctx context.Context, now time.Time) (domain.CodeStatistics, error)
}

// SettingsRepository stores the process-wide global switch.
type SettingsRepository interface {
	GetGlobalSwitch(ctx context.Context) (bool, error)
	SetGlobalSwitch(ctx context.Context, enabled bool, actor string) error
}

// AuditRepository records consumption attempts.
type AuditRepository interface {
	RecordUsageAttempt(ctx context.Context, attempt domain.UsageAttempt) error
}

// Store bundles every store-side repository.
type Store interface {
	GrantRepository
	GrantAdminRepository
	CodeRepository
	SettingsRepository
	AuditRepository
}
