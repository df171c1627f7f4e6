package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

const (
	codeAlphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultCodeLength  = 8
	uniqueCodeAttempts = 10
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,64}$`)

// CodeService manages redemption codes for operators.
type CodeService struct {
	codes  repository.CodeRepository
	logger *zap.Logger
	now    func() time.Time
}

// CodeDependencies bundles collaborators for the code service.
type CodeDependencies struct {
	Codes  repository.CodeRepository
	Logger *zap.Logger
}

// CodeCreateInput describes a new code. An empty Code is generated.
type CodeCreateInput struct {
	Code        string
	Description string
	MaxUsage    int
	IsActive    *bool
	ExpiresAt   *time.Time
	CreatedBy   string
}

// CodeUpdateInput carries the mutable fields of a code; nil leaves a field unchanged.
type CodeUpdateInput struct {
	Description *string
	MaxUsage    *int
	IsActive    *bool
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// NewCodeService builds the service.
func NewCodeService(deps CodeDependencies) *CodeService {
	return &CodeService{codes: deps.Codes, logger: loggerOrNop(deps.Logger), now: time.Now}
}

// Create stores a new code.
func (s *CodeService) Create(ctx context.Context, in CodeCreateInput) (*domain.RedemptionCode, error) {
	value := domain.NormalizeCode(in.Code)
	if value == "" {
		generated, err := s.GenerateUniqueCode(ctx)
		if err != nil {
			return nil, err
		}
		value = generated
	}
	if !codePattern.MatchString(value) {
		return nil, apperrors.NewValidationError("code must be 3-64 letters, digits, dashes or underscores", map[string]any{"code": value})
	}
	if in.MaxUsage <= 0 {
		return nil, apperrors.NewValidationError("max usage must be positive", map[string]any{"max_usage": in.MaxUsage})
	}
	exists, err := s.codes.CodeExists(ctx, value)
	if err != nil {
		return nil, apperrors.NewUnavailable(err)
	}
	if exists {
		return nil, apperrors.NewConflict("code already exists", map[string]any{"code": value})
	}

	code := &domain.RedemptionCode{
		Code:        value,
		Description: strings.TrimSpace(in.Description),
		MaxUsage:    in.MaxUsage,
		IsActive:    in.IsActive == nil || *in.IsActive,
		ExpiresAt:   in.ExpiresAt,
		CreatedBy:   in.CreatedBy,
	}
	if code.CreatedBy == "" {
		code.CreatedBy = "admin"
	}
	if err := s.codes.CreateCode(ctx, code); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("code already exists", map[string]any{"code": value})
		}
		return nil, apperrors.NewUnavailable(err)
	}
	s.logger.Info("redemption code created", zap.String("code", code.Code), zap.Int("max_usage", code.MaxUsage))
	return code, nil
}

// List returns every code, newest first.
func (s *CodeService) List(ctx context.Context) ([]domain.RedemptionCode, error) {
	codes, err := s.codes.ListCodes(ctx)
	if err != nil {
		return nil, apperrors.NewUnavailable(err)
	}
	return codes, nil
}

// Get loads a code by id.
func (s *CodeService) Get(ctx context.Context, id string) (*domain.RedemptionCode, error) {
	code, err := s.codes.GetCodeByID(ctx, id)
	if err != nil {
		return nil, codeError(err, id)
	}
	return code, nil
}

// Update changes description, capacity, activity or expiry. Capacity never drops below
// what was already used.
func (s *CodeService) Update(ctx context.Context, id string, in CodeUpdateInput) (*domain.RedemptionCode, error) {
	code, err := s.codes.GetCodeByID(ctx, id)
	if err != nil {
		return nil, codeError(err, id)
	}
	if in.Description != nil {
		code.Description = strings.TrimSpace(*in.Description)
	}
	if in.MaxUsage != nil {
		if *in.MaxUsage <= 0 || *in.MaxUsage < code.CurrentUsage {
			return nil, apperrors.NewValidationError("max usage must be positive and not below current usage",
				map[string]any{"max_usage": *in.MaxUsage, "current_usage": code.CurrentUsage})
		}
		code.MaxUsage = *in.MaxUsage
	}
	if in.IsActive != nil {
		code.IsActive = *in.IsActive
	}
	if in.ClearExpiry {
		code.ExpiresAt = nil
	} else if in.ExpiresAt != nil {
		code.ExpiresAt = in.ExpiresAt
	}

	if err := s.codes.UpdateCode(ctx, code); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("code update conflicts with current usage", map[string]any{"code_id": id})
		}
		return nil, codeError(err, id)
	}
	return code, nil
}

// Delete removes a code and its usage records. Grants bound to it stop contributing.
func (s *CodeService) Delete(ctx context.Context, id string) error {
	if err := s.codes.DeleteCode(ctx, id); err != nil {
		return codeError(err, id)
	}
	s.logger.Info("redemption code deleted", zap.String("code_id", id))
	return nil
}

// Statistics summarizes codes for the dashboard.
func (s *CodeService) Statistics(ctx context.Context) (domain.CodeStatistics, error) {
	stats, err := s.codes.CodeStatistics(ctx, s.now())
	if err != nil {
		return domain.CodeStatistics{}, apperrors.NewUnavailable(err)
	}
	return stats, nil
}

// UsageHistory lists redemption records, optionally for one code.
func (s *CodeService) UsageHistory(ctx context.Context, codeID *string) ([]domain.RedemptionRecord, error) {
	records, err := s.codes.ListRedemptions(ctx, codeID)
	if err != nil {
		return nil, apperrors.NewUnavailable(err)
	}
	return records, nil
}

// GenerateUniqueCode draws random codes until one is unused.
func (s *CodeService) GenerateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < uniqueCodeAttempts; attempt++ {
		candidate, err := GenerateRandomCode(defaultCodeLength)
		if err != nil {
			return "", apperrors.NewInternalError(err)
		}
		exists, err := s.codes.CodeExists(ctx, candidate)
		if err != nil {
			return "", apperrors.NewUnavailable(err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", apperrors.NewConflict("could not generate a unique code", nil)
}

// GenerateRandomCode returns length characters drawn uniformly from A-Z and 0-9.
func GenerateRandomCode(length int) (string, error) {
	if length <= 0 {
		length = defaultCodeLength
	}
	limit := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func codeError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("code", map[string]any{"code_id": id})
	}
	return apperrors.NewUnavailable(err)
}
