// Package memory is an in-process Entitlement Store used when no Postgres DSN is
// configured and throughout the service tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

// Store implements repository.Store behind a single mutex.
type Store struct {
	mu sync.RWMutex

	// Grants in creation order
	grants     map[string]*domain.Grant
	grantOrder []string

	// Codes in creation order
	codes     map[string]*domain.RedemptionCode
	codeOrder []string

	records  []domain.RedemptionRecord
	attempts []domain.UsageAttempt

	globalSwitch bool
	switchActor  string

	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store with the global switch on.
func New() *Store {
	return &Store{
		grants:       make(map[string]*domain.Grant),
		codes:        make(map[string]*domain.RedemptionCode),
		globalSwitch: true,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Grant storage

func (s *Store) GetGrantsForSubject(_ context.Context, identity string) ([]domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Grant, 0)
	for _, id := range s.grantOrder {
		g := s.grants[id]
		if g.SubjectIdentity == identity {
			result = append(result, s.view(g))
		}
	}
	return result, nil
}

func (s *Store) GetGrantByOrderNumber(_ context.Context, number string) (*domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number = strings.TrimSpace(number)
	for _, id := range s.grantOrder {
		g := s.grants[id]
		if g.SourceKind == domain.SourceOrder && strings.EqualFold(g.SourceReference, number) {
			v := s.view(g)
			return &v, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetGrantByCode(_ context.Context, code, identity string) (*domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g := s.codeGrant(domain.NormalizeCode(code), identity); g != nil {
		v := s.view(g)
		return &v, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetGrantByID(_ context.Context, id string) (*domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.grants[id]; ok {
		v := s.view(g)
		return &v, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetGrantByOrderID(_ context.Context, orderID int64) (*domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g := s.orderGrant(orderID); g != nil {
		v := s.view(g)
		return &v, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpsertGrant(_ context.Context, grant *domain.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var existing *domain.Grant
	switch grant.SourceKind {
	case domain.SourceOrder:
		if grant.OrderID == nil {
			return fmt.Errorf("order grant without order id: %w", repository.ErrConflict)
		}
		existing = s.orderGrant(*grant.OrderID)
	case domain.SourceCode:
		if grant.CodeID == nil {
			return fmt.Errorf("code grant without code id: %w", repository.ErrConflict)
		}
		existing = s.codeGrantByID(*grant.CodeID, grant.SubjectIdentity)
	default:
		return fmt.Errorf("unknown grant source %q: %w", grant.SourceKind, repository.ErrConflict)
	}

	if existing == nil {
		stored := *grant
		stored.ID = uuid.NewString()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		if stored.SourceKind == domain.SourceCode {
			stored.SourceReference = domain.NormalizeCode(stored.SourceReference)
			stored.UsageCount = 0
		}
		stored.Origin = ""
		s.grants[stored.ID] = &stored
		s.grantOrder = append(s.grantOrder, stored.ID)
		*grant = s.view(&stored)
		return nil
	}

	existing.SubjectName = grant.SubjectName
	existing.IsEnabled = grant.IsEnabled
	existing.UpdatedAt = now
	if existing.SourceKind == domain.SourceOrder {
		existing.SubjectIdentity = grant.SubjectIdentity
		existing.SourceReference = grant.SourceReference
		existing.MaxUsage = max(grant.MaxUsage, existing.UsageCount)
		if grant.EnabledAt != nil {
			existing.EnabledAt = grant.EnabledAt
		}
		existing.DisabledAt = grant.DisabledAt
		existing.GrantedBy = grant.GrantedBy
		existing.Notes = grant.Notes
	}
	*grant = s.view(existing)
	return nil
}

func (s *Store) IncrementUsage(_ context.Context, grantID string) (*domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	now := s.now()
	if v := s.view(g); !v.Contributes(now) {
		return nil, repository.ErrGrantDisabled
	}

	if g.SourceKind == domain.SourceCode {
		code := s.codes[*g.CodeID]
		if code.Exhausted() {
			return nil, repository.ErrExhausted
		}
		code.CurrentUsage++
		code.UpdatedAt = now
		s.records = append(s.records, domain.RedemptionRecord{
			ID:              uuid.NewString(),
			CodeID:          code.ID,
			Code:            code.Code,
			SubjectIdentity: g.SubjectIdentity,
			SubjectName:     g.SubjectName,
			UsedAt:          now,
		})
	} else {
		if g.UsageCount >= g.MaxUsage {
			return nil, repository.ErrExhausted
		}
		g.UsageCount++
		g.UpdatedAt = now
	}
	v := s.view(g)
	return &v, nil
}

func (s *Store) ListGrants(_ context.Context, filter repository.GrantFilter) ([]domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Grant, 0)
	for i := len(s.grantOrder) - 1; i >= 0; i-- {
		g := s.grants[s.grantOrder[i]]
		if filter.SourceKind != nil && g.SourceKind != *filter.SourceKind {
			continue
		}
		if filter.SubjectIdentity != nil && g.SubjectIdentity != strings.ToLower(strings.TrimSpace(*filter.SubjectIdentity)) {
			continue
		}
		if filter.Enabled != nil && g.IsEnabled != *filter.Enabled {
			continue
		}
		result = append(result, s.view(g))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(max(filter.Offset, 0), len(result))
	end := min(start+limit, len(result))
	return result[start:end], nil
}

func (s *Store) SetGrantEnabled(_ context.Context, id string, enabled bool, actor, note string) (*domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	now := s.now()
	g.IsEnabled = enabled
	if enabled {
		g.EnabledAt = &now
		g.DisabledAt = nil
	} else {
		g.DisabledAt = &now
	}
	g.GrantedBy = actor
	if note != "" {
		g.Notes = note
	}
	g.UpdatedAt = now
	v := s.view(g)
	return &v, nil
}

func (s *Store) GrantStatistics(_ context.Context, now time.Time) (domain.GrantStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.GrantStatistics
	monthStart := domain.MonthStart(now)
	for _, g := range s.grants {
		if g.SourceKind != domain.SourceOrder {
			continue
		}
		stats.TotalOrders++
		stats.TotalUsage += g.UsageCount
		if !g.IsEnabled {
			stats.DisabledOrders++
			continue
		}
		stats.EnabledOrders++
		stats.RemainingUsage += g.Remaining()
		if g.EnabledAt != nil && !g.EnabledAt.Before(monthStart) {
			stats.EnabledThisMonth++
		}
	}
	return stats, nil
}

// Code storage

func (s *Store) CreateCode(_ context.Context, code *domain.RedemptionCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code.Code = domain.NormalizeCode(code.Code)
	if s.codeByValue(code.Code) != nil {
		return fmt.Errorf("code %s: %w", code.Code, repository.ErrConflict)
	}
	now := s.now()
	code.ID = uuid.NewString()
	code.CreatedAt = now
	code.UpdatedAt = now
	stored := *code
	s.codes[stored.ID] = &stored
	s.codeOrder = append(s.codeOrder, stored.ID)
	return nil
}

func (s *Store) GetCode(_ context.Context, code string) (*domain.RedemptionCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.codeByValue(domain.NormalizeCode(code)); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetCodeByID(_ context.Context, id string) (*domain.RedemptionCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.codes[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListCodes(_ context.Context) ([]domain.RedemptionCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RedemptionCode, 0, len(s.codeOrder))
	for i := len(s.codeOrder) - 1; i >= 0; i-- {
		result = append(result, *s.codes[s.codeOrder[i]])
	}
	return result, nil
}

func (s *Store) UpdateCode(_ context.Context, code *domain.RedemptionCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.codes[code.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if code.MaxUsage < existing.CurrentUsage || code.MaxUsage <= 0 {
		return fmt.Errorf("max usage %d below current usage %d: %w", code.MaxUsage, existing.CurrentUsage, repository.ErrConflict)
	}
	existing.Description = code.Description
	existing.MaxUsage = code.MaxUsage
	existing.IsActive = code.IsActive
	existing.ExpiresAt = code.ExpiresAt
	existing.UpdatedAt = s.now()
	*code = *existing
	return nil
}

func (s *Store) DeleteCode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.codes, id)
	for i, codeID := range s.codeOrder {
		if codeID == id {
			s.codeOrder = append(s.codeOrder[:i], s.codeOrder[i+1:]...)
			break
		}
	}
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.CodeID != id {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	for _, g := range s.grants {
		if g.CodeID != nil && *g.CodeID == id {
			g.CodeID = nil
		}
	}
	return nil
}

func (s *Store) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codeByValue(domain.NormalizeCode(code)) != nil, nil
}

func (s *Store) RedeemCode(_ context.Context, codeID string, record *domain.RedemptionRecord) (*domain.RedemptionCode, *domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[codeID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	now := s.now()
	switch {
	case !code.IsActive:
		return nil, nil, repository.ErrCodeInactive
	case code.Expired(now):
		return nil, nil, repository.ErrCodeExpired
	case code.Exhausted():
		return nil, nil, repository.ErrExhausted
	}

	code.CurrentUsage++
	code.UpdatedAt = now

	record.ID = uuid.NewString()
	record.CodeID = code.ID
	record.Code = code.Code
	record.UsedAt = now
	s.records = append(s.records, *record)

	g := s.codeGrantByID(code.ID, record.SubjectIdentity)
	if g == nil {
		codeRef := code.ID
		g = &domain.Grant{
			ID:              uuid.NewString(),
			SubjectIdentity: record.SubjectIdentity,
			SourceKind:      domain.SourceCode,
			SourceReference: code.Code,
			CodeID:          &codeRef,
			MaxUsage:        code.MaxUsage,
			EnabledAt:       &now,
			GrantedBy:       "code",
			CreatedAt:       now,
		}
		s.grants[g.ID] = g
		s.grantOrder = append(s.grantOrder, g.ID)
	}
	g.SubjectName = record.SubjectName
	g.IsEnabled = true
	g.UpdatedAt = now

	cp := *code
	v := s.view(g)
	return &cp, &v, nil
}

func (s *Store) ListRedemptions(_ context.Context, codeID *string) ([]domain.RedemptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RedemptionRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if codeID == nil || rec.CodeID == *codeID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) CodeStatistics(_ context.Context, now time.Time) (domain.CodeStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.CodeStatistics
	monthStart := domain.MonthStart(now)
	for _, c := range s.codes {
		stats.TotalCodes++
		if c.IsActive {
			stats.ActiveCodes++
		} else {
			stats.InactiveCodes++
		}
		if c.Expired(now) {
			stats.ExpiredCodes++
		}
		stats.TotalMaxUsage += c.MaxUsage
		stats.TotalCurrentUsage += c.CurrentUsage
		if !c.CreatedAt.Before(monthStart) {
			stats.CreatedThisMonth++
		}
	}
	return stats, nil
}

// Settings

func (s *Store) GetGlobalSwitch(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalSwitch, nil
}

func (s *Store) SetGlobalSwitch(_ context.Context, enabled bool, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalSwitch = enabled
	s.switchActor = actor
	return nil
}

// Audit

func (s *Store) RecordUsageAttempt(_ context.Context, attempt domain.UsageAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// UsageAttempts returns a copy of the recorded audit entries.
func (s *Store) UsageAttempts() []domain.UsageAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageAttempt(nil), s.attempts...)
}

// view projects a stored grant the way the Postgres grant view does. Caller holds mu.
func (s *Store) view(g *domain.Grant) domain.Grant {
	v := *g
	v.Origin = domain.OriginStore
	if v.SourceKind != domain.SourceCode {
		return v
	}
	if v.CodeID == nil {
		v.IsEnabled = false
		v.UsageCount = v.MaxUsage
		return v
	}
	code, ok := s.codes[*v.CodeID]
	if !ok {
		v.IsEnabled = false
		v.UsageCount = v.MaxUsage
		return v
	}
	v.MaxUsage = code.MaxUsage
	v.UsageCount = code.CurrentUsage
	v.IsEnabled = g.IsEnabled && code.IsActive
	v.ExpiresAt = code.ExpiresAt
	return v
}

func (s *Store) orderGrant(orderID int64) *domain.Grant {
	for _, id := range s.grantOrder {
		g := s.grants[id]
		if g.SourceKind == domain.SourceOrder && g.OrderID != nil && *g.OrderID == orderID {
			return g
		}
	}
	return nil
}

func (s *Store) codeGrant(code, identity string) *domain.Grant {
	for _, id := range s.grantOrder {
		g := s.grants[id]
		if g.SourceKind == domain.SourceCode && g.SourceReference == code && g.SubjectIdentity == identity {
			return g
		}
	}
	return nil
}

func (s *Store) codeGrantByID(codeID, identity string) *domain.Grant {
	for _, id := range s.grantOrder {
		g := s.grants[id]
		if g.SourceKind == domain.SourceCode && g.CodeID != nil && *g.CodeID == codeID && g.SubjectIdentity == identity {
			return g
		}
	}
	return nil
}

func (s *Store) codeByValue(code string) *domain.RedemptionCode {
	for _, c := range s.codes {
		if c.Code == code {
			return c
		}
	}
	return nil
}
