// Package cache holds the per-device Local Cache tier that keeps entitlements usable
// while the Entitlement Store cannot be reached.
package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
)

// Cache is one device's local grant tier.
type Cache interface {
	repository.GrantRepository
	IsAvailable() bool
}

// Provider hands out the cache owned by a device. Caches are never shared across devices.
type Provider interface {
	ForDevice(deviceID string) Cache
}

// record is the serialized form of a cached grant.
type record struct {
	ID              string            `json:"id"`
	SubjectIdentity string            `json:"subject_identity"`
	SubjectName     string            `json:"subject_name"`
	SourceKind      domain.SourceKind `json:"source_kind"`
	SourceReference string            `json:"source_reference"`
	OrderID         *int64            `json:"order_id,omitempty"`
	CodeID          *string           `json:"code_id,omitempty"`
	MaxUsage        int               `json:"max_usage"`
	UsageCount      int               `json:"usage_count"`
	IsEnabled       bool              `json:"is_enabled"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	EnabledAt       *time.Time        `json:"enabled_at,omitempty"`
	DisabledAt      *time.Time        `json:"disabled_at,omitempty"`
	GrantedBy       string            `json:"granted_by"`
	Notes           string            `json:"notes"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toRecord(g domain.Grant) record {
	return record{
		ID:              g.ID,
		SubjectIdentity: g.SubjectIdentity,
		SubjectName:     g.SubjectName,
		SourceKind:      g.SourceKind,
		SourceReference: g.SourceReference,
		OrderID:         g.OrderID,
		CodeID:          g.CodeID,
		MaxUsage:        g.MaxUsage,
		UsageCount:      g.UsageCount,
		IsEnabled:       g.IsEnabled,
		ExpiresAt:       g.ExpiresAt,
		EnabledAt:       g.EnabledAt,
		DisabledAt:      g.DisabledAt,
		GrantedBy:       g.GrantedBy,
		Notes:           g.Notes,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func (r record) grant() domain.Grant {
	return domain.Grant{
		ID:              r.ID,
		SubjectIdentity: r.SubjectIdentity,
		SubjectName:     r.SubjectName,
		SourceKind:      r.SourceKind,
		SourceReference: r.SourceReference,
		OrderID:         r.OrderID,
		CodeID:          r.CodeID,
		MaxUsage:        r.MaxUsage,
		UsageCount:      r.UsageCount,
		IsEnabled:       r.IsEnabled,
		ExpiresAt:       r.ExpiresAt,
		EnabledAt:       r.EnabledAt,
		DisabledAt:      r.DisabledAt,
		GrantedBy:       r.GrantedBy,
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Origin:          domain.OriginCache,
	}
}

// merge computes the record stored for an upsert. A grant that arrives with an id is a
// mirror of confirmed store values and replaces the record; a grant without one is a
// local re-grant that keeps consumed usage.
func merge(existing *record, incoming domain.Grant, now time.Time) record {
	next := toRecord(incoming)
	if next.SourceKind == domain.SourceCode {
		next.SourceReference = domain.NormalizeCode(next.SourceReference)
	}
	next.UpdatedAt = now
	if existing == nil {
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		return next
	}

	if incoming.ID == "" {
		next.ID = existing.ID
		next.UsageCount = existing.UsageCount
		next.MaxUsage = max(next.MaxUsage, existing.UsageCount)
		if next.EnabledAt == nil {
			next.EnabledAt = existing.EnabledAt
		}
	}
	next.CreatedAt = existing.CreatedAt
	if !incoming.CreatedAt.IsZero() {
		next.CreatedAt = incoming.CreatedAt
	}
	return next
}

// consume applies one unit of usage to r.
func consume(r *record, now time.Time) error {
	g := r.grant()
	if !g.Contributes(now) {
		return repository.ErrGrantDisabled
	}
	if g.Exhausted() {
		return repository.ErrExhausted
	}
	r.UsageCount++
	r.UpdatedAt = now
	return nil
}

func orderKey(number string) string {
	return strings.ToLower(strings.TrimSpace(number))
}

func codeKey(code, identity string) string {
	return domain.NormalizeCode(code) + ":" + identity
}

func sortByCreated(grants []domain.Grant) {
	sort.SliceStable(grants, func(i, j int) bool {
		return grants[i].CreatedAt.Before(grants[j].CreatedAt)
	})
}
