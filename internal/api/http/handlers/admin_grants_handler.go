package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	"github.com/spec-kit/growth-entitlements/internal/service"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// AdminGrantsHandler lets operators inspect and toggle grants.
type AdminGrantsHandler struct {
	grants *service.GrantService
}

// NewAdminGrantsHandler constructs handler.
func NewAdminGrantsHandler(grants *service.GrantService) *AdminGrantsHandler {
	return &AdminGrantsHandler{grants: grants}
}

// List GET /admin/grants.
func (h *AdminGrantsHandler) List(c *fiber.Ctx) error {
	filter, err := parseGrantQuery(c)
	if err != nil {
		return err
	}
	grants, err := h.grants.ListGrants(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": grantResponses(grants)})
}

// Stats GET /admin/grants/stats.
func (h *AdminGrantsHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.grants.Statistics(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.GrantStatisticsResponse{
		TotalOrders:      stats.TotalOrders,
		EnabledOrders:    stats.EnabledOrders,
		DisabledOrders:   stats.DisabledOrders,
		TotalUsage:       stats.TotalUsage,
		RemainingUsage:   stats.RemainingUsage,
		EnabledThisMonth: stats.EnabledThisMonth,
	}})
}

// Enable POST /admin/grants/:id/enable.
func (h *AdminGrantsHandler) Enable(c *fiber.Ctx) error {
	return h.toggle(c, true)
}

// Disable POST /admin/grants/:id/disable.
func (h *AdminGrantsHandler) Disable(c *fiber.Ctx) error {
	return h.toggle(c, false)
}

func (h *AdminGrantsHandler) toggle(c *fiber.Ctx, enabled bool) error {
	var req dto.GrantToggleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	var (
		grant *domain.Grant
		err   error
	)
	if enabled {
		grant, err = h.grants.EnableGrant(c.UserContext(), c.Params("id"), actorFrom(c), req.Note)
	} else {
		grant, err = h.grants.DisableGrant(c.UserContext(), c.Params("id"), actorFrom(c), req.Note)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": grantResponse(grant)})
}

func parseGrantQuery(c *fiber.Ctx) (repository.GrantFilter, error) {
	var filter repository.GrantFilter
	if raw := strings.TrimSpace(c.Query("source_kind")); raw != "" {
		kind := domain.SourceKind(strings.ToLower(raw))
		if kind != domain.SourceOrder && kind != domain.SourceCode {
			return filter, apperrors.NewValidationError("invalid source_kind", map[string]any{"source_kind": raw})
		}
		filter.SourceKind = &kind
	}
	if raw := strings.TrimSpace(c.Query("identity")); raw != "" {
		identity := domain.ParseIdentity(raw).Value
		filter.SubjectIdentity = &identity
	}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.NewValidationError("invalid enabled flag", map[string]any{"enabled": raw})
		}
		filter.Enabled = &enabled
	}
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize
	return filter, nil
}
