package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/service"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// AdminCodesHandler manages redemption codes.
type AdminCodesHandler struct {
	codes *service.CodeService
}

// NewAdminCodesHandler constructs handler.
func NewAdminCodesHandler(codes *service.CodeService) *AdminCodesHandler {
	return &AdminCodesHandler{codes: codes}
}

// List GET /admin/codes.
func (h *AdminCodesHandler) List(c *fiber.Ctx) error {
	codes, err := h.codes.List(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.CodeResponse, 0, len(codes))
	for i := range codes {
		items = append(items, codeResponse(&codes[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Create POST /admin/codes.
func (h *AdminCodesHandler) Create(c *fiber.Ctx) error {
	var req dto.CodeCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	code, err := h.codes.Create(c.UserContext(), service.CodeCreateInput{
		Code:        req.Code,
		Description: req.Description,
		MaxUsage:    req.MaxUsage,
		IsActive:    req.IsActive,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   actorFrom(c),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": codeResponse(code)})
}

// Generate POST /admin/codes/generate.
func (h *AdminCodesHandler) Generate(c *fiber.Ctx) error {
	code, err := h.codes.GenerateUniqueCode(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.GeneratedCodeResponse{Code: code}})
}

// Stats GET /admin/codes/stats.
func (h *AdminCodesHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.codes.Statistics(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.CodeStatisticsResponse{
		TotalCodes:       stats.TotalCodes,
		ActiveCodes:      stats.ActiveCodes,
		InactiveCodes:    stats.InactiveCodes,
		ExpiredCodes:     stats.ExpiredCodes,
		TotalMaxUsage:    stats.TotalMaxUsage,
		TotalUsage:       stats.TotalCurrentUsage,
		CreatedThisMonth: stats.CreatedThisMonth,
	}})
}

// Redemptions GET /admin/codes/redemptions?code_id=.
func (h *AdminCodesHandler) Redemptions(c *fiber.Ctx) error {
	records, err := h.codes.UsageHistory(c.UserContext(), optionalString(c.Query("code_id")))
	if err != nil {
		return err
	}
	items := make([]dto.RedemptionRecordResponse, 0, len(records))
	for i := range records {
		items = append(items, redemptionResponse(&records[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Update PATCH /admin/codes/:id.
func (h *AdminCodesHandler) Update(c *fiber.Ctx) error {
	var req dto.CodeUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	code, err := h.codes.Update(c.UserContext(), c.Params("id"), service.CodeUpdateInput{
		Description: req.Description,
		MaxUsage:    req.MaxUsage,
		IsActive:    req.IsActive,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": codeResponse(code)})
}

// Delete DELETE /admin/codes/:id.
func (h *AdminCodesHandler) Delete(c *fiber.Ctx) error {
	if err := h.codes.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
