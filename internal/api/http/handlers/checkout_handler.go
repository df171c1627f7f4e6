package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/service"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// CheckoutHandler receives order grants from the checkout collaborator.
type CheckoutHandler struct {
	grants *service.GrantService
}

// NewCheckoutHandler constructs handler.
func NewCheckoutHandler(grants *service.GrantService) *CheckoutHandler {
	return &CheckoutHandler{grants: grants}
}

// GrantOrder POST /checkout/grants.
func (h *CheckoutHandler) GrantOrder(c *fiber.Ctx) error {
	var req dto.GrantOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	grant, err := h.grants.GrantForOrder(c.UserContext(), c.Get(HeaderDeviceID), service.GrantOrderInput{
		OrderID:         req.OrderID,
		OrderNumber:     req.OrderNumber,
		SubjectIdentity: req.SubjectIdentity,
		SubjectName:     req.SubjectName,
		MaxUsage:        req.MaxUsage,
		GrantedBy:       "checkout",
		Note:            req.Note,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": grantResponse(grant)})
}

// OrderCompleted POST /checkout/orders/completed.
func (h *CheckoutHandler) OrderCompleted(c *fiber.Ctx) error {
	var order domain.CompletedOrder
	if err := c.BodyParser(&order); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	grant, err := h.grants.GrantForCompletedOrder(c.UserContext(), c.Get(HeaderDeviceID), order)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": grantResponse(grant)})
}
