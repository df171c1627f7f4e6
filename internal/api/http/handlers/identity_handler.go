package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// IdentityHandler issues guest identities for anonymous visitors.
type IdentityHandler struct {
	now func() time.Time
}

// NewIdentityHandler constructs handler.
func NewIdentityHandler() *IdentityHandler {
	return &IdentityHandler{now: time.Now}
}

// Guest POST /identity/guest.
func (h *IdentityHandler) Guest(c *fiber.Ctx) error {
	identity := domain.GuestIdentity(h.now())
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.GuestIdentityResponse{
		Identity: identity.Value,
		Kind:     string(identity.Kind),
	}})
}
