package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/auth"
	"github.com/spec-kit/growth-entitlements/internal/service"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// AdminHandler serves admin login and the global switch.
type AdminHandler struct {
	auth    *service.AuthService
	control *service.ControlService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(authService *service.AuthService, control *service.ControlService) *AdminHandler {
	return &AdminHandler{auth: authService, control: control}
}

// Login POST /admin/login.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req dto.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Password == "" {
		return apperrors.NewValidationError("password required", nil)
	}
	token, session, err := h.auth.Login(c.UserContext(), req.Actor, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AdminLoginResponse{
		Token:     token,
		Actor:     session.Actor,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
	}})
}

// GetSwitch GET /admin/settings/growth-system.
func (h *AdminHandler) GetSwitch(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": dto.GlobalSwitchResponse{Enabled: h.control.GlobalSwitch(c.UserContext())}})
}

// SetSwitch PUT /admin/settings/growth-system.
func (h *AdminHandler) SetSwitch(c *fiber.Ctx) error {
	var req dto.GlobalSwitchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Enabled == nil {
		return apperrors.NewValidationError("enabled required", nil)
	}
	if err := h.control.SetGlobalSwitch(c.UserContext(), *req.Enabled, actorFrom(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.GlobalSwitchResponse{Enabled: *req.Enabled}})
}

func actorFrom(c *fiber.Ctx) string {
	if session, ok := auth.SessionFromContext(c); ok && session.Actor != "" {
		return session.Actor
	}
	return "admin"
}
