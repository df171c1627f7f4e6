package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)

	token, session, err := tm.GenerateToken("admin", domain.AdminRoleOperator)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, session.ExpiresAt.Sub(session.IssuedAt))

	parsed, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", parsed.Actor)
	assert.Equal(t, domain.AdminRoleOperator, parsed.Role)

	_, err = NewTokenManager("other", time.Hour).ParseToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	tm.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := tm.GenerateToken("admin", domain.AdminRoleOperator)
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.ParseToken(token)
	assert.Error(t, err)
}

func TestComparePassword(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, ComparePassword(hash, "hunter2"))
	assert.ErrorIs(t, ComparePassword(hash, "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, ComparePassword("", "hunter2"), ErrInvalidCredentials)
}

func TestAdminMiddlewareAndRoles(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	mw := NewAdminMiddleware(tm)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		domainErr := apperrors.ToDomainError(err)
		return c.Status(domainErr.HTTPStatus).SendString(domainErr.Message)
	}})
	app.Get("/admin/stats", mw.Handle, func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	app.Post("/admin/switch", mw.Handle, RequireOperator(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	viewer, _, err := tm.GenerateToken("viewer", domain.AdminRoleViewer)
	require.NoError(t, err)
	operator, _, err := tm.GenerateToken("operator", domain.AdminRoleOperator)
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"missing header", http.MethodGet, "/admin/stats", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/admin/stats", "nope", http.StatusUnauthorized},
		{"viewer can read", http.MethodGet, "/admin/stats", viewer, http.StatusOK},
		{"viewer cannot write", http.MethodPost, "/admin/switch", viewer, http.StatusForbidden},
		{"operator can write", http.MethodPost, "/admin/switch", operator, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
