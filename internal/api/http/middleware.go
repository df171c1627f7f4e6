package http

import (
	"context"
	"crypto/subtle"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/observability"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

const (
	// HeaderWebhookSecret authenticates the checkout collaborator.
	HeaderWebhookSecret = "X-Webhook-Secret"
	// HeaderRequestID correlates a response with its log lines.
	HeaderRequestID = "X-Request-ID"

	requestIDKey = "request_id"
	retryAfter   = 60
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestIDMiddleware())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(requestIDKey, id)
		c.Set(HeaderRequestID, id)
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("request_id", requestID(c)),
					zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				renderError(c, logger, metrics, apperrors.ToDomainError(err))
				err = nil
			}
		}()
		return c.Next()
	}
}

func renderError(c *fiber.Ctx, logger *zap.Logger, metrics *observability.Metrics, domainErr *apperrors.DomainError) {
	route := c.Path()
	if r := c.Route(); r != nil && r.Path != "" {
		route = r.Path
	}
	metrics.RecordError(route, c.Method(), domainErr.Code)

	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}

	switch {
	case domainErr.HTTPStatus >= 500:
		logger.Error("request failed",
			zap.String("request_id", requestID(c)),
			zap.String("code", domainErr.Code),
			zap.Error(domainErr))
	case domainErr.Code == apperrors.CodeTooManyRequests:
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	}

	c.Status(domainErr.HTTPStatus)
	_ = c.JSON(fiber.Map{"error": body})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}

// requireWebhookSecret guards the checkout routes. Without a configured secret they
// refuse every request.
func requireWebhookSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return apperrors.NewForbidden("checkout webhook not configured")
		}
		provided := c.Get(HeaderWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return apperrors.NewUnauthorized("invalid webhook secret")
		}
		return c.Next()
	}
}
