package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/observability"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
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
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := toDomainError(err)
				metrics.RecordError(routePath(c), c.Method(), domainErr.Code)
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(dto.ErrorEnvelope{Error: dto.ErrorFromDomain(domainErr)})
				err = nil
			}
		}()
		return c.Next()
	}
}

// toDomainError also understands the fiber errors raised by routing and the
// role guards.
func toDomainError(err error) *apperrors.DomainError {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return apperrors.NewDomainError(fiberCode(fe.Code), fe.Message, fe.Code, nil)
	}
	return apperrors.ToDomainError(err)
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperrors.CodeValidation
	case fiber.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperrors.CodeForbidden
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return apperrors.CodeNotFound
	case fiber.StatusConflict:
		return apperrors.CodeConflict
	}
	return apperrors.CodeInternal
}

func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}
