package observability

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// RequestLogger logs every request and feeds the request metrics. Paths are
// recorded as route templates to keep label cardinality bounded.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		path := c.Route().Path
		if path == "" || path == "/" {
			path = c.Path()
		}
		metrics.RecordRequest(path, c.Method(), status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Warn("request completed", fields...)
		} else {
			logger.Debug("request completed", fields...)
		}
		return err
	}
}

func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return apperrors.ToDomainError(err).HTTPStatus
}
