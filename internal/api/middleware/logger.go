// Package middleware provides shared HTTP middleware
package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/affirmly/scribesync/internal/logger"
)

// Logger returns a middleware that logs HTTP requests
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Continue chain
		err := c.Next()

		latency := time.Since(start)
		logger.InfoWithFields("request", map[string]interface{}{
			"status":  c.Response().StatusCode(),
			"latency": latency.String(),
			"ip":      c.IP(),
			"method":  c.Method(),
			"path":    c.Path(),
		})

		return err
	}
}
