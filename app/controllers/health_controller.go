package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/studyhubng/StudyHub/internal/pkg/cache"
	"github.com/studyhubng/StudyHub/internal/pkg/database"
)

// HandleHealth checks the two backing stores. Either one failing marks the
// instance unhealthy so the load balancer can rotate it out.
func HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	checks := fiber.Map{"database": "ok", "redis": "ok"}
	healthy := true

	if db := database.GetDB(); db == nil {
		checks["database"] = "not initialized"
		healthy = false
	} else if sqlDB, err := db.DB(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if err := cache.GetClient().Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"healthy": healthy, "checks": checks})
}
