package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

// HandleGetPlans returns the purchasable catalog. Public, no auth.
func HandleGetPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": plans.List()})
}
