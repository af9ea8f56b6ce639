package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/internal/pkg/constants"
	"github.com/studyhubng/StudyHub/internal/pkg/metering"
	metrics "github.com/studyhubng/StudyHub/internal/pkg/metrics/counter"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

// HandleGetUsageOverview returns the caller's counters for every usage type.
func HandleGetUsageOverview(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	overview, err := usageEngine().Overview(ctx, userID)
	if err != nil {
		log.Errorf("[Usage] overview failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load usage"})
	}
	return c.JSON(fiber.Map{"usage": overview})
}

// HandleGetUsage returns the caller's counter for one usage type without
// consuming anything.
func HandleGetUsage(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}
	usageType := plans.UsageType(c.Params("type"))

	ctx, cancel := requestContext()
	defer cancel()

	status, err := usageEngine().Check(ctx, userID, usageType)
	if err != nil {
		if errors.Is(err, metering.ErrUnknownUsageType) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown usage type"})
		}
		log.Errorf("[Usage] check failed for user %d type %s: %v", userID, usageType, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load usage"})
	}
	return c.JSON(status)
}

type consumeUsageRequest struct {
	Amount int64  `json:"amount"`
	Tool   string `json:"tool"`
}

// HandleConsumeUsage records usage against the caller's quota. The usage type
// comes from the path, or from a tool name in the body when the path segment
// is "tool". Exhausted quotas answer 429 with the window state.
func HandleConsumeUsage(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}

	var req consumeUsageRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
		}
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}

	usageType := plans.UsageType(c.Params("type"))
	if usageType == "tool" {
		resolved, metered := plans.ResolveUsageType(req.Tool)
		if !metered {
			// Unmetered tools never draw from a quota.
			return c.JSON(fiber.Map{"allowed": true, "metered": false, "tool": req.Tool})
		}
		usageType = resolved
	}

	ctx, cancel := requestContext()
	defer cancel()

	result, err := usageEngine().Increment(ctx, userID, usageType, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, metering.ErrUnknownUsageType):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown usage type"})
		case errors.Is(err, metering.ErrInvalidIncrement):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Amount must be positive"})
		}
		log.Errorf("[Usage] consume failed for user %d type %s: %v", userID, usageType, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to record usage"})
	}

	if !result.Allowed {
		_ = metrics.Incr(metrics.MetricUsageDenied)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "quota_exceeded",
			"usage_type":  result.Type,
			"current":     result.Current,
			"limit":       result.Limit,
			"plan":        result.Plan,
			"resets_at":   result.ResetsAt,
			"upgrade_url": constants.PricingPageURL,
		})
	}

	_ = metrics.Incr(metrics.MetricUsageAllowed)
	return c.JSON(result)
}
