package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/internal/pkg/constants"
	"github.com/studyhubng/StudyHub/internal/pkg/metering"
	metrics "github.com/studyhubng/StudyHub/internal/pkg/metrics/counter"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
	"github.com/studyhubng/StudyHub/internal/pkg/usercontext"
)

// RequireQuota meters one unit of the given usage type for the authenticated
// caller before the handler runs. Exhausted quotas answer 429 with the
// caller's current window state.
func RequireQuota(engine *metering.Engine, usageType plans.UsageType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "authentication required",
			})
		}

		result, err := engine.Increment(c.UserContext(), userID, usageType, 1)
		if err != nil {
			log.Errorf("[Quota] increment failed for user %d type %s: %v", userID, usageType, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_server_error",
				"message": "Quota check failed",
			})
		}

		if !result.Allowed {
			if merr := metrics.Incr(metrics.MetricUsageDenied); merr != nil {
				log.Debugf("[Quota] telemetry update failed: %v", merr)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(DenialPayload(result))
		}

		if merr := metrics.Incr(metrics.MetricUsageAllowed); merr != nil {
			log.Debugf("[Quota] telemetry update failed: %v", merr)
		}
		c.Locals("USAGE_RESULT", result)
		return c.Next()
	}
}

// DenialPayload is the response body for an exhausted quota.
func DenialPayload(result *metering.IncrementResult) fiber.Map {
	return fiber.Map{
		"error":       "quota_exceeded",
		"usage_type":  result.Type,
		"current":     result.Current,
		"limit":       result.Limit,
		"plan":        result.Plan,
		"resets_at":   result.ResetsAt,
		"upgrade_url": constants.PricingPageURL,
	}
}
