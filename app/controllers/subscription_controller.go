package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/internal/pkg/billing"
	metrics "github.com/studyhubng/StudyHub/internal/pkg/metrics/counter"
)

// HandleGetSubscription reports the caller's current term. Users with no
// paid term are on the free plan, which is an answer rather than an error.
func HandleGetSubscription(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	sub, err := billingService().GetActiveSubscription(ctx, userID)
	if err != nil {
		log.Errorf("[Subscription] lookup failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}
	if sub == nil {
		return c.JSON(fiber.Map{"plan": "free", "status": "none"})
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleGetSubscriptionHistory lists the caller's lifecycle changelog, newest
// first.
func HandleGetSubscriptionHistory(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	ctx, cancel := requestContext()
	defer cancel()

	history, err := billingService().GetChangeHistory(ctx, userID, limit)
	if err != nil {
		log.Errorf("[Subscription] history failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load history"})
	}
	return c.JSON(fiber.Map{"history": history})
}

// HandleGetPayments lists the caller's payment ledger, newest first.
func HandleGetPayments(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	ctx, cancel := requestContext()
	defer cancel()

	payments, err := billingService().GetPayments(ctx, userID, limit)
	if err != nil {
		log.Errorf("[Subscription] payments failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payments"})
	}
	return c.JSON(fiber.Map{"payments": payments})
}

type checkoutRequest struct {
	PlanID      string `json:"plan_id"`
	CallbackURL string `json:"callback_url"`
}

// HandleCheckout opens a hosted payment session for a catalog plan.
func HandleCheckout(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	req.PlanID = strings.TrimSpace(req.PlanID)
	if req.PlanID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "plan_id is required"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	result, err := billingService().Checkout(ctx, userID, req.PlanID, req.CallbackURL)
	if err != nil {
		if errors.Is(err, billing.ErrPlanNotFound) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_not_found", "message": "Unknown or non-purchasable plan"})
		}
		log.Errorf("[Subscription] checkout failed for user %d plan %s: %v", userID, req.PlanID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Could not start checkout"})
	}

	_ = metrics.Incr(metrics.MetricCheckoutOpened)
	return c.JSON(result)
}

// HandleVerifyCheckout settles a checkout reference against the gateway. It
// backstops the webhook: whichever path lands first wins and the other is a
// no-op.
func HandleVerifyCheckout(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}
	reference := strings.TrimSpace(c.Query("reference"))
	if reference == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "reference is required"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	sub, settled, err := billingService().VerifyCheckout(ctx, reference)
	if err != nil {
		log.Errorf("[Subscription] verify failed for user %d ref %s: %v", userID, reference, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Could not verify payment"})
	}
	if !settled {
		return c.JSON(fiber.Map{"settled": false})
	}
	return c.JSON(fiber.Map{"settled": true, "subscription": sub})
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// HandleCancelSubscription cancels the caller's term, either at the period
// boundary (default) or immediately.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}

	req := cancelRequest{AtPeriodEnd: true}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
		}
	}

	ctx, cancel := requestContext()
	defer cancel()

	sub, err := billingService().Cancel(ctx, userID, req.AtPeriodEnd)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_active_subscription", "message": "Nothing to cancel"})
		}
		log.Errorf("[Subscription] cancel failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to cancel subscription"})
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleReactivateSubscription clears a pending cancel-at-period-end before
// the term lapses.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return respondUnauthorized(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	sub, err := billingService().Reactivate(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrNothingToReactivate) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "nothing_to_reactivate", "message": "No pending cancellation on this subscription"})
		}
		log.Errorf("[Subscription] reactivate failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to reactivate subscription"})
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
