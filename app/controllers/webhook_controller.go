package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/internal/pkg/billing"
	metrics "github.com/studyhubng/StudyHub/internal/pkg/metrics/counter"
)

// HandlePaystackWebhook receives gateway deliveries. The raw body is what the
// signature covers, so it is captured before any parsing.
func HandlePaystackWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Paystack-Signature"))

	ctx, cancel := requestContext()
	defer cancel()

	outcome, err := billingService().HandleWebhook(ctx, rawBody, signature)
	switch outcome {
	case billing.OutcomeRejected:
		_ = metrics.Incr(metrics.MetricWebhookRejected)
		if errors.Is(err, billing.ErrSignatureInvalid) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		if errors.Is(err, billing.ErrPayloadInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		// The delivery never reached the inbox, so a 2xx would lose it and a
		// 4xx would stop the gateway from resending. Ask for a retry.
		log.Errorf("[Webhook] inbox write failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
	case billing.OutcomeDuplicate:
		_ = metrics.Incr(metrics.MetricWebhookDuplicate)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	default:
		_ = metrics.Incr(metrics.MetricWebhookAccepted)
		if err != nil {
			// The delivery is stored; the retry worker re-dispatches it.
			// Answering 2xx stops the gateway from resending what we
			// already have.
			log.Warnf("[Webhook] deferred processing: %v", err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}
