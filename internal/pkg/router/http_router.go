package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/studyhubng/StudyHub/app/controllers"
	"github.com/studyhubng/StudyHub/internal/pkg/constants"
)

type HttpRouter struct {
}

// InstallRouter registers the unauthenticated surface: the gateway webhook
// (signature-verified in the controller, never rate limited) and the health
// probe.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealth)

	// Billing provider webhooks (signature-verified in controller)
	app.Post(constants.WebhooksRoute+"/paystack", controllers.HandlePaystackWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
