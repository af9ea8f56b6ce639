package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router is one installable slice of the route table.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App) {
	// HttpRouter goes first so the webhook and health endpoints are
	// registered before the rate-limited API group.
	setup(app, NewHttpRouter(), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
