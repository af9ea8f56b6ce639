package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/studyhubng/StudyHub/app/controllers"
	"github.com/studyhubng/StudyHub/internal/pkg/cache"
	"github.com/studyhubng/StudyHub/internal/pkg/env"
	"github.com/studyhubng/StudyHub/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT_PER_MINUTE", 120),
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))

	v1 := api.Group("/v1")

	// Plan catalog is public so the pricing page can render without a key.
	v1.Get("/plans", controllers.HandleGetPlans)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware(controllers.PlanNameFor), middleware.RequireAuth)

	// Usage metering
	authed.Get("/usage", controllers.HandleGetUsageOverview)
	authed.Get("/usage/:type", controllers.HandleGetUsage)
	authed.Post("/usage/:type/consume", controllers.HandleConsumeUsage)

	// Subscription lifecycle
	authed.Get("/subscription", controllers.HandleGetSubscription)
	authed.Get("/subscription/history", controllers.HandleGetSubscriptionHistory)
	authed.Get("/subscription/payments", controllers.HandleGetPayments)
	authed.Post("/subscription/checkout", controllers.HandleCheckout)
	authed.Get("/subscription/verify", controllers.HandleVerifyCheckout)
	authed.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	authed.Post("/subscription/reactivate", controllers.HandleReactivateSubscription)

	h.registerAdminRoutes(authed)
}

func (h ApiRouter) registerAdminRoutes(authed fiber.Router) {
	admin := authed.Group("/admin", middleware.RequireAdmin)
	admin.Get("/users", controllers.HandleAdminListUsers)
	admin.Post("/users", controllers.HandleAdminCreateUser)
	admin.Post("/users/:id/api-key", controllers.HandleAdminIssueAPIKey)
	admin.Delete("/users/:id/api-key", controllers.HandleAdminRevokeAPIKey)
	admin.Get("/stats", controllers.HandleAdminStats)
	admin.Post("/sweep", controllers.HandleAdminRunSweep)
	admin.Get("/jobs", controllers.HandleAdminJobStats)
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// instances. Counter state lives in database 1, clear of the cache in 0.
func limiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
