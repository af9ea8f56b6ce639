package controllers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/studyhubng/StudyHub/internal/pkg/billing"
	"github.com/studyhubng/StudyHub/internal/pkg/database"
	"github.com/studyhubng/StudyHub/internal/pkg/metering"
	"github.com/studyhubng/StudyHub/internal/pkg/usercontext"
)

var (
	servicesMu sync.RWMutex
	billingSvc *billing.Service
	usageSvc   *metering.Engine
)

// SetupServices wires the shared service layer in at startup. Handlers fall
// back to building a service from the global DB when it is not set, which
// keeps one-off tooling working.
func SetupServices(b *billing.Service, e *metering.Engine) {
	servicesMu.Lock()
	defer servicesMu.Unlock()
	billingSvc = b
	usageSvc = e
}

func billingService() *billing.Service {
	servicesMu.RLock()
	svc := billingSvc
	servicesMu.RUnlock()
	if svc != nil {
		return svc
	}
	return billing.NewServiceFromDB(database.GetDB())
}

func usageEngine() *metering.Engine {
	servicesMu.RLock()
	e := usageSvc
	servicesMu.RUnlock()
	if e != nil {
		return e
	}
	return metering.NewEngine(metering.NewRepository(database.GetDB()), billingService())
}

// requestContext bounds handler work against slow backends.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func currentUserID(c *fiber.Ctx) (uint, bool) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn || userCtx.UserID == 0 {
		return 0, false
	}
	return userCtx.UserID, true
}

// PlanNameFor resolves the caller's effective plan for request-scoped
// decisions. Lookup failures degrade to the free plan rather than failing the
// request.
func PlanNameFor(c *fiber.Ctx, userID uint) string {
	ctx, cancel := requestContext()
	defer cancel()
	name, err := billingService().GetPlanName(ctx, userID)
	if err != nil || name == "" {
		return "free"
	}
	return name
}

func respondUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": "Missing or invalid authentication",
	})
}
