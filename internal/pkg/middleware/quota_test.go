package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhubng/StudyHub/internal/pkg/metering"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
	"github.com/studyhubng/StudyHub/internal/pkg/usercontext"
)

type staticResolver struct {
	plan      string
	hasAccess bool
}

func (r staticResolver) EffectivePlanID(ctx context.Context, userID uint) (string, bool, error) {
	return r.plan, r.hasAccess, nil
}

func quotaTestApp(t *testing.T, userID uint, usageType plans.UsageType) *fiber.App {
	t.Helper()
	engine := metering.NewEngine(metering.NewMemoryRepository(), staticResolver{plan: "basic", hasAccess: true})

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != 0 {
			c.Locals("USER_CONTEXT", usercontext.UserContext{UserID: userID, IsLoggedIn: true})
		}
		return c.Next()
	})
	app.Post("/gated", RequireQuota(engine, usageType), func(c *fiber.Ctx) error {
		result, _ := c.Locals("USAGE_RESULT").(*metering.IncrementResult)
		require.NotNil(t, result, "handler must see the consume result")
		return c.JSON(fiber.Map{"ok": true, "current": result.Current})
	})
	return app
}

func TestRequireQuotaAllowsUntilExhausted(t *testing.T) {
	// exams: one per month on the basic plan
	app := quotaTestApp(t, 42, plans.UsageExams)

	resp, err := app.Test(httptest.NewRequest("POST", "/gated", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/gated", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var denial map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &denial))
	assert.Equal(t, "quota_exceeded", denial["error"])
	assert.Equal(t, float64(1), denial["limit"])
	assert.Equal(t, "basic", denial["plan"])
	assert.Equal(t, "/pricing", denial["upgrade_url"])
	assert.NotEmpty(t, denial["resets_at"])
}

func TestRequireQuotaRejectsAnonymous(t *testing.T) {
	app := quotaTestApp(t, 0, plans.UsageQuizzes)

	resp, err := app.Test(httptest.NewRequest("POST", "/gated", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireQuotaCountsPerUser(t *testing.T) {
	engine := metering.NewEngine(metering.NewMemoryRepository(), staticResolver{plan: "basic", hasAccess: true})

	app := fiber.New()
	app.Post("/gated/:uid", func(c *fiber.Ctx) error {
		uid, err := c.ParamsInt("uid")
		require.NoError(t, err)
		c.Locals("USER_CONTEXT", usercontext.UserContext{UserID: uint(uid), IsLoggedIn: true})
		return c.Next()
	}, RequireQuota(engine, plans.UsageExams), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/gated/1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// User 1 is spent; user 2 still has their own window.
	resp, err = app.Test(httptest.NewRequest("POST", "/gated/1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/gated/2", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
