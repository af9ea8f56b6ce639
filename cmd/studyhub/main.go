package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/studyhubng/StudyHub/app/controllers"
	"github.com/studyhubng/StudyHub/app/repository"
	"github.com/studyhubng/StudyHub/internal/pkg/billing"
	"github.com/studyhubng/StudyHub/internal/pkg/cache"
	"github.com/studyhubng/StudyHub/internal/pkg/database"
	"github.com/studyhubng/StudyHub/internal/pkg/env"
	"github.com/studyhubng/StudyHub/internal/pkg/jobqueue"
	"github.com/studyhubng/StudyHub/internal/pkg/metering"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
	"github.com/studyhubng/StudyHub/internal/pkg/router"
)

func main() {
	app, manager := newApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Errorf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	manager.Stop()
	if err := app.Shutdown(); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func newApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	if err := plans.Setup(); err != nil {
		log.Fatalf("plan catalog: %v", err)
	}

	db := database.GetDB()
	repository.InitializeFactory(db)

	billingSvc := billing.NewServiceFromDB(db)
	usageEngine := metering.NewEngine(metering.NewRepository(db), billingSvc)
	controllers.SetupServices(billingSvc, usageEngine)

	manager := jobqueue.GetManager()
	manager.SetBillingService(billingSvc)
	manager.Start()

	app := fiber.New(fiber.Config{
		AppName:      "StudyHub Billing",
		ErrorHandler: jsonErrorHandler,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	router.InstallRouter(app)

	return app, manager
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": "request_failed", "message": err.Error()})
}
