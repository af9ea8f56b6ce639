package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/studyhubng/StudyHub/app/models"
	"github.com/studyhubng/StudyHub/app/repository"
	"github.com/studyhubng/StudyHub/internal/pkg/jobqueue"
	"github.com/studyhubng/StudyHub/internal/pkg/statistics"
)

// HandleAdminListUsers pages through accounts.
func HandleAdminListUsers(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := c.QueryInt("per_page", 25)
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	users, err := repo.List((page-1)*perPage, perPage)
	if err != nil {
		log.Errorf("[Admin] user list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to list users"})
	}
	total, err := repo.Count()
	if err != nil {
		log.Errorf("[Admin] user count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to list users"})
	}
	return c.JSON(fiber.Map{"users": users, "total": total, "page": page, "per_page": perPage})
}

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// HandleAdminCreateUser registers an account row for a StudyHub user so an
// API key can be issued against it.
func HandleAdminCreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if req.Role == "" {
		req.Role = models.ROLE_USER
	}

	user := &models.User{
		Name:   strings.TrimSpace(req.Name),
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
		Role:   req.Role,
		Status: models.STATUS_ACTIVE,
	}
	if err := user.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if existing, err := repo.GetByEmail(user.Email); err == nil && existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken", "message": "A user with this email already exists"})
	}
	if err := repo.Create(user); err != nil {
		log.Errorf("[Admin] user create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create user"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

// HandleAdminIssueAPIKey mints a fresh API key for a user. The raw secret is
// returned exactly once; only its hash is stored.
func HandleAdminIssueAPIKey(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		log.Errorf("[Admin] user lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Errorf("[Admin] key generation failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to issue API key"})
	}
	if err := repo.Update(user); err != nil {
		log.Errorf("[Admin] key persist failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to issue API key"})
	}
	return c.JSON(fiber.Map{"api_key": rawKey, "prefix": user.APIKeyPrefix})
}

// HandleAdminRevokeAPIKey invalidates a user's API key.
func HandleAdminRevokeAPIKey(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		log.Errorf("[Admin] user lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	user.RevokeAPIKey()
	if err := repo.Update(user); err != nil {
		log.Errorf("[Admin] key revoke failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to revoke API key"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleAdminStats reports platform aggregates for the dashboard.
func HandleAdminStats(c *fiber.Ctx) error {
	return c.JSON(statistics.GetStatisticsData())
}

// HandleAdminRunSweep triggers an expiry sweep immediately instead of waiting
// for the scheduled job.
func HandleAdminRunSweep(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	expired, err := jobqueue.GetManager().RunSweepOnce(ctx)
	if err != nil {
		log.Errorf("[Admin] manual sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Sweep failed"})
	}
	return c.JSON(fiber.Map{"expired": expired})
}

// HandleAdminJobStats reports queue depth per job status.
func HandleAdminJobStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	stats, err := jobqueue.GetManager().GetQueue().GetJobStats(ctx)
	if err != nil {
		log.Errorf("[Admin] job stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load job stats"})
	}
	return c.JSON(fiber.Map{"jobs": stats})
}
