package metering

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studyhubng/StudyHub/app/models"
)

// Repository provides the counter-store operations the engine relies on. The
// conditional increment must be a single atomic statement: the row is only
// bumped when the result still fits the snapshotted limit, so concurrent
// consumers can never push a counter past its cap.
type Repository interface {
	GetCounter(ctx context.Context, userID uint, usageType string, periodStart time.Time) (*models.UsageCounter, error)
	ListCounters(ctx context.Context, userID uint, since time.Time) ([]models.UsageCounter, error)
	EnsureCounter(ctx context.Context, counter *models.UsageCounter) error
	ConditionalIncrement(ctx context.Context, userID uint, usageType string, periodStart time.Time, by int64) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a counter repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetCounter(ctx context.Context, userID uint, usageType string, periodStart time.Time) (*models.UsageCounter, error) {
	var c models.UsageCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND usage_type = ? AND period_start = ?", userID, usageType, periodStart).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) ListCounters(ctx context.Context, userID uint, since time.Time) ([]models.UsageCounter, error) {
	var out []models.UsageCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period_end > ?", userID, since).
		Find(&out).Error
	return out, err
}

// EnsureCounter inserts the window row if it does not exist yet. Losing the
// insert race is fine; the winner's snapshot stands.
func (r *gormRepository) EnsureCounter(ctx context.Context, counter *models.UsageCounter) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "usage_type"},
			{Name: "period_start"},
		},
		DoNothing: true,
	}).Create(counter).Error
}

func (r *gormRepository) ConditionalIncrement(ctx context.Context, userID uint, usageType string, periodStart time.Time, by int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.UsageCounter{}).
		Where("user_id = ? AND usage_type = ? AND period_start = ?", userID, usageType, periodStart).
		Where("usage_limit < 0 OR count + ? <= usage_limit", by).
		UpdateColumn("count", gorm.Expr("count + ?", by))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
