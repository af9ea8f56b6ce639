package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studyhubng/StudyHub/app/models"
)

// Repository provides DB operations used by the billing service. The expiry
// methods are conditional updates keyed on the state they replace, so
// concurrent sweeps and webhook processors converge instead of double-firing.
type Repository interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)

	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByCode(ctx context.Context, subscriptionCode string) (*models.Subscription, error)
	GetLatestAccessSubscription(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error)
	GetLatestSubscriptionByCustomer(ctx context.Context, customerCode string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error

	CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransactionByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FinalizeTransaction(ctx context.Context, reference, status string, paidAt time.Time, channel, subscriptionID string) (bool, error)
	ListTransactionsByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error)

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	RecordWebhookFailure(ctx context.Context, id uint, processingError string) error
	ListUnprocessedWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error)

	CreateChangeLog(ctx context.Context, entry *models.SubscriptionChangeLog) error
	ListChangeLogsByUser(ctx context.Context, userID uint, limit int) ([]models.SubscriptionChangeLog, error)

	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ExpireIfPastDue(ctx context.Context, id string, now time.Time) (bool, error)
	ExpireIfCancelled(ctx context.Context, id string, now time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetSubscriptionByCode(ctx context.Context, subscriptionCode string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).
		Where("paystack_subscription_code = ?", subscriptionCode).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetLatestAccessSubscription returns the newest subscription row that still
// grants plan access, or nil when the user has none.
func (r *gormRepository) GetLatestAccessSubscription(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status IN ? OR (status = ? AND cancel_at_period_end = ? AND current_period_end > ?)",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue},
			models.SubscriptionStatusCancelled, true, now).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetLatestSubscriptionByCustomer(ctx context.Context, customerCode string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).
		Where("paystack_customer_code = ?", customerCode).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *gormRepository) CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *gormRepository) GetTransactionByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// FinalizeTransaction settles a ledger row exactly once: the update only
// matches while the row is not already successful, so the webhook and the
// verify endpoint cannot double-finalize.
func (r *gormRepository) FinalizeTransaction(ctx context.Context, reference, status string, paidAt time.Time, channel, subscriptionID string) (bool, error) {
	updates := map[string]interface{}{
		"status": status,
	}
	if !paidAt.IsZero() {
		updates["paid_at"] = paidAt
	}
	if channel != "" {
		updates["channel"] = channel
	}
	if subscriptionID != "" {
		updates["subscription_id"] = subscriptionID
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("reference = ? AND status <> ?", reference, models.PaymentStatusSuccess).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) ListTransactionsByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	var out []models.PaymentTransaction
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CreateWebhookEventIfNotExists inserts the inbox row, relying on the unique
// (provider, provider_event_id) index. The boolean reports whether this call
// created the row; false means a duplicate delivery.
func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0

	var existing models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&existing).Error
	if err != nil {
		return created, nil, err
	}
	return created, &existing, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     now,
			"processing_error": processingError,
		}).Error
}

// RecordWebhookFailure stores the dispatch error but leaves the row
// unprocessed so the retry ticker picks it up again.
func (r *gormRepository) RecordWebhookFailure(ctx context.Context, id uint, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_error": processingError,
			"attempts":         gorm.Expr("attempts + 1"),
		}).Error
}

func (r *gormRepository) ListUnprocessedWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	var out []models.WebhookEvent
	q := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND signature_valid = ? AND created_at < ? AND attempts < ?", true, olderThan, maxAttempts).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *gormRepository) CreateChangeLog(ctx context.Context, entry *models.SubscriptionChangeLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) ListChangeLogsByUser(ctx context.Context, userID uint, limit int) ([]models.SubscriptionChangeLog, error) {
	var out []models.SubscriptionChangeLog
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *gormRepository) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	q := r.db.WithContext(ctx).
		Where("(status = ? AND grace_deadline IS NOT NULL AND grace_deadline < ?)"+
			" OR (status = ? AND current_period_end <= ?)",
			models.SubscriptionStatusPastDue, now,
			models.SubscriptionStatusCancelled, now)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *gormRepository) ExpireIfPastDue(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND grace_deadline IS NOT NULL AND grace_deadline < ?",
			id, models.SubscriptionStatusPastDue, now).
		Update("status", models.SubscriptionStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) ExpireIfCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND current_period_end <= ?",
			id, models.SubscriptionStatusCancelled, now).
		Update("status", models.SubscriptionStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

