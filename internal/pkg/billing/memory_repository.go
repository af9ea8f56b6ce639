package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/studyhubng/StudyHub/app/models"
)

// MemoryRepository mirrors the SQL repository's semantics for tests, including
// the conditional expiry updates and insert-based webhook dedup.
type MemoryRepository struct {
	mu sync.Mutex

	users         map[uint]*models.User
	subscriptions map[string]*models.Subscription
	transactions  map[string]*models.PaymentTransaction
	webhookEvents map[string]*models.WebhookEvent
	changeLogs    []models.SubscriptionChangeLog

	nextTxID          uint
	nextEventID       uint
	nextLogID         uint
	createdOrder      int
	subscriptionOrder map[string]int
}

// NewMemoryRepository creates an empty in-memory billing store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:             make(map[uint]*models.User),
		subscriptions:     make(map[string]*models.Subscription),
		transactions:      make(map[string]*models.PaymentTransaction),
		webhookEvents:     make(map[string]*models.WebhookEvent),
		subscriptionOrder: make(map[string]int),
	}
}

// AddUser seeds an account row.
func (r *MemoryRepository) AddUser(u *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
}

func (r *MemoryRepository) GetUser(_ context.Context, id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) GetSubscriptionByCode(_ context.Context, code string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Subscription
	for _, s := range r.subscriptions {
		if s.PaystackSubscriptionCode != code {
			continue
		}
		if best == nil || r.subscriptionOrder[s.ID] > r.subscriptionOrder[best.ID] {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryRepository) GetLatestAccessSubscription(_ context.Context, userID uint, now time.Time) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Subscription
	for _, s := range r.subscriptions {
		if s.UserID != userID || !s.HoldsAccess(now) {
			continue
		}
		if best == nil || r.subscriptionOrder[s.ID] > r.subscriptionOrder[best.ID] {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryRepository) GetLatestSubscriptionByCustomer(_ context.Context, customerCode string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Subscription
	for _, s := range r.subscriptions {
		if s.PaystackCustomerCode != customerCode {
			continue
		}
		if best == nil || r.subscriptionOrder[s.ID] > r.subscriptionOrder[best.ID] {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryRepository) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.createdOrder++
	r.subscriptionOrder[sub.ID] = r.createdOrder
	r.subscriptions[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subscriptions[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) CreateTransaction(_ context.Context, tx *models.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transactions[tx.Reference]; exists {
		return gorm.ErrDuplicatedKey
	}
	r.nextTxID++
	cp := *tx
	cp.ID = r.nextTxID
	cp.CreatedAt = time.Now()
	r.transactions[tx.Reference] = &cp
	tx.ID = cp.ID
	return nil
}

func (r *MemoryRepository) GetTransactionByReference(_ context.Context, reference string) (*models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[reference]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) FinalizeTransaction(_ context.Context, reference, status string, paidAt time.Time, channel, subscriptionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[reference]
	if !ok || t.Status == models.PaymentStatusSuccess {
		return false, nil
	}
	t.Status = status
	if !paidAt.IsZero() {
		pa := paidAt
		t.PaidAt = &pa
	}
	if channel != "" {
		t.Channel = channel
	}
	if subscriptionID != "" {
		sid := subscriptionID
		t.SubscriptionID = &sid
	}
	return true, nil
}

func (r *MemoryRepository) ListTransactionsByUser(_ context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentTransaction
	for _, t := range r.transactions {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func webhookKey(provider, eventID string) string {
	return provider + "|" + eventID
}

func (r *MemoryRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(event.Provider, event.ProviderEventID)
	if existing, ok := r.webhookEvents[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextEventID++
	cp := *event
	cp.ID = r.nextEventID
	cp.CreatedAt = time.Now()
	r.webhookEvents[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *MemoryRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.webhookEvents {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *MemoryRepository) RecordWebhookFailure(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.webhookEvents {
		if e.ID == id {
			e.ProcessingError = processingError
			e.Attempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *MemoryRepository) ListUnprocessedWebhookEvents(_ context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookEvent
	for _, e := range r.webhookEvents {
		if e.ProcessedAt == nil && e.SignatureValid && e.CreatedAt.Before(olderThan) && e.Attempts < maxAttempts {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) CreateChangeLog(_ context.Context, entry *models.SubscriptionChangeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextLogID++
	cp := *entry
	cp.ID = r.nextLogID
	cp.CreatedAt = time.Now()
	r.changeLogs = append(r.changeLogs, cp)
	return nil
}

func (r *MemoryRepository) ListChangeLogsByUser(_ context.Context, userID uint, limit int) ([]models.SubscriptionChangeLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SubscriptionChangeLog
	for i := len(r.changeLogs) - 1; i >= 0; i-- {
		if r.changeLogs[i].UserID == userID {
			out = append(out, r.changeLogs[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListExpiryCandidates(_ context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subscriptions {
		switch {
		case s.Status == models.SubscriptionStatusPastDue && s.GraceDeadline != nil && s.GraceDeadline.Before(now):
			out = append(out, *s)
		case s.Status == models.SubscriptionStatusCancelled && !s.CurrentPeriodEnd.After(now):
			out = append(out, *s)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) ExpireIfPastDue(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[id]
	if !ok || s.Status != models.SubscriptionStatusPastDue || s.GraceDeadline == nil || !s.GraceDeadline.Before(now) {
		return false, nil
	}
	s.Status = models.SubscriptionStatusExpired
	return true, nil
}

func (r *MemoryRepository) ExpireIfCancelled(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[id]
	if !ok || s.Status != models.SubscriptionStatusCancelled || s.CurrentPeriodEnd.After(now) {
		return false, nil
	}
	s.Status = models.SubscriptionStatusExpired
	return true, nil
}

