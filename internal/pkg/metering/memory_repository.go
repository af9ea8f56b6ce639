package metering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/studyhubng/StudyHub/app/models"
)

// MemoryRepository mirrors the SQL repository's semantics behind a mutex for
// tests: same lazy row creation, same single-decision conditional increment.
type MemoryRepository struct {
	mu       sync.Mutex
	counters map[string]*models.UsageCounter
	nextID   uint

	// FailN makes the next N calls return FailErr, for fail-closed tests.
	FailN   int
	FailErr error
}

// NewMemoryRepository creates an empty in-memory counter store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{counters: make(map[string]*models.UsageCounter)}
}

func counterKey(userID uint, usageType string, periodStart time.Time) string {
	return fmt.Sprintf("%d|%s|%d", userID, usageType, periodStart.UTC().Unix())
}

func (r *MemoryRepository) takeErr() error {
	if r.FailN > 0 {
		r.FailN--
		return r.FailErr
	}
	return nil
}

func (r *MemoryRepository) GetCounter(_ context.Context, userID uint, usageType string, periodStart time.Time) (*models.UsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return nil, err
	}
	c, ok := r.counters[counterKey(userID, usageType, periodStart)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) ListCounters(_ context.Context, userID uint, since time.Time) ([]models.UsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return nil, err
	}
	var out []models.UsageCounter
	for _, c := range r.counters {
		if c.UserID == userID && c.PeriodEnd.After(since) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) EnsureCounter(_ context.Context, counter *models.UsageCounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return err
	}
	key := counterKey(counter.UserID, counter.UsageType, counter.PeriodStart)
	if _, exists := r.counters[key]; exists {
		return nil
	}
	r.nextID++
	cp := *counter
	cp.ID = r.nextID
	r.counters[key] = &cp
	return nil
}

func (r *MemoryRepository) ConditionalIncrement(_ context.Context, userID uint, usageType string, periodStart time.Time, by int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return false, err
	}
	c, ok := r.counters[counterKey(userID, usageType, periodStart)]
	if !ok {
		return false, nil
	}
	if c.UsageLimit >= 0 && c.Count+by > c.UsageLimit {
		return false, nil
	}
	c.Count += by
	return true, nil
}
