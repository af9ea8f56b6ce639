package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/app/models"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

var (
	// ErrUnknownUsageType is returned for usage types outside the catalog.
	ErrUnknownUsageType = errors.New("metering: unknown usage type")
	// ErrInvalidIncrement is returned for non-positive increment amounts.
	ErrInvalidIncrement = errors.New("metering: increment must be positive")
)

// PlanResolver reports which plan currently applies to a user. The second
// return is false when no subscription holds access, which the engine treats
// as a zero quota on every usage type.
type PlanResolver interface {
	EffectivePlanID(ctx context.Context, userID uint) (string, bool, error)
}

// UsageStatus is a read-only view of one usage window.
type UsageStatus struct {
	UsageType   plans.UsageType `json:"usage_type"`
	Allowed     bool            `json:"allowed"`
	Current     int64           `json:"current"`
	Limit       int64           `json:"limit"`
	Remaining   int64           `json:"remaining"`
	Plan        string          `json:"plan"`
	WindowStart time.Time       `json:"window_start"`
	ResetsAt    time.Time       `json:"resets_at"`
}

// IncrementResult reports the outcome of one consume attempt.
type IncrementResult struct {
	Allowed  bool            `json:"allowed"`
	Current  int64           `json:"current"`
	Limit    int64           `json:"limit"`
	Plan     string          `json:"plan"`
	ResetsAt time.Time       `json:"resets_at"`
	Type     plans.UsageType `json:"usage_type"`
}

// Engine enforces per-window quotas. All decisions funnel through the
// repository's conditional increment so concurrent requests across processes
// settle on the row itself.
type Engine struct {
	repo     Repository
	resolver PlanResolver
	now      func() time.Time
}

// NewEngine wires a metering engine over a counter store and a plan resolver.
func NewEngine(repo Repository, resolver PlanResolver) *Engine {
	return &Engine{repo: repo, resolver: resolver, now: time.Now}
}

// Check reports the usage state for one usage type without consuming quota.
func (e *Engine) Check(ctx context.Context, userID uint, t plans.UsageType) (*UsageStatus, error) {
	start, end, ok := WindowForUsage(t, e.now())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUsageType, t)
	}

	counter, err := e.getCounterRetry(ctx, userID, string(t), start)
	if err != nil {
		return nil, err
	}

	// Access is resolved on every call: the row's snapshot covers mid-window
	// plan changes, not loss of access. A swept or cancelled user is a zero
	// quota even when the window row still has budget.
	planID, hasAccess, err := e.resolver.EffectivePlanID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasAccess {
		var current int64
		if counter != nil {
			current = counter.Count
		}
		return &UsageStatus{
			UsageType:   t,
			Allowed:     false,
			Current:     current,
			Limit:       0,
			Remaining:   0,
			Plan:        plans.FreePlanName,
			WindowStart: start,
			ResetsAt:    end,
		}, nil
	}

	if counter != nil {
		return statusFromCounter(t, counter, start, end), nil
	}

	limit := plans.Limit(planID, t)
	return &UsageStatus{
		UsageType:   t,
		Allowed:     limit != 0,
		Current:     0,
		Limit:       limit,
		Remaining:   limit,
		Plan:        displayPlan(planID),
		WindowStart: start,
		ResetsAt:    end,
	}, nil
}

// Overview returns the usage state for every known usage type.
func (e *Engine) Overview(ctx context.Context, userID uint) ([]UsageStatus, error) {
	out := make([]UsageStatus, 0, len(plans.AllUsageTypes()))
	for _, t := range plans.AllUsageTypes() {
		st, err := e.Check(ctx, userID, t)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

// Increment atomically consumes quota. Exactly one of two things happens: the
// counter grows by the requested amount, or the request is denied and the
// counter is untouched. Store errors fail closed.
func (e *Engine) Increment(ctx context.Context, userID uint, t plans.UsageType, by int64) (*IncrementResult, error) {
	if by < 1 {
		return nil, ErrInvalidIncrement
	}
	start, end, ok := WindowForUsage(t, e.now())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUsageType, t)
	}
	usageType := string(t)

	// Same rule as Check: losing access zeroes the quota immediately, even
	// when the window row still has budget left.
	planID, hasAccess, err := e.resolver.EffectivePlanID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasAccess {
		counter, err := e.getCounterRetry(ctx, userID, usageType, start)
		if err != nil {
			return nil, err
		}
		var current int64
		if counter != nil {
			current = counter.Count
		}
		return &IncrementResult{
			Allowed:  false,
			Current:  current,
			Limit:    0,
			Plan:     plans.FreePlanName,
			ResetsAt: end,
			Type:     t,
		}, nil
	}

	applied, err := e.repo.ConditionalIncrement(ctx, userID, usageType, start, by)
	if err != nil {
		// One retry for transient store failures, then fail closed.
		applied, err = e.repo.ConditionalIncrement(ctx, userID, usageType, start, by)
		if err != nil {
			log.Error(fmt.Sprintf("[Metering] conditional increment failed for user %d type %s: %v", userID, t, err))
			return nil, err
		}
	}

	if !applied {
		counter, err := e.getCounterRetry(ctx, userID, usageType, start)
		if err != nil {
			return nil, err
		}
		if counter == nil {
			// First touch of this window: create the row with the limit
			// snapshot. A concurrent request may win the insert race.
			limit := plans.Limit(planID, t)
			fresh := &models.UsageCounter{
				UserID:      userID,
				UsageType:   usageType,
				PeriodStart: start,
				PeriodEnd:   end,
				Count:       0,
				UsageLimit:  limit,
				PlanID:      planID,
			}
			if err := e.repo.EnsureCounter(ctx, fresh); err != nil {
				log.Error(fmt.Sprintf("[Metering] counter create failed for user %d type %s: %v", userID, t, err))
				return nil, err
			}
		}
		// The row exists now, so this run of the conditional update is the
		// real decision.
		applied, err = e.repo.ConditionalIncrement(ctx, userID, usageType, start, by)
		if err != nil {
			return nil, err
		}
	}

	counter, err := e.getCounterRetry(ctx, userID, usageType, start)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, fmt.Errorf("metering: counter vanished for user %d type %s", userID, t)
	}
	if !applied {
		return &IncrementResult{
			Allowed:  false,
			Current:  counter.Count,
			Limit:    counter.UsageLimit,
			Plan:     displayPlan(counter.PlanID),
			ResetsAt: counter.PeriodEnd,
			Type:     t,
		}, nil
	}
	return resultFromCounter(t, counter), nil
}

func (e *Engine) getCounterRetry(ctx context.Context, userID uint, usageType string, start time.Time) (*models.UsageCounter, error) {
	counter, err := e.repo.GetCounter(ctx, userID, usageType, start)
	if err != nil {
		counter, err = e.repo.GetCounter(ctx, userID, usageType, start)
		if err != nil {
			log.Error(fmt.Sprintf("[Metering] counter read failed for user %d type %s: %v", userID, usageType, err))
			return nil, err
		}
	}
	return counter, nil
}

func displayPlan(planID string) string {
	if planID == "" {
		return plans.FreePlanName
	}
	return planID
}

func statusFromCounter(t plans.UsageType, c *models.UsageCounter, start, end time.Time) *UsageStatus {
	remaining := c.Remaining()
	return &UsageStatus{
		UsageType:   t,
		Allowed:     remaining != 0,
		Current:     c.Count,
		Limit:       c.UsageLimit,
		Remaining:   remaining,
		Plan:        displayPlan(c.PlanID),
		WindowStart: start,
		ResetsAt:    end,
	}
}

func resultFromCounter(t plans.UsageType, c *models.UsageCounter) *IncrementResult {
	return &IncrementResult{
		Allowed:  true,
		Current:  c.Count,
		Limit:    c.UsageLimit,
		Plan:     displayPlan(c.PlanID),
		ResetsAt: c.PeriodEnd,
		Type:     t,
	}
}
