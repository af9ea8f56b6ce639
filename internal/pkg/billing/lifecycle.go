package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/studyhubng/StudyHub/app/models"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

// Lifecycle transitions. Each one recomputes its target state from the event
// and the current row, so a replayed or out-of-order event whose target equals
// the current state falls through as a silent no-op.

func (s *Service) applyChargeSuccess(ctx context.Context, cs *ChargeSuccess) error {
	now := s.now()

	var userID uint
	var planID string
	tx, err := s.repo.GetTransactionByReference(ctx, cs.Reference)
	if err != nil {
		return err
	}
	if tx != nil {
		userID = tx.UserID
		planID = tx.PlanID
	}
	if userID == 0 {
		userID = cs.Metadata.UserID
	}
	if planID == "" {
		planID = cs.Metadata.PlanID
	}

	var sub *models.Subscription
	if userID == 0 {
		// Recurring charge without checkout metadata: match through the
		// gateway's subscription or customer codes.
		sub, err = s.matchSubscription(ctx, cs.SubscriptionCode, cs.CustomerCode)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("%w: reference %s", ErrUnmatchedCharge, cs.Reference)
		}
		userID = sub.UserID
		if planID == "" {
			planID = sub.PlanID
		}
		if !sub.HoldsAccess(now) {
			// The matched term already lapsed; open a fresh one below.
			sub = nil
		}
	} else {
		sub, err = s.repo.GetLatestAccessSubscription(ctx, userID, now)
		if err != nil {
			return err
		}
	}

	// Replay guard: this exact payment has already been applied.
	if sub != nil && cs.Reference != "" && sub.LastPaymentRef == cs.Reference {
		return s.finalizeLedger(ctx, cs, userID, planID, sub.ID)
	}

	paidAt := cs.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	switch {
	case sub == nil:
		sub, err = s.openTerm(ctx, userID, planID, cs, paidAt)
		if err != nil {
			return err
		}
	case planID != "" && planID != sub.PlanID:
		// Plan switch: the old term is superseded by a fresh one.
		old := sub
		old.Status = models.SubscriptionStatusExpired
		if err := s.repo.SaveSubscription(ctx, old); err != nil {
			return err
		}
		s.logChange(ctx, userID, old.ID, models.ChangeTypeSuperseded, old.PlanID, planID, "plan change via charge "+cs.Reference)

		sub, err = s.openTerm(ctx, userID, planID, cs, paidAt)
		if err != nil {
			return err
		}
	default:
		// Renewal or recovery on the existing term: the new period opens
		// where the previous one ended.
		changeType := models.ChangeTypeRenewed
		if sub.Status == models.SubscriptionStatusPastDue {
			changeType = models.ChangeTypeRecovered
		}
		prevEnd := sub.CurrentPeriodEnd
		periodEnd := prevEnd.Add(s.planInterval(sub.PlanID))
		sub.CurrentPeriodStart = prevEnd
		sub.CurrentPeriodEnd = periodEnd
		sub.Status = models.SubscriptionStatusActive
		sub.CancelAtPeriodEnd = false
		sub.GraceDeadline = nil
		sub.NextPaymentDueAt = &periodEnd
		sub.LastPaymentAt = &paidAt
		sub.LastPaymentRef = cs.Reference
		if cs.SubscriptionCode != "" {
			sub.PaystackSubscriptionCode = cs.SubscriptionCode
		}
		if cs.CustomerCode != "" {
			sub.PaystackCustomerCode = cs.CustomerCode
		}
		if err := s.repo.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		s.logChange(ctx, userID, sub.ID, changeType, sub.PlanID, sub.PlanID, "charge "+cs.Reference)
	}

	if err := s.finalizeLedger(ctx, cs, userID, sub.PlanID, sub.ID); err != nil {
		return err
	}
	s.invalidatePlanCache(userID)
	return nil
}

// openTerm creates a new active subscription row for a paid charge.
func (s *Service) openTerm(ctx context.Context, userID uint, planID string, cs *ChargeSuccess, paidAt time.Time) (*models.Subscription, error) {
	if planID == "" {
		return nil, fmt.Errorf("%w: charge %s carries no plan", ErrPlanNotFound, cs.Reference)
	}
	if _, ok := plans.Get(planID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	periodEnd := paidAt.Add(s.planInterval(planID))
	sub := &models.Subscription{
		ID:                       uuid.NewString(),
		UserID:                   userID,
		PlanID:                   planID,
		Status:                   models.SubscriptionStatusActive,
		CurrentPeriodStart:       paidAt,
		CurrentPeriodEnd:         periodEnd,
		PaystackSubscriptionCode: cs.SubscriptionCode,
		PaystackCustomerCode:     cs.CustomerCode,
		NextPaymentDueAt:         &periodEnd,
		LastPaymentAt:            &paidAt,
		LastPaymentRef:           cs.Reference,
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logChange(ctx, userID, sub.ID, models.ChangeTypeCreated, "", planID, "charge "+cs.Reference)
	return sub, nil
}

// finalizeLedger settles the pending checkout row, or records a recurring
// charge that never had one. Both paths are idempotent.
func (s *Service) finalizeLedger(ctx context.Context, cs *ChargeSuccess, userID uint, planID, subscriptionID string) error {
	paidAt := cs.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	applied, err := s.repo.FinalizeTransaction(ctx, cs.Reference, models.PaymentStatusSuccess, paidAt, cs.Channel, subscriptionID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	existing, err := s.repo.GetTransactionByReference(ctx, cs.Reference)
	if err != nil {
		return err
	}
	if existing != nil {
		// Already successful; nothing left to settle.
		return nil
	}

	sid := subscriptionID
	tx := &models.PaymentTransaction{
		UserID:         userID,
		SubscriptionID: &sid,
		Reference:      cs.Reference,
		AmountKobo:     cs.AmountKobo,
		Status:         models.PaymentStatusSuccess,
		Channel:        cs.Channel,
		PlanID:         planID,
		PaidAt:         &paidAt,
	}
	return s.repo.CreateTransaction(ctx, tx)
}

func (s *Service) applyPaymentFailed(ctx context.Context, pf *PaymentFailed) error {
	sub, err := s.matchSubscription(ctx, pf.SubscriptionCode, pf.CustomerCode)
	if err != nil {
		return err
	}
	if sub == nil || sub.Status != models.SubscriptionStatusActive {
		// Unknown term, or one that already moved on: stale event.
		return nil
	}

	grace := sub.CurrentPeriodEnd.AddDate(0, 0, s.graceDays)
	sub.Status = models.SubscriptionStatusPastDue
	sub.GraceDeadline = &grace
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	s.logChange(ctx, sub.UserID, sub.ID, models.ChangeTypePaymentFailed, sub.PlanID, sub.PlanID, "renewal invoice failed")
	s.invalidatePlanCache(sub.UserID)
	s.notifyPaymentFailed(ctx, sub, grace)
	return nil
}

func (s *Service) applyNotRenew(ctx context.Context, t *SubscriptionToggle) error {
	sub, err := s.matchSubscription(ctx, t.SubscriptionCode, t.CustomerCode)
	if err != nil {
		return err
	}
	if sub == nil || !sub.HoldsAccess(s.now()) {
		return nil
	}
	if sub.Status == models.SubscriptionStatusCancelled && sub.CancelAtPeriodEnd {
		// Already scheduled.
		return nil
	}
	return s.scheduleCancel(ctx, sub, "renewal disabled at gateway")
}

func (s *Service) applyDisable(ctx context.Context, t *SubscriptionToggle) error {
	sub, err := s.matchSubscription(ctx, t.SubscriptionCode, t.CustomerCode)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
	default:
		return nil
	}

	sub.Status = models.SubscriptionStatusCancelled
	sub.GraceDeadline = nil
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	s.logChange(ctx, sub.UserID, sub.ID, models.ChangeTypeCancelled, sub.PlanID, sub.PlanID, "disabled at gateway")
	s.invalidatePlanCache(sub.UserID)
	return nil
}

// Cancel ends the user's subscription. With atPeriodEnd the term keeps
// granting access until the paid period runs out; otherwise access ends now.
func (s *Service) Cancel(ctx context.Context, userID uint, atPeriodEnd bool) (*models.Subscription, error) {
	sub, err := s.repo.GetLatestAccessSubscription(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}

	if atPeriodEnd {
		if sub.Status == models.SubscriptionStatusCancelled && sub.CancelAtPeriodEnd {
			return sub, nil
		}
		if err := s.scheduleCancel(ctx, sub, "cancelled by user, effective at period end"); err != nil {
			return nil, err
		}
		return sub, nil
	}

	if sub.Status == models.SubscriptionStatusCancelled && !sub.CancelAtPeriodEnd {
		return sub, nil
	}
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelAtPeriodEnd = false
	sub.GraceDeadline = nil
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logChange(ctx, userID, sub.ID, models.ChangeTypeCancelled, sub.PlanID, sub.PlanID, "cancelled by user, effective immediately")
	s.invalidatePlanCache(userID)
	return sub, nil
}

func (s *Service) scheduleCancel(ctx context.Context, sub *models.Subscription, reason string) error {
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelAtPeriodEnd = true
	sub.GraceDeadline = nil
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	s.logChange(ctx, sub.UserID, sub.ID, models.ChangeTypeCancelScheduled, sub.PlanID, sub.PlanID, reason)
	s.invalidatePlanCache(sub.UserID)
	return nil
}

// Reactivate undoes a pending cancel-at-period-end before the period runs out.
func (s *Service) Reactivate(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetLatestAccessSubscription(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}
	if sub.Status != models.SubscriptionStatusCancelled || !sub.CancelAtPeriodEnd {
		return nil, ErrNothingToReactivate
	}

	sub.Status = models.SubscriptionStatusActive
	sub.CancelAtPeriodEnd = false
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logChange(ctx, userID, sub.ID, models.ChangeTypeReactivated, sub.PlanID, sub.PlanID, "cancellation withdrawn by user")
	s.invalidatePlanCache(userID)
	return sub, nil
}

// SweepExpirations moves lapsed terms to expired. Candidates are read first,
// then each row is closed with a conditional update keyed on the state being
// replaced, so overlapping sweeps on different nodes apply each transition
// once.
func (s *Service) SweepExpirations(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.ListExpiryCandidates(ctx, now, 500)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range candidates {
		var applied bool
		var reason string
		switch sub.Status {
		case models.SubscriptionStatusPastDue:
			applied, err = s.repo.ExpireIfPastDue(ctx, sub.ID, now)
			reason = "grace period elapsed"
		case models.SubscriptionStatusCancelled:
			applied, err = s.repo.ExpireIfCancelled(ctx, sub.ID, now)
			reason = "cancelled period ended"
		default:
			continue
		}
		if err != nil {
			log.Error(fmt.Sprintf("[Sweep] expiry update failed for subscription %s: %v", sub.ID, err))
			continue
		}
		if !applied {
			// Someone else already moved the row.
			continue
		}
		s.logChange(ctx, sub.UserID, sub.ID, models.ChangeTypeExpired, sub.PlanID, "", reason)
		s.invalidatePlanCache(sub.UserID)
		s.notifyExpired(ctx, &sub)
		expired++
	}
	if expired > 0 {
		log.Info(fmt.Sprintf("[Sweep] expired %d subscriptions", expired))
	}
	return expired, nil
}

// matchSubscription resolves a gateway event to a local row via the
// subscription code, falling back to the customer code.
func (s *Service) matchSubscription(ctx context.Context, subscriptionCode, customerCode string) (*models.Subscription, error) {
	if subscriptionCode != "" {
		sub, err := s.repo.GetSubscriptionByCode(ctx, subscriptionCode)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if customerCode != "" {
		return s.repo.GetLatestSubscriptionByCustomer(ctx, customerCode)
	}
	return nil, nil
}

// planInterval is the billing period length for a plan. Plans that left the
// catalog keep renewing on the default 30 days.
func (s *Service) planInterval(planID string) time.Duration {
	if plan, ok := plans.Get(planID); ok && plan.BillingIntervalDays > 0 {
		return time.Duration(plan.BillingIntervalDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
