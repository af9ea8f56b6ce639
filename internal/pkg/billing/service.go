package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyhubng/StudyHub/app/models"
	"github.com/studyhubng/StudyHub/internal/pkg/env"
	"github.com/studyhubng/StudyHub/internal/pkg/mail"
	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

// Outcome classifies one webhook delivery.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

const webhookMaxAttempts = 5

// Service owns the subscription lifecycle, the payment ledger and webhook
// reconciliation.
type Service struct {
	repo      Repository
	gateway   Gateway
	planCache PlanCache
	notifier  Notifier

	webhookSecret string
	graceDays     int
	now           func() time.Time
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, gateway Gateway) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		webhookSecret: env.GetEnv("PAYSTACK_SECRET_KEY", ""),
		graceDays:     env.GetEnvInt("BILLING_GRACE_PERIOD_DAYS", 3),
		now:           time.Now,
	}
}

// NewServiceFromDB creates a billing service with the production wiring:
// GORM repository, Paystack client and the Redis plan-name cache.
func NewServiceFromDB(db *gorm.DB) *Service {
	s := NewService(NewRepository(db), NewPaystackClientFromEnv())
	s.planCache = NewRedisPlanCache()
	if mail.Enabled() {
		s.notifier = NewMailNotifier()
	}
	return s
}

// HandleWebhook is the single entry point for gateway deliveries: verify the
// signature, insert the inbox row (the dedup point), dispatch, then mark
// processed. A dispatch failure keeps the row unprocessed for the retry
// ticker, so a crash between insert and processing heals itself.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (Outcome, error) {
	if !VerifyPaystackSignature(rawBody, signatureHeader, s.webhookSecret) {
		return OutcomeRejected, ErrSignatureInvalid
	}

	ev, err := ParseEvent(rawBody)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}

	created, row, err := s.recordEvent(ctx, ev)
	if err != nil {
		return OutcomeRejected, err
	}
	if !created {
		log.Info(fmt.Sprintf("[Billing] duplicate webhook %s (%s)", row.ProviderEventID, row.EventType))
		return OutcomeDuplicate, nil
	}

	if err := s.dispatch(ctx, ev); err != nil {
		log.Error(fmt.Sprintf("[Billing] webhook %s dispatch failed: %v", row.ProviderEventID, err))
		if ferr := s.repo.RecordWebhookFailure(ctx, row.ID, err.Error()); ferr != nil {
			log.Error(fmt.Sprintf("[Billing] webhook %s failure record failed: %v", row.ProviderEventID, ferr))
		}
		return OutcomeAccepted, err
	}

	if err := s.repo.MarkWebhookProcessed(ctx, row.ID, ""); err != nil {
		log.Error(fmt.Sprintf("[Billing] webhook %s mark processed failed: %v", row.ProviderEventID, err))
	}
	return OutcomeAccepted, nil
}

// recordEvent persists the inbox row idempotently. Events without a gateway
// event ID dedup on a payload hash instead.
func (s *Service) recordEvent(ctx context.Context, ev *Event) (bool, *models.WebhookEvent, error) {
	eventID := strings.TrimSpace(ev.ID)
	if eventID == "" {
		sum := sha256.Sum256(ev.Raw)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	row := &models.WebhookEvent{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: eventID,
		EventType:       ev.Type,
		PayloadJSON:     string(ev.Raw),
		SignatureValid:  true,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, row)
}

func (s *Service) dispatch(ctx context.Context, ev *Event) error {
	switch {
	case ev.ChargeSuccess != nil:
		return s.applyChargeSuccess(ctx, ev.ChargeSuccess)
	case ev.PaymentFailed != nil:
		return s.applyPaymentFailed(ctx, ev.PaymentFailed)
	case ev.NotRenew != nil:
		return s.applyNotRenew(ctx, ev.NotRenew)
	case ev.Disable != nil:
		return s.applyDisable(ctx, ev.Disable)
	default:
		// Stored for audit, nothing to do.
		return nil
	}
}

// RetryUnprocessedWebhooks re-dispatches inbox rows that were inserted but
// never processed, e.g. after a crash or a transient dispatch failure.
func (s *Service) RetryUnprocessedWebhooks(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-olderThan)
	rows, err := s.repo.ListUnprocessedWebhookEvents(ctx, cutoff, webhookMaxAttempts, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		ev, err := ParseEvent([]byte(row.PayloadJSON))
		if err != nil {
			// Unparseable rows are dead on arrival; close them out.
			if merr := s.repo.MarkWebhookProcessed(ctx, row.ID, err.Error()); merr != nil {
				log.Error(fmt.Sprintf("[Billing] webhook %d close failed: %v", row.ID, merr))
			}
			continue
		}
		if err := s.dispatch(ctx, ev); err != nil {
			log.Warn(fmt.Sprintf("[Billing] webhook %s retry failed: %v", row.ProviderEventID, err))
			if ferr := s.repo.RecordWebhookFailure(ctx, row.ID, err.Error()); ferr != nil {
				log.Error(fmt.Sprintf("[Billing] webhook %s failure record failed: %v", row.ProviderEventID, ferr))
			}
			continue
		}
		if err := s.repo.MarkWebhookProcessed(ctx, row.ID, ""); err != nil {
			log.Error(fmt.Sprintf("[Billing] webhook %s mark processed failed: %v", row.ProviderEventID, err))
			continue
		}
		processed++
	}
	return processed, nil
}

// CheckoutResult is what the checkout endpoint hands back to the client.
type CheckoutResult struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
	PlanID           string `json:"plan_id"`
	AmountKobo       int64  `json:"amount_kobo"`
}

// Checkout opens a pending ledger row and a hosted payment session for a
// catalog plan.
func (s *Service) Checkout(ctx context.Context, userID uint, planID, callbackURL string) (*CheckoutResult, error) {
	plan, ok := plans.Get(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	reference := "shub_" + uuid.NewString()
	tx := &models.PaymentTransaction{
		UserID:     userID,
		Reference:  reference,
		AmountKobo: plan.PriceKobo,
		Status:     models.PaymentStatusPending,
		PlanID:     plan.ID,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	init, err := s.gateway.InitializeTransaction(ctx, InitializeRequest{
		Email:       user.Email,
		AmountKobo:  plan.PriceKobo,
		Reference:   reference,
		CallbackURL: callbackURL,
		Metadata:    EventMetadata{UserID: userID, PlanID: plan.ID},
	})
	if err != nil {
		return nil, err
	}

	log.Info(fmt.Sprintf("[Billing] checkout opened for user %d plan %s ref %s", userID, plan.ID, reference))
	return &CheckoutResult{
		AuthorizationURL: init.AuthorizationURL,
		Reference:        reference,
		PlanID:           plan.ID,
		AmountKobo:       plan.PriceKobo,
	}, nil
}

// VerifyCheckout asks the gateway for a transaction's state and, on success,
// applies the same charge path the webhook uses. Whichever of the two runs
// first wins; the other is a no-op.
func (s *Service) VerifyCheckout(ctx context.Context, reference string) (*models.Subscription, bool, error) {
	cs, succeeded, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	if !succeeded {
		// A non-success answer settles the pending checkout row so abandoned
		// sessions do not sit pending forever. The conditional update keeps a
		// late charge.success webhook able to flip it to success.
		if _, err := s.repo.FinalizeTransaction(ctx, reference, models.PaymentStatusFailed, time.Time{}, "", ""); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err := s.applyChargeSuccess(ctx, cs); err != nil {
		return nil, false, err
	}

	tx, err := s.repo.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, true, err
	}
	if tx == nil || tx.SubscriptionID == nil {
		return nil, true, nil
	}
	sub, err := s.repo.GetSubscription(ctx, *tx.SubscriptionID)
	if err != nil {
		return nil, true, err
	}
	return sub, true, nil
}

// EffectivePlanID reports the plan of the user's access-holding subscription.
// It satisfies the metering engine's PlanResolver.
func (s *Service) EffectivePlanID(ctx context.Context, userID uint) (string, bool, error) {
	sub, err := s.repo.GetLatestAccessSubscription(ctx, userID, s.now())
	if err != nil {
		return "", false, err
	}
	if sub == nil {
		return "", false, nil
	}
	return sub.PlanID, true, nil
}

// GetPlanName returns the display plan for a user, "free" when none, through
// the short-TTL cache.
func (s *Service) GetPlanName(ctx context.Context, userID uint) (string, error) {
	key := planCacheKey(userID)
	if s.planCache != nil {
		if name, ok := s.planCache.Get(key); ok && name != "" {
			return name, nil
		}
	}

	planID, hasAccess, err := s.EffectivePlanID(ctx, userID)
	if err != nil {
		return "", err
	}
	name := plans.FreePlanName
	if hasAccess {
		name = planID
	}
	if s.planCache != nil {
		s.planCache.Set(key, name, planCacheTTL)
	}
	return name, nil
}

// GetActiveSubscription returns the access-holding subscription or nil.
func (s *Service) GetActiveSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	return s.repo.GetLatestAccessSubscription(ctx, userID, s.now())
}

// GetChangeHistory returns the user's lifecycle audit trail, newest first.
func (s *Service) GetChangeHistory(ctx context.Context, userID uint, limit int) ([]models.SubscriptionChangeLog, error) {
	return s.repo.ListChangeLogsByUser(ctx, userID, limit)
}

// GetPayments returns the user's ledger rows, newest first.
func (s *Service) GetPayments(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID, limit)
}

func (s *Service) invalidatePlanCache(userID uint) {
	if s.planCache != nil {
		s.planCache.Delete(planCacheKey(userID))
	}
}

func (s *Service) logChange(ctx context.Context, userID uint, subscriptionID, changeType, fromPlan, toPlan, reason string) {
	entry := &models.SubscriptionChangeLog{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		ChangeType:     changeType,
		FromPlanID:     fromPlan,
		ToPlanID:       toPlan,
		Reason:         reason,
	}
	if err := s.repo.CreateChangeLog(ctx, entry); err != nil {
		log.Error(fmt.Sprintf("[Billing] change log write failed for user %d: %v", userID, err))
	}
}
