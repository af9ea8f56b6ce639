package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhubng/StudyHub/app/models"
)

const testWebhookSecret = "sk_test_studyhub"

type stubGateway struct {
	initResp  *InitializeResponse
	initErr   error
	verifyCS  *ChargeSuccess
	verifyOK  bool
	verifyErr error

	lastInit InitializeRequest
}

func (g *stubGateway) InitializeTransaction(_ context.Context, in InitializeRequest) (*InitializeResponse, error) {
	g.lastInit = in
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initResp != nil {
		return g.initResp, nil
	}
	return &InitializeResponse{
		AuthorizationURL: "https://checkout.paystack.com/" + in.Reference,
		AccessCode:       "acc_" + in.Reference,
		Reference:        in.Reference,
	}, nil
}

func (g *stubGateway) VerifyTransaction(context.Context, string) (*ChargeSuccess, bool, error) {
	return g.verifyCS, g.verifyOK, g.verifyErr
}

type testClock struct {
	t time.Time
}

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *MemoryRepository, *stubGateway, *testClock) {
	t.Helper()
	repo := NewMemoryRepository()
	gw := &stubGateway{}
	clock := &testClock{t: time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)}

	svc := NewService(repo, gw)
	svc.webhookSecret = testWebhookSecret
	svc.graceDays = 3
	svc.now = func() time.Time { return clock.t }

	repo.AddUser(&models.User{ID: 7, Email: "ada@studyhub.ng", Name: "Ada"})
	return svc, repo, gw, clock
}

// deliver signs a webhook payload and pushes it through HandleWebhook.
func deliver(t *testing.T, svc *Service, payload string) (Outcome, error) {
	t.Helper()
	body := []byte(payload)
	return svc.HandleWebhook(context.Background(), body, signPayload(body, testWebhookSecret))
}

func chargePayload(eventID int64, reference, planID string, userID uint, paidAt time.Time) string {
	return fmt.Sprintf(`{
		"event": "charge.success",
		"data": {
			"id": %d,
			"reference": %q,
			"amount": 150000,
			"channel": "card",
			"paid_at": %q,
			"customer": {"email": "ada@studyhub.ng", "customer_code": "CUS_ada"},
			"metadata": {"user_id": %d, "plan_id": %q},
			"subscription": {"subscription_code": "SUB_ada"}
		}
	}`, eventID, reference, paidAt.Format(time.RFC3339), userID, planID)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	body := []byte(chargePayload(1, "shub_ref1", "basic", 7, clock.t))

	outcome, err := svc.HandleWebhook(context.Background(), body, signPayload(body, "sk_wrong"))
	assert.Equal(t, OutcomeRejected, outcome)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Empty(t, repo.webhookEvents, "rejected deliveries must not reach the inbox")
}

func TestHandleWebhookRejectsGarbagePayload(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	outcome, err := deliver(t, svc, `{"event": `)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.ErrorIs(t, err, ErrPayloadInvalid)
}

// brokenInbox simulates the webhook store being down.
type brokenInbox struct {
	*MemoryRepository
	inboxErr error
}

func (r *brokenInbox) CreateWebhookEventIfNotExists(context.Context, *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	return false, nil, r.inboxErr
}

func TestHandleWebhookInboxFailureIsNotAClientError(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	svc.repo = &brokenInbox{MemoryRepository: repo, inboxErr: errors.New("driver: bad connection")}

	outcome, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	assert.Equal(t, OutcomeRejected, outcome)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPayloadInvalid, "store failures must stay distinguishable from bad payloads")
	assert.NotErrorIs(t, err, ErrSignatureInvalid)
}

func TestChargeSuccessOpensSubscription(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()

	outcome, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	sub, err := svc.GetActiveSubscription(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "basic", sub.PlanID)
	assert.Equal(t, "shub_ref1", sub.LastPaymentRef)
	assert.Equal(t, clock.t.AddDate(0, 0, 30), sub.CurrentPeriodEnd)

	tx, err := repo.GetTransactionByReference(ctx, "shub_ref1")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.PaymentStatusSuccess, tx.Status)
	require.NotNil(t, tx.SubscriptionID)
	assert.Equal(t, sub.ID, *tx.SubscriptionID)

	logs, err := svc.GetChangeHistory(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ChangeTypeCreated, logs[0].ChangeType)

	planID, hasAccess, err := svc.EffectivePlanID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, hasAccess)
	assert.Equal(t, "basic", planID)
}

func TestDuplicateWebhookLeavesStateUntouched(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	payload := chargePayload(1, "shub_ref1", "basic", 7, clock.t)

	outcome, err := deliver(t, svc, payload)
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)

	subsBefore := len(repo.subscriptions)
	logsBefore := len(repo.changeLogs)
	sub, _ := svc.GetActiveSubscription(context.Background(), 7)
	endBefore := sub.CurrentPeriodEnd

	outcome, err = deliver(t, svc, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Len(t, repo.subscriptions, subsBefore)
	assert.Len(t, repo.changeLogs, logsBefore)
	sub, _ = svc.GetActiveSubscription(context.Background(), 7)
	assert.Equal(t, endBefore, sub.CurrentPeriodEnd, "replay must not extend the period")
}

func TestReplayedChargeWithNewEventIDIsGuarded(t *testing.T) {
	// Same payment reference arriving under a different gateway event ID: the
	// inbox cannot dedup it, LastPaymentRef must.
	svc, repo, _, clock := newTestService(t)

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	sub, _ := svc.GetActiveSubscription(context.Background(), 7)
	endBefore := sub.CurrentPeriodEnd
	logsBefore := len(repo.changeLogs)

	outcome, err := deliver(t, svc, chargePayload(2, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	sub, _ = svc.GetActiveSubscription(context.Background(), 7)
	assert.Equal(t, endBefore, sub.CurrentPeriodEnd)
	assert.Len(t, repo.changeLogs, logsBefore)
	assert.Len(t, repo.subscriptions, 1)
}

func TestRenewalExtendsFromPeriodEnd(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	sub, _ := svc.GetActiveSubscription(ctx, 7)
	firstEnd := sub.CurrentPeriodEnd

	// The renewal charge lands two days before the period runs out; the new
	// period still opens where the old one ended.
	clock.advance(28 * 24 * time.Hour)
	_, err = deliver(t, svc, chargePayload(2, "shub_ref2", "basic", 7, clock.t))
	require.NoError(t, err)

	sub, _ = svc.GetActiveSubscription(ctx, 7)
	assert.Equal(t, firstEnd, sub.CurrentPeriodStart)
	assert.Equal(t, firstEnd.AddDate(0, 0, 30), sub.CurrentPeriodEnd)
	assert.Equal(t, "shub_ref2", sub.LastPaymentRef)

	logs, _ := svc.GetChangeHistory(ctx, 7, 10)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ChangeTypeRenewed, logs[0].ChangeType)
}

func TestPaymentFailedThenRecovery(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	sub, _ := svc.GetActiveSubscription(ctx, 7)
	periodEnd := sub.CurrentPeriodEnd

	failed := `{"event":"invoice.payment_failed","data":{"invoice_code":"INV_1","customer":{"customer_code":"CUS_ada"},"subscription":{"subscription_code":"SUB_ada"}}}`
	clock.advance(30 * 24 * time.Hour)
	_, err = deliver(t, svc, failed)
	require.NoError(t, err)

	sub, _ = svc.GetActiveSubscription(ctx, 7)
	require.NotNil(t, sub, "past_due keeps access during grace")
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.GraceDeadline)
	assert.Equal(t, periodEnd.AddDate(0, 0, 3), *sub.GraceDeadline)

	// The retried charge lands a day into the grace window.
	clock.advance(24 * time.Hour)
	_, err = deliver(t, svc, chargePayload(2, "shub_ref2", "basic", 7, clock.t))
	require.NoError(t, err)

	sub, _ = svc.GetActiveSubscription(ctx, 7)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.GraceDeadline)
	assert.Equal(t, periodEnd, sub.CurrentPeriodStart)

	logs, _ := svc.GetChangeHistory(ctx, 7, 10)
	require.Len(t, logs, 3)
	assert.Equal(t, models.ChangeTypeRecovered, logs[0].ChangeType)
	assert.Equal(t, models.ChangeTypePaymentFailed, logs[1].ChangeType)
}

func TestPaymentFailedIgnoresNonActiveTerms(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, 7, true)
	require.NoError(t, err)
	logsBefore := len(repo.changeLogs)

	_, err = deliver(t, svc, `{"event":"invoice.payment_failed","data":{"invoice_code":"INV_1","subscription":{"subscription_code":"SUB_ada"}}}`)
	require.NoError(t, err)

	sub, _ := svc.GetActiveSubscription(ctx, 7)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.Nil(t, sub.GraceDeadline)
	assert.Len(t, repo.changeLogs, logsBefore)
}

func TestGraceExpirySweep(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	clock.advance(30 * 24 * time.Hour)
	_, err = deliver(t, svc, `{"event":"invoice.payment_failed","data":{"invoice_code":"INV_1","subscription":{"subscription_code":"SUB_ada"}}}`)
	require.NoError(t, err)

	// Inside the grace window nothing expires.
	n, err := svc.SweepExpirations(ctx, clock.t)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.advance(4 * 24 * time.Hour)
	n, err = svc.SweepExpirations(ctx, clock.t)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, hasAccess, err := svc.EffectivePlanID(ctx, 7)
	require.NoError(t, err)
	assert.False(t, hasAccess)

	logs, _ := svc.GetChangeHistory(ctx, 7, 10)
	assert.Equal(t, models.ChangeTypeExpired, logs[0].ChangeType)

	// A second sweep finds nothing left to do.
	n, err = svc.SweepExpirations(ctx, clock.t)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelAtPeriodEndKeepsAccessUntilPeriodEnd(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)

	sub, err := svc.Cancel(ctx, 7, true)
	require.NoError(t, err)
	periodEnd := sub.CurrentPeriodEnd

	sub, _ = svc.GetActiveSubscription(ctx, 7)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)

	// Cancelling again is idempotent.
	_, err = svc.Cancel(ctx, 7, true)
	require.NoError(t, err)
	logs, _ := svc.GetChangeHistory(ctx, 7, 10)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ChangeTypeCancelScheduled, logs[0].ChangeType)

	// Access holds up to the paid-through boundary, no further.
	clock.t = periodEnd.Add(-time.Minute)
	_, hasAccess, _ := svc.EffectivePlanID(ctx, 7)
	assert.True(t, hasAccess)

	clock.t = periodEnd.Add(time.Minute)
	_, hasAccess, _ = svc.EffectivePlanID(ctx, 7)
	assert.False(t, hasAccess)

	n, err := svc.SweepExpirations(ctx, clock.t)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCancelImmediatelyEndsAccessNow(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)

	sub, err := svc.Cancel(ctx, 7, false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)

	_, hasAccess, err := svc.EffectivePlanID(ctx, 7)
	require.NoError(t, err)
	assert.False(t, hasAccess)

	_, err = svc.Cancel(ctx, 7, false)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestReactivateWithdrawsScheduledCancel(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)

	_, err = svc.Reactivate(ctx, 7)
	assert.ErrorIs(t, err, ErrNothingToReactivate, "nothing scheduled yet")

	_, err = svc.Cancel(ctx, 7, true)
	require.NoError(t, err)

	sub, err := svc.Reactivate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)

	// Schedule the cancel again and let the paid period run out: the term
	// no longer holds access, so there is nothing left to withdraw.
	_, err = svc.Cancel(ctx, 7, true)
	require.NoError(t, err)
	clock.advance(31 * 24 * time.Hour)
	_, err = svc.Reactivate(ctx, 7)
	assert.ErrorIs(t, err, ErrNoActiveSubscription, "lapsed terms cannot be reactivated")
}

func TestNotRenewSchedulesCancelOnce(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)

	notRenew := func(id int) string {
		return fmt.Sprintf(`{"event":"subscription.not_renew","data":{"subscription_code":"SUB_ada%d","customer":{"customer_code":"CUS_ada"}}}`, id)
	}
	_, err = deliver(t, svc, notRenew(1))
	require.NoError(t, err)

	sub, _ := svc.GetActiveSubscription(ctx, 7)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	logsBefore := len(repo.changeLogs)

	_, err = deliver(t, svc, notRenew(2))
	require.NoError(t, err)
	assert.Len(t, repo.changeLogs, logsBefore, "already scheduled, no second entry")
}

func TestDisableCancelsImmediately(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	created, _ := svc.GetActiveSubscription(ctx, 7)

	_, err = deliver(t, svc, `{"event":"subscription.disable","data":{"subscription_code":"SUB_ada","customer":{"customer_code":"CUS_ada"}}}`)
	require.NoError(t, err)

	sub, err := repo.GetSubscription(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)

	// Without cancel-at-period-end the term grants nothing.
	_, hasAccess, err := svc.EffectivePlanID(ctx, 7)
	require.NoError(t, err)
	assert.False(t, hasAccess)
}

func TestPlanChangeSupersedesOldTerm(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	firstSub, _ := svc.GetActiveSubscription(ctx, 7)

	clock.advance(10 * 24 * time.Hour)
	_, err = deliver(t, svc, chargePayload(2, "shub_ref2", "premium", 7, clock.t))
	require.NoError(t, err)

	old, err := repo.GetSubscription(ctx, firstSub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, old.Status)

	sub, _ := svc.GetActiveSubscription(ctx, 7)
	require.NotNil(t, sub)
	assert.NotEqual(t, firstSub.ID, sub.ID)
	assert.Equal(t, "premium", sub.PlanID)
	assert.Equal(t, clock.t, sub.CurrentPeriodStart)

	logs, _ := svc.GetChangeHistory(ctx, 7, 10)
	require.Len(t, logs, 3)
	assert.Equal(t, models.ChangeTypeCreated, logs[0].ChangeType)
	assert.Equal(t, models.ChangeTypeSuperseded, logs[1].ChangeType)
}

func TestUnmatchedChargeStaysUnprocessedThenRetries(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()
	// The inbox stamps rows with wall-clock time, so the retry cutoff has to
	// move with it.
	clock.t = time.Now()

	// Recurring charge with no metadata and codes nobody knows yet.
	orphan := `{
		"event": "charge.success",
		"data": {
			"id": 99,
			"reference": "shub_orphan",
			"amount": 150000,
			"channel": "card",
			"customer": {"customer_code": "CUS_new"},
			"subscription": {"subscription_code": "SUB_new"}
		}
	}`
	outcome, err := deliver(t, svc, orphan)
	assert.Equal(t, OutcomeAccepted, outcome, "stored for retry despite the dispatch failure")
	assert.ErrorIs(t, err, ErrUnmatchedCharge)

	var row *models.WebhookEvent
	for _, e := range repo.webhookEvents {
		row = e
	}
	require.NotNil(t, row)
	assert.Nil(t, row.ProcessedAt)
	assert.Equal(t, 1, row.Attempts)

	// Still unmatched: the retry fails again and bumps the attempt counter.
	n, err := svc.RetryUnprocessedWebhooks(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, row.Attempts)

	// Once the local row exists the same payload reconciles.
	require.NoError(t, repo.CreateSubscription(ctx, &models.Subscription{
		ID:                       "sub-new",
		UserID:                   7,
		PlanID:                   "basic",
		Status:                   models.SubscriptionStatusActive,
		CurrentPeriodStart:       clock.t.AddDate(0, 0, -29),
		CurrentPeriodEnd:         clock.t.AddDate(0, 0, 1),
		PaystackSubscriptionCode: "SUB_new",
		PaystackCustomerCode:     "CUS_new",
	}))

	n, err = svc.RetryUnprocessedWebhooks(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, row.ProcessedAt)

	sub, _ := svc.GetActiveSubscription(ctx, 7)
	assert.Equal(t, "shub_orphan", sub.LastPaymentRef)
	tx, _ := repo.GetTransactionByReference(ctx, "shub_orphan")
	require.NotNil(t, tx)
	assert.Equal(t, models.PaymentStatusSuccess, tx.Status)
}

func TestRetrySkipsRowsAtAttemptCap(t *testing.T) {
	svc, repo, _, clock := newTestService(t)
	ctx := context.Background()
	clock.t = time.Now()

	_, _ = deliver(t, svc, `{
		"event": "charge.success",
		"data": {"id": 99, "reference": "shub_orphan", "subscription": {"subscription_code": "SUB_none"}}
	}`)
	var row *models.WebhookEvent
	for _, e := range repo.webhookEvents {
		row = e
	}
	require.NotNil(t, row)
	row.Attempts = webhookMaxAttempts

	n, err := svc.RetryUnprocessedWebhooks(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, webhookMaxAttempts, row.Attempts, "capped rows are left alone")
}

func TestCheckoutOpensPendingLedgerRow(t *testing.T) {
	svc, repo, gw, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, 7, "basic", "https://studyhub.ng/billing/return")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AuthorizationURL)
	assert.Equal(t, "basic", res.PlanID)
	assert.Equal(t, int64(150000), res.AmountKobo)

	tx, err := repo.GetTransactionByReference(ctx, res.Reference)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.PaymentStatusPending, tx.Status)
	assert.Equal(t, uint(7), tx.UserID)

	assert.Equal(t, uint(7), gw.lastInit.Metadata.UserID)
	assert.Equal(t, "basic", gw.lastInit.Metadata.PlanID)
	assert.Equal(t, "ada@studyhub.ng", gw.lastInit.Email)

	_, err = svc.Checkout(ctx, 7, "platinum", "")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestVerifyCheckoutAgreesWithWebhook(t *testing.T) {
	svc, repo, gw, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, 7, "basic", "")
	require.NoError(t, err)

	payload := chargePayload(1, res.Reference, "basic", 7, clock.t)
	_, err = deliver(t, svc, payload)
	require.NoError(t, err)

	subsBefore := len(repo.subscriptions)
	logsBefore := len(repo.changeLogs)

	// The browser return leg verifies the same charge after the webhook
	// already applied it.
	cs, perr := ParseEvent([]byte(payload))
	require.NoError(t, perr)
	gw.verifyCS = cs.ChargeSuccess
	gw.verifyOK = true

	sub, succeeded, err := svc.VerifyCheckout(ctx, res.Reference)
	require.NoError(t, err)
	assert.True(t, succeeded)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	assert.Len(t, repo.subscriptions, subsBefore)
	assert.Len(t, repo.changeLogs, logsBefore)
}

func TestVerifyCheckoutAppliesChargeFirst(t *testing.T) {
	svc, _, gw, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, 7, "basic", "")
	require.NoError(t, err)

	gw.verifyCS = &ChargeSuccess{
		Reference:  res.Reference,
		AmountKobo: 150000,
		Channel:    "card",
		PaidAt:     clock.t,
		Metadata:   EventMetadata{UserID: 7, PlanID: "basic"},
	}
	gw.verifyOK = true

	sub, succeeded, err := svc.VerifyCheckout(ctx, res.Reference)
	require.NoError(t, err)
	assert.True(t, succeeded)
	require.NotNil(t, sub)
	assert.Equal(t, "basic", sub.PlanID)

	// Pending verification reports not-succeeded without touching state.
	gw.verifyOK = false
	sub, succeeded, err = svc.VerifyCheckout(ctx, res.Reference)
	require.NoError(t, err)
	assert.False(t, succeeded)
	assert.Nil(t, sub)
}

func TestVerifyCheckoutSettlesAbandonedSession(t *testing.T) {
	svc, repo, gw, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, 7, "basic", "")
	require.NoError(t, err)

	// The buyer closed the hosted page; the gateway reports not-succeeded.
	gw.verifyOK = false
	sub, succeeded, err := svc.VerifyCheckout(ctx, res.Reference)
	require.NoError(t, err)
	assert.False(t, succeeded)
	assert.Nil(t, sub)

	tx, err := repo.GetTransactionByReference(ctx, res.Reference)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.PaymentStatusFailed, tx.Status)
	assert.Nil(t, tx.PaidAt)

	// A late charge.success for the same reference still settles the row.
	_, err = deliver(t, svc, chargePayload(1, res.Reference, "basic", 7, clock.t))
	require.NoError(t, err)

	tx, err = repo.GetTransactionByReference(ctx, res.Reference)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.PaymentStatusSuccess, tx.Status)
}

func TestGetPlanNameFallsBackToFree(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	name, err := svc.GetPlanName(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "free", name)

	_, err = deliver(t, svc, chargePayload(1, "shub_ref1", "premium", 7, clock.t))
	require.NoError(t, err)

	name, err = svc.GetPlanName(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "premium", name)
}

type recordingNotifier struct {
	failed  []uint
	expired []uint
}

func (n *recordingNotifier) PaymentFailed(user *models.User, sub *models.Subscription, graceUntil time.Time) {
	n.failed = append(n.failed, user.ID)
}

func (n *recordingNotifier) SubscriptionExpired(user *models.User, sub *models.Subscription) {
	n.expired = append(n.expired, user.ID)
}

func TestLifecycleNotices(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	notes := &recordingNotifier{}
	svc.notifier = notes
	ctx := context.Background()

	_, err := deliver(t, svc, chargePayload(1, "shub_ref1", "basic", 7, clock.t))
	require.NoError(t, err)
	assert.Empty(t, notes.failed, "a successful charge sends nothing")

	clock.advance(30 * 24 * time.Hour)
	_, err = deliver(t, svc, `{"event":"invoice.payment_failed","data":{"invoice_code":"INV_1","subscription":{"subscription_code":"SUB_ada"}}}`)
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, notes.failed)

	clock.advance(4 * 24 * time.Hour)
	expired, err := svc.SweepExpirations(ctx, clock.t)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	assert.Equal(t, []uint{7}, notes.expired)
}
