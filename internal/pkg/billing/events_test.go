package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventChargeSuccess(t *testing.T) {
	raw := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 302961,
			"reference": "shub_abc123",
			"amount": 150000,
			"channel": "card",
			"paid_at": "2025-03-12T10:30:00Z",
			"customer": {"email": "ada@studyhub.ng", "customer_code": "CUS_x1"},
			"metadata": {"user_id": 7, "plan_id": "basic"},
			"plan": {"plan_code": "PLN_b1"},
			"subscription": {"subscription_code": "SUB_s1"}
		}
	}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventChargeSuccess, ev.Type)
	assert.Equal(t, "charge.success:302961", ev.ID)
	assert.False(t, ev.Unhandled())

	cs := ev.ChargeSuccess
	require.NotNil(t, cs)
	assert.Equal(t, "shub_abc123", cs.Reference)
	assert.Equal(t, int64(150000), cs.AmountKobo)
	assert.Equal(t, "card", cs.Channel)
	assert.Equal(t, "CUS_x1", cs.CustomerCode)
	assert.Equal(t, "SUB_s1", cs.SubscriptionCode)
	assert.Equal(t, uint(7), cs.Metadata.UserID)
	assert.Equal(t, "basic", cs.Metadata.PlanID)
	assert.Equal(t, 2025, cs.PaidAt.Year())
}

func TestParseEventPaymentFailed(t *testing.T) {
	raw := []byte(`{
		"event": "invoice.payment_failed",
		"data": {
			"invoice_code": "INV_9",
			"customer": {"customer_code": "CUS_x1"},
			"subscription": {"subscription_code": "SUB_s1"}
		}
	}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "invoice.payment_failed:INV_9", ev.ID)
	require.NotNil(t, ev.PaymentFailed)
	assert.Equal(t, "SUB_s1", ev.PaymentFailed.SubscriptionCode)
	assert.Equal(t, "CUS_x1", ev.PaymentFailed.CustomerCode)
}

func TestParseEventSubscriptionToggles(t *testing.T) {
	notRenew := []byte(`{"event":"subscription.not_renew","data":{"subscription_code":"SUB_s1","customer":{"customer_code":"CUS_x1"}}}`)
	ev, err := ParseEvent(notRenew)
	require.NoError(t, err)
	require.NotNil(t, ev.NotRenew)
	assert.Nil(t, ev.Disable)
	assert.Equal(t, "subscription.not_renew:SUB_s1", ev.ID)

	disable := []byte(`{"event":"subscription.disable","data":{"subscription_code":"SUB_s1","customer":{"customer_code":"CUS_x1"}}}`)
	ev, err = ParseEvent(disable)
	require.NoError(t, err)
	require.NotNil(t, ev.Disable)
	assert.Nil(t, ev.NotRenew)
}

func TestParseEventUnknownTypeIsUnhandled(t *testing.T) {
	raw := []byte(`{"event":"transfer.success","data":{"reference":"TRF_1"}}`)
	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.True(t, ev.Unhandled())
	assert.Equal(t, "transfer.success", ev.Type)
	assert.Empty(t, ev.ID)
}

func TestParseEventRejectsBadPayloads(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`{"data":{}}`))
	assert.Error(t, err, "missing event type")

	_, err = ParseEvent([]byte(`{"event":"charge.success","data":{"amount":100}}`))
	assert.Error(t, err, "charge without reference")
}
