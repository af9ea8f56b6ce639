package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Paystack event names this service reacts to. Everything else is stored and
// marked processed without dispatch.
const (
	EventChargeSuccess = "charge.success"
	EventPaymentFailed = "invoice.payment_failed"
	EventNotRenew      = "subscription.not_renew"
	EventDisable       = "subscription.disable"
)

// EventMetadata carries the fields we attach to a transaction at checkout so
// webhook payloads can be matched back to a local user.
type EventMetadata struct {
	UserID uint   `json:"user_id,omitempty"`
	PlanID string `json:"plan_id,omitempty"`
}

// ChargeSuccess is the normalized payload of a successful charge, from the
// webhook or from the verify endpoint.
type ChargeSuccess struct {
	Reference        string
	AmountKobo       int64
	Channel          string
	PaidAt           time.Time
	CustomerCode     string
	CustomerEmail    string
	SubscriptionCode string
	Metadata         EventMetadata
}

// PaymentFailed is the normalized payload of a failed renewal invoice.
type PaymentFailed struct {
	SubscriptionCode string
	CustomerCode     string
	Reference        string
}

// SubscriptionToggle covers subscription.not_renew and subscription.disable,
// which share a shape.
type SubscriptionToggle struct {
	SubscriptionCode string
	CustomerCode     string
}

// Event is one parsed webhook delivery. Exactly one typed payload field is
// set for known event types; unknown types carry only Type and Raw.
type Event struct {
	ID   string
	Type string
	Raw  json.RawMessage

	ChargeSuccess *ChargeSuccess
	PaymentFailed *PaymentFailed
	NotRenew      *SubscriptionToggle
	Disable       *SubscriptionToggle
}

// Unhandled reports whether the event carries no payload this service acts on.
func (e *Event) Unhandled() bool {
	return e.ChargeSuccess == nil && e.PaymentFailed == nil && e.NotRenew == nil && e.Disable == nil
}

type rawCustomer struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

type rawSubscription struct {
	SubscriptionCode string `json:"subscription_code"`
}

// ParseEvent decodes a Paystack webhook body into a typed event.
func ParseEvent(raw []byte) (*Event, error) {
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parse webhook envelope: %w", err)
	}
	if strings.TrimSpace(envelope.Event) == "" {
		return nil, fmt.Errorf("webhook envelope without event type")
	}

	ev := &Event{Type: envelope.Event, Raw: raw}

	switch envelope.Event {
	case EventChargeSuccess:
		var d struct {
			ID        json.Number   `json:"id"`
			Reference string        `json:"reference"`
			Amount    int64         `json:"amount"`
			Channel   string        `json:"channel"`
			PaidAt    string        `json:"paid_at"`
			Customer  rawCustomer   `json:"customer"`
			Metadata  EventMetadata `json:"metadata"`
			Plan      struct {
				PlanCode string `json:"plan_code"`
			} `json:"plan"`
			Subscription rawSubscription `json:"subscription"`
		}
		if err := json.Unmarshal(envelope.Data, &d); err != nil {
			return nil, fmt.Errorf("parse %s data: %w", envelope.Event, err)
		}
		if strings.TrimSpace(d.Reference) == "" {
			return nil, fmt.Errorf("%s without transaction reference", envelope.Event)
		}
		cs := &ChargeSuccess{
			Reference:        d.Reference,
			AmountKobo:       d.Amount,
			Channel:          d.Channel,
			CustomerCode:     d.Customer.CustomerCode,
			CustomerEmail:    d.Customer.Email,
			SubscriptionCode: d.Subscription.SubscriptionCode,
			Metadata:         d.Metadata,
		}
		if t, err := time.Parse(time.RFC3339, d.PaidAt); err == nil {
			cs.PaidAt = t
		}
		ev.ChargeSuccess = cs
		if d.ID.String() != "" {
			ev.ID = envelope.Event + ":" + d.ID.String()
		}
	case EventPaymentFailed:
		var d struct {
			InvoiceCode  string          `json:"invoice_code"`
			Reference    string          `json:"reference"`
			Customer     rawCustomer     `json:"customer"`
			Subscription rawSubscription `json:"subscription"`
		}
		if err := json.Unmarshal(envelope.Data, &d); err != nil {
			return nil, fmt.Errorf("parse %s data: %w", envelope.Event, err)
		}
		ev.PaymentFailed = &PaymentFailed{
			SubscriptionCode: d.Subscription.SubscriptionCode,
			CustomerCode:     d.Customer.CustomerCode,
			Reference:        d.Reference,
		}
		if d.InvoiceCode != "" {
			ev.ID = envelope.Event + ":" + d.InvoiceCode
		}
	case EventNotRenew, EventDisable:
		var d struct {
			SubscriptionCode string      `json:"subscription_code"`
			Customer         rawCustomer `json:"customer"`
		}
		if err := json.Unmarshal(envelope.Data, &d); err != nil {
			return nil, fmt.Errorf("parse %s data: %w", envelope.Event, err)
		}
		toggle := &SubscriptionToggle{
			SubscriptionCode: d.SubscriptionCode,
			CustomerCode:     d.Customer.CustomerCode,
		}
		if envelope.Event == EventNotRenew {
			ev.NotRenew = toggle
		} else {
			ev.Disable = toggle
		}
		if d.SubscriptionCode != "" {
			ev.ID = envelope.Event + ":" + d.SubscriptionCode
		}
	}

	return ev, nil
}
