package constants

// Static route constants
const (
	APIV1Route     = "/api/v1"
	WebhooksRoute  = "/webhooks"
	HealthRoute    = "/healthz"
	PricingPageURL = "/pricing"
)
