package billing

import "errors"

var (
	// ErrSignatureInvalid rejects webhook deliveries whose HMAC does not match.
	ErrSignatureInvalid = errors.New("billing: invalid webhook signature")
	// ErrPayloadInvalid rejects webhook deliveries whose body cannot be parsed.
	ErrPayloadInvalid = errors.New("billing: invalid webhook payload")
	// ErrNoActiveSubscription is returned when an operation needs an
	// access-holding subscription and the user has none.
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	// ErrPlanNotFound is returned for plan IDs outside the catalog.
	ErrPlanNotFound = errors.New("billing: plan not found")
	// ErrNothingToReactivate is returned when no cancellation is pending.
	ErrNothingToReactivate = errors.New("billing: no pending cancellation to reactivate")
	// ErrUnmatchedCharge is returned when a charge cannot be tied to a user.
	ErrUnmatchedCharge = errors.New("billing: charge cannot be matched to a user")
)
