package billing

import "errors"

var (
	ErrUserNotFound  = errors.New("billing: user not found")
	ErrEmailTaken    = errors.New("billing: email already registered")
	ErrPlanNotFound  = errors.New("billing: subscription plan not found")
	ErrPriceNotFound = errors.New("billing: price not found at provider")

	ErrNoCustomer           = errors.New("billing: user has no billing customer")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrMissingSubscription  = errors.New("billing: checkout session has no subscription attached")
	ErrPaymentNotCompleted  = errors.New("billing: payment not completed")
	ErrCancelNotPossible    = errors.New("billing: subscription already canceled or cannot be canceled")

	// ErrCheckoutRejected indicates the provider refused to create a checkout
	// session. Surfaced as a conflict, not a fatal error.
	ErrCheckoutRejected = errors.New("billing: checkout session rejected by provider")

	// ErrGateway wraps any unexpected provider or network failure.
	ErrGateway = errors.New("billing: payment gateway error")

	// ErrWebhookVerification indicates the inbound event failed signature
	// verification. The request is terminal; the provider's own retry
	// schedule handles redelivery.
	ErrWebhookVerification = errors.New("billing: webhook signature verification failed")

	ErrInvalidPlanConfiguration = errors.New("billing: invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("billing: failed to load subscription plans")
)
