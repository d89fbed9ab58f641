// Package billing exposes the HTTP surface of the billing engine: the
// authenticated checkout and subscription endpoints plus the unauthenticated
// webhook receiver.
package billing

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingd/core"
	"github.com/dmitrymomot/billingd/pkg/billing"
)

// RouterOptions wires the module's dependencies.
type RouterOptions struct {
	Checkout   *billing.CheckoutService
	Reconciler *billing.Reconciler

	// AuthMiddleware guards every route except the webhook receiver.
	AuthMiddleware func(http.Handler) http.Handler

	// CurrentUserID extracts the authenticated user from the request,
	// typically from the token claims the auth middleware stored.
	CurrentUserID func(r *http.Request) (uuid.UUID, bool)

	// MintToken issues a fresh credential for the user. Required: the
	// confirm and cancel flows change the subscription state frozen into
	// the token claims, so they hand the client a replacement token.
	MintToken func(user *billing.User) (string, error)

	// CancelLimiter optionally throttles the cancel endpoint. Nil disables
	// throttling.
	CancelLimiter func(http.Handler) http.Handler
}

// Router mounts the billing endpoints.
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Post("/webhook", handleWebhook(opts.Reconciler))

	r.Group(func(r chi.Router) {
		r.Use(opts.AuthMiddleware)

		r.Post("/checkout", handleStartCheckout(opts))
		r.Post("/checkout/confirm", handleConfirmCheckout(opts))
		r.Post("/portal", handleBillingPortal(opts))

		r.Get("/subscription", handleSubscriptionDetails(opts))
		r.Post("/subscription/upgrade", handleChangePlan(opts))

		cancel := handleCancelSubscription(opts)
		if opts.CancelLimiter != nil {
			r.With(opts.CancelLimiter).Post("/subscription/cancel", cancel)
		} else {
			r.Post("/subscription/cancel", cancel)
		}
	})

	return r
}

// mapBillingError translates the engine's sentinel errors into HTTP errors.
// Anything unrecognized falls through as a 500 without leaking detail.
func mapBillingError(err error) error {
	switch {
	case errors.Is(err, billing.ErrUserNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrPriceNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound):
		return core.ErrNotFound.WithMessage(firstSentinel(err,
			billing.ErrUserNotFound, billing.ErrPlanNotFound,
			billing.ErrPriceNotFound, billing.ErrSubscriptionNotFound))
	case errors.Is(err, billing.ErrNoCustomer):
		return core.ErrNotFound.WithMessage(billing.ErrNoCustomer.Error())
	case errors.Is(err, billing.ErrPaymentNotCompleted),
		errors.Is(err, billing.ErrMissingSubscription),
		errors.Is(err, billing.ErrCancelNotPossible),
		errors.Is(err, billing.ErrCheckoutRejected):
		return core.ErrConflict.WithMessage(firstSentinel(err,
			billing.ErrPaymentNotCompleted, billing.ErrMissingSubscription,
			billing.ErrCancelNotPossible, billing.ErrCheckoutRejected))
	case errors.Is(err, billing.ErrGateway):
		return core.ErrInternalServerError.WithMessage("payment provider unavailable")
	default:
		return err
	}
}

func firstSentinel(err error, sentinels ...error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}
