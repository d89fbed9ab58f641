package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/billingd/core"
	"github.com/dmitrymomot/billingd/pkg/billing"
)

// handleWebhook receives provider events. Signature failures return 400.
// Processing failures return 500 so the provider retries the delivery.
// Unknown event types were already acknowledged inside the reconciler, so
// they land in the 200 path.
func handleWebhook(reconciler *billing.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			core.JSONError(w, core.ErrBadRequest.WithMessage("unreadable payload"))
			return
		}

		err = reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
		switch {
		case err == nil:
			core.JSONMessage(w, http.StatusOK, "received")
		case errors.Is(err, billing.ErrWebhookVerification):
			core.JSONError(w, core.ErrBadRequest.WithMessage("webhook signature verification failed"))
		default:
			core.JSONError(w, core.ErrInternalServerError)
		}
	}
}
