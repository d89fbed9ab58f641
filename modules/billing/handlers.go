package billing

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingd/core"
	"github.com/dmitrymomot/billingd/pkg/billing"
)

// maxWebhookBody caps webhook payload reads. Stripe events are small; the
// limit only guards against junk traffic on the open endpoint.
const maxWebhookBody = 1 << 20

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

type confirmRequest struct {
	SessionID string `json:"sessionId"`
}

type upgradeRequest struct {
	PriceID string `json:"priceId"`
}

// authedUser pairs an updated user record with a reissued token. The token
// claims freeze the subscription state at issue time, so any flow that
// changes that state returns a replacement credential.
type authedUser struct {
	Token string        `json:"token"`
	User  *billing.User `json:"user"`
}

func respondWithFreshToken(opts RouterOptions, w http.ResponseWriter, user *billing.User) {
	token, err := opts.MintToken(user)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.JSON(w, http.StatusOK, authedUser{Token: token, User: user})
}

func currentUser(opts RouterOptions, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := opts.CurrentUserID(r)
	if !ok {
		core.JSONError(w, core.ErrUnauthorized)
	}
	return userID, ok
}

func handleStartCheckout(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(opts, w, r)
		if !ok {
			return
		}

		var req checkoutRequest
		if err := core.DecodeJSON(r, &req); err != nil {
			core.JSONError(w, err)
			return
		}
		if req.PriceID == "" {
			core.JSONError(w, core.ErrBadRequest.WithMessage("priceId is required"))
			return
		}

		intent, err := opts.Checkout.StartCheckout(r.Context(), userID, req.PriceID)
		if err != nil {
			core.JSONError(w, mapBillingError(err))
			return
		}
		core.JSON(w, http.StatusOK, intent)
	}
}

func handleConfirmCheckout(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(opts, w, r)
		if !ok {
			return
		}

		var req confirmRequest
		if err := core.DecodeJSON(r, &req); err != nil {
			core.JSONError(w, err)
			return
		}
		if req.SessionID == "" {
			core.JSONError(w, core.ErrBadRequest.WithMessage("sessionId is required"))
			return
		}

		user, err := opts.Checkout.ConfirmCheckout(r.Context(), userID, req.SessionID)
		if err != nil {
			core.JSONError(w, mapBillingError(err))
			return
		}
		respondWithFreshToken(opts, w, user)
	}
}

func handleBillingPortal(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(opts, w, r)
		if !ok {
			return
		}

		session, err := opts.Checkout.BillingPortal(r.Context(), userID)
		if err != nil {
			core.JSONError(w, mapBillingError(err))
			return
		}
		core.JSON(w, http.StatusOK, session)
	}
}

func handleSubscriptionDetails(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(opts, w, r)
		if !ok {
			return
		}

		details, err := opts.Checkout.SubscriptionDetails(r.Context(), userID)
		if err != nil {
			core.JSONError(w, mapBillingError(err))
			return
		}
		core.JSON(w, http.StatusOK, details)
	}
}

func handleChangePlan(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(opts, w, r)
		if !ok {
			return
		}

		var req upgradeRequest
		if err := core.DecodeJSON(r, &req); err != nil {
			core.JSONError(w, err)
			return
		}
		if req.PriceID == "" {
			core.JSONError(w, core.ErrBadRequest.WithMessage("priceId is required"))
			return
		}

		intent, err := opts.Checkout.ChangePlan(r.Context(), userID, req.PriceID)
		if err != nil {
			core.JSONError(w, mapBillingError(err))
			return
		}
		core.JSON(w, http.StatusOK, intent)
	}
}

func handleCancelSubscription(opts RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(opts, w, r)
		if !ok {
			return
		}

		user, err := opts.Checkout.CancelSubscription(r.Context(), userID)
		if err != nil {
			core.JSONError(w, mapBillingError(err))
			return
		}
		respondWithFreshToken(opts, w, user)
	}
}
