package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CheckoutIntent is the result of starting (or restarting) a checkout.
type CheckoutIntent struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// SubscriptionDetails aggregates the provider's view of a user's current
// subscription with its price and product.
type SubscriptionDetails struct {
	Subscription ProviderSubscription `json:"subscription"`
	Price        Price                `json:"price"`
	Product      Product              `json:"product"`
}

// CheckoutService orchestrates the user-initiated billing flows. All state it
// writes is re-derived from the gateway's current objects at the time of
// writing, which keeps every flow safe to retry.
type CheckoutService struct {
	catalog     *Catalog
	gateway     PaymentGateway
	store       UserStore
	dispatcher  Dispatcher
	transitions TransitionLog
	logger      *slog.Logger
	now         func() time.Time
}

// CheckoutOption configures a CheckoutService.
type CheckoutOption func(*CheckoutService)

// WithTransitionLog enables the append-only audit trail.
func WithTransitionLog(l TransitionLog) CheckoutOption {
	return func(s *CheckoutService) { s.transitions = l }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) CheckoutOption {
	return func(s *CheckoutService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Test hook for the proration anchor.
func WithClock(now func() time.Time) CheckoutOption {
	return func(s *CheckoutService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCheckoutService creates the orchestrator.
// Panics on nil required dependencies to fail fast during initialization.
func NewCheckoutService(catalog *Catalog, gateway PaymentGateway, store UserStore, dispatcher Dispatcher, opts ...CheckoutOption) *CheckoutService {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if gateway == nil {
		panic("billing: PaymentGateway is required")
	}
	if store == nil {
		panic("billing: UserStore is required")
	}
	if dispatcher == nil {
		panic("billing: Dispatcher is required")
	}

	s := &CheckoutService{
		catalog:    catalog,
		gateway:    gateway,
		store:      store,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCheckout opens a hosted checkout session for the given price. A
// provider customer is created lazily on the first attempt; the store's
// compare-and-set claim guarantees two concurrent starts never record two
// distinct customers for the same user.
func (s *CheckoutService) StartCheckout(ctx context.Context, userID uuid.UUID, priceID string) (*CheckoutIntent, error) {
	if !s.catalog.Has(priceID) {
		return nil, ErrPlanNotFound
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	customerID := user.Subscription.CustomerID
	if customerID == "" {
		customer, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name, map[string]string{
			"userId": userID.String(),
		})
		if err != nil {
			return nil, errors.Join(ErrGateway, err)
		}
		// The claim may return another writer's customer; either way the
		// winning ID is the one all subsequent calls use.
		customerID, err = s.store.ClaimCustomerID(ctx, userID, customer.ID)
		if err != nil {
			return nil, err
		}
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		PriceID:    priceID,
		CustomerID: customerID,
		UserID:     userID.String(),
	})
	if err != nil {
		return nil, errors.Join(ErrCheckoutRejected, err)
	}

	fields := SubscriptionFields{SessionID: &session.ID}
	if session.SubscriptionID != "" {
		fields.SubscriptionID = &session.SubscriptionID
	}
	updated, err := s.store.UpdateSubscription(ctx, userID, fields)
	if err != nil {
		return nil, err
	}

	recordTransition(ctx, s.transitions, s.logger, Transition{
		UserID: userID.String(),
		Action: "checkout_started",
		Before: user.Subscription,
		After:  updated.Subscription,
		At:     s.now(),
	})

	return &CheckoutIntent{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// ConfirmCheckout finalizes a checkout the client reports as successful. The
// provider session is re-read and the subscription block rebuilt from the
// provider's current subscription object, so running this zero, one, or two
// times for the same session (client confirm plus webhook) converges to the
// same record.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, userID uuid.UUID, sessionID string) (*User, error) {
	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	if !session.Paid {
		return nil, ErrPaymentNotCompleted
	}
	if session.SubscriptionID == "" {
		return nil, ErrMissingSubscription
	}

	sub, err := s.gateway.GetSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan, err := s.catalog.ByPriceID(sub.PriceID)
	if err != nil {
		return nil, err
	}

	start := sub.CurrentPeriodStart
	end := sub.CurrentPeriodEnd
	updated, err := s.store.UpdateSubscription(ctx, userID, SubscriptionFields{
		CustomerID:     &sub.CustomerID,
		SubscriptionID: &sub.ID,
		SessionID:      ptr(""), // this checkout is resolved
		PlanID:         &sub.PriceID,
		PlanType:       &plan.Type,
		PlanStartDate:  &start,
		PlanEndDate:    &end,
		PlanDuration:   ptr(PeriodDays(start, end)),
		IsSubscribed:   ptr(sub.IsActive()),
	})
	if err != nil {
		return nil, err
	}

	recordTransition(ctx, s.transitions, s.logger, Transition{
		UserID: userID.String(),
		Action: "checkout_confirmed",
		Before: user.Subscription,
		After:  updated.Subscription,
		At:     s.now(),
	})

	return updated, nil
}

// BillingPortal opens a provider-hosted self-service portal session.
func (s *CheckoutService) BillingPortal(ctx context.Context, userID uuid.UUID) (*PortalSession, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasCustomer() {
		return nil, ErrNoCustomer
	}

	portal, err := s.gateway.CreatePortalSession(ctx, user.Subscription.CustomerID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	return portal, nil
}

// ChangePlan applies a prorated upgrade or downgrade and opens a checkout
// session for the new price. If session creation fails after the provider-side
// price change already succeeded, the change is reverted with proration
// disabled before the failure is reported - the subscription must never point
// at a new price with no corresponding payment artifact.
func (s *CheckoutService) ChangePlan(ctx context.Context, userID uuid.UUID, newPriceID string) (*CheckoutIntent, error) {
	if !s.catalog.Has(newPriceID) {
		return nil, ErrPlanNotFound
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasSubscription() {
		return nil, ErrSubscriptionNotFound
	}
	subID := user.Subscription.SubscriptionID

	current, err := s.gateway.GetSubscription(ctx, subID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	// Anchor prorations at min(now, currentPeriodEnd) so an already-lapsed
	// period never produces a future-dated proration.
	prorationDate := s.now()
	if current.CurrentPeriodEnd.Before(prorationDate) {
		prorationDate = current.CurrentPeriodEnd
	}

	changed, err := s.gateway.UpdateSubscriptionPrice(ctx, PriceChangeRequest{
		SubscriptionID: subID,
		ItemID:         current.ItemID,
		PriceID:        newPriceID,
		Prorate:        true,
		ProrationDate:  prorationDate,
	})
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		PriceID:    newPriceID,
		CustomerID: user.Subscription.CustomerID,
		UserID:     userID.String(),
	})
	if err != nil {
		// Compensate: revert the plan change so the subscription never points
		// at a price without a payment artifact. Proration is disabled on the
		// way back to avoid charging for the aborted change.
		if _, rbErr := s.gateway.UpdateSubscriptionPrice(ctx, PriceChangeRequest{
			SubscriptionID: subID,
			ItemID:         changed.ItemID,
			PriceID:        current.PriceID,
			Prorate:        false,
		}); rbErr != nil {
			s.logger.ErrorContext(ctx, "plan change rollback failed, subscription left on new price",
				slog.String("user_id", userID.String()),
				slog.String("subscription_id", subID),
				slog.String("new_price_id", newPriceID),
				slog.Any("error", rbErr))
		}
		return nil, errors.Join(ErrCheckoutRejected, err)
	}

	updated, err := s.store.UpdateSubscription(ctx, userID, SubscriptionFields{
		SessionID:      &session.ID,
		SubscriptionID: &changed.ID,
	})
	if err != nil {
		return nil, err
	}

	recordTransition(ctx, s.transitions, s.logger, Transition{
		UserID: userID.String(),
		Action: "plan_change_started",
		Before: user.Subscription,
		After:  updated.Subscription,
		At:     s.now(),
	})

	return &CheckoutIntent{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// CancelSubscription cancels at the provider immediately, clears the local
// plan window, and sends a confirmation email once. The customer ID survives
// so a later re-subscription reuses the same provider customer.
func (s *CheckoutService) CancelSubscription(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasSubscription() {
		return nil, ErrSubscriptionNotFound
	}

	canceled, err := s.gateway.CancelSubscription(ctx, user.Subscription.SubscriptionID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	if canceled.Status != StatusCanceled {
		return nil, ErrCancelNotPossible
	}

	updated, err := s.store.UpdateSubscription(ctx, userID, ClearedSubscriptionFields())
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, user.Email,
		"Subscription Canceled",
		"Your subscription has been canceled.")

	recordTransition(ctx, s.transitions, s.logger, Transition{
		UserID: userID.String(),
		Action: "subscription_canceled",
		Before: user.Subscription,
		After:  updated.Subscription,
		At:     s.now(),
	})

	return updated, nil
}

// SubscriptionDetails returns the provider's current view of the user's
// subscription with price and product attached.
func (s *CheckoutService) SubscriptionDetails(ctx context.Context, userID uuid.UUID) (*SubscriptionDetails, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasCustomer() {
		return nil, ErrNoCustomer
	}

	subs, err := s.gateway.ListSubscriptions(ctx, user.Subscription.CustomerID, 1)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	if len(subs) == 0 {
		return nil, ErrSubscriptionNotFound
	}
	sub := subs[0]

	price, err := s.gateway.GetPrice(ctx, sub.PriceID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}
	product, err := s.gateway.GetProduct(ctx, price.ProductID)
	if err != nil {
		return nil, errors.Join(ErrGateway, err)
	}

	return &SubscriptionDetails{Subscription: sub, Price: *price, Product: *product}, nil
}
