package billing

import (
	"context"
	"encoding/json"
	"time"
)

// PaymentGateway is the thin interface to the external billing provider.
// Implementations use the provider's official SDK and keep provider-specific
// quirks internal; callers only see normalized types.
//
// Every method that talks to the provider either completes or fails outright;
// there is no in-process retry loop. Verification of inbound events happens
// exclusively in ConstructEvent, over the raw body exactly as received.
type PaymentGateway interface {
	// CreateCustomer registers a provider-side customer. The metadata carries
	// the internal user ID so provider objects can always be traced back.
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error)

	// CustomerEmail resolves a provider customer ID to its billing email.
	CustomerEmail(ctx context.Context, customerID string) (string, error)

	// CreateCheckoutSession opens a hosted checkout for the given price.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// GetCheckoutSession retrieves a previously created checkout session.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// UpdateSubscriptionPrice swaps the subscription's single item to a new
	// price. Used both for the prorated plan change and for the compensating
	// rollback with proration disabled.
	UpdateSubscriptionPrice(ctx context.Context, req PriceChangeRequest) (*ProviderSubscription, error)

	// MarkCancelAtPeriodEnd flags the subscription to terminate when the paid
	// period ends instead of cancelling immediately.
	MarkCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error

	// CancelSubscription cancels immediately and returns the final state.
	CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// ListSubscriptions returns up to limit subscriptions for the customer,
	// most recent first.
	ListSubscriptions(ctx context.Context, customerID string, limit int) ([]ProviderSubscription, error)

	GetPrice(ctx context.Context, priceID string) (*Price, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// CreatePortalSession opens a provider-hosted billing portal session.
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error)

	// ConstructEvent verifies the signature of an inbound webhook payload and
	// returns the normalized event. The payload must be the raw request body
	// with no re-serialization. Returns ErrWebhookVerification on a bad
	// signature; no event is processed in that case.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}

// Customer is a provider-side customer.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CheckoutSessionRequest describes a hosted checkout to create.
type CheckoutSessionRequest struct {
	PriceID    string // provider price to purchase
	CustomerID string // provider customer, optional for first checkout
	UserID     string // internal user ID, carried in session metadata
}

// CheckoutSession is a provider-hosted checkout flow.
type CheckoutSession struct {
	ID             string
	URL            string // hosted checkout / redirect URL
	CustomerID     string
	SubscriptionID string // set once the provider attaches a subscription
	Paid           bool   // payment_status == paid
	UserID         string // internal user ID from session metadata
}

// ProviderSubscription is the provider's authoritative subscription object.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	PriceID            string // price of the single subscription item
	ItemID             string // subscription item ID, needed for price changes
	Status             SubscriptionStatus
	CancelAtPeriodEnd  bool
	CancellationReason string // e.g. "cancellation_requested"
	StartDate          time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// IsActive reports whether the provider considers the subscription active.
func (s *ProviderSubscription) IsActive() bool {
	return s.Status == StatusActive
}

// Price is a provider price object.
type Price struct {
	ID        string
	ProductID string
	Interval  string // month, year
	Amount    int64
	Currency  string
}

// Product is a provider product object.
type Product struct {
	ID          string
	Name        string
	Description string
}

// PortalSession is a pre-authenticated billing portal session.
type PortalSession struct {
	URL string
}

// PriceChangeRequest swaps a subscription item to a new price.
type PriceChangeRequest struct {
	SubscriptionID string
	ItemID         string
	PriceID        string
	Prorate        bool      // create prorations vs. none
	ProrationDate  time.Time // anchor, ignored when Prorate is false
}

// Event is a verified, normalized provider event. Payload holds the raw JSON
// of the event's data object; handlers decode only the fields they need.
type Event struct {
	ID      string
	Type    string
	Payload json.RawMessage
}

// Provider event types the reconciliation engine dispatches on.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventInvoicePaid              = "invoice.paid"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventSubscriptionUpdated      = "customer.subscription.updated"
)

// CancellationRequested is the provider's cancellation_details.reason value
// for a user-requested cancellation.
const CancellationRequested = "cancellation_requested"
