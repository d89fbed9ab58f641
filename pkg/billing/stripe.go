package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`

	// Checkout redirect targets. The session ID placeholder in SuccessURL is
	// filled in by Stripe on redirect.
	SuccessURL string `env:"STRIPE_SUCCESS_URL,required"`
	CancelURL  string `env:"STRIPE_CANCEL_URL,required"`

	// PortalReturnURL is where the billing portal sends the customer back.
	PortalReturnURL string `env:"STRIPE_PORTAL_RETURN_URL,required"`
}

// StripeGateway implements PaymentGateway over the official Stripe SDK.
// A dedicated API client is constructed per gateway instance; nothing relies
// on the SDK's global key.
type StripeGateway struct {
	api    *client.API
	config StripeConfig
}

// NewStripeGateway creates a Stripe-backed payment gateway.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeGateway{api: api, config: cfg}, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	customer, err := g.api.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe customer: %w", err)
	}
	return &Customer{ID: customer.ID, Email: customer.Email, Name: customer.Name}, nil
}

func (g *StripeGateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	customer, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve stripe customer %s: %w", customerID, err)
	}
	if customer.Deleted {
		return "", nil
	}
	return customer.Email, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.config.SuccessURL),
		CancelURL:  stripe.String(g.config.CancelURL),
	}
	params.Context = ctx
	// The user ID in metadata is the correlation anchor for webhooks that
	// arrive before the session is persisted locally.
	params.AddMetadata("userId", req.UserID)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return checkoutSessionFromStripe(session), nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve stripe checkout session %s: %w", sessionID, err)
	}
	return checkoutSessionFromStripe(session), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve stripe subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, req PriceChangeRequest) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(req.ItemID),
				Price: stripe.String(req.PriceID),
			},
		},
	}
	params.Context = ctx
	if req.Prorate {
		params.ProrationBehavior = stripe.String("create_prorations")
		if !req.ProrationDate.IsZero() {
			params.ProrationDate = stripe.Int64(req.ProrationDate.Unix())
		}
	} else {
		params.ProrationBehavior = stripe.String("none")
	}

	sub, err := g.api.Subscriptions.Update(req.SubscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update stripe subscription %s: %w", req.SubscriptionID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (g *StripeGateway) MarkCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("mark stripe subscription %s cancel at period end: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("cancel stripe subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}

	var out []ProviderSubscription
	iter := g.api.Subscriptions.List(params)
	for iter.Next() {
		out = append(out, *subscriptionFromStripe(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list stripe subscriptions for %s: %w", customerID, err)
	}
	return out, nil
}

func (g *StripeGateway) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx

	price, err := g.api.Prices.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve stripe price %s: %w", priceID, err)
	}

	out := &Price{
		ID:       price.ID,
		Amount:   price.UnitAmount,
		Currency: string(price.Currency),
	}
	if price.Product != nil {
		out.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		out.Interval = string(price.Recurring.Interval)
	}
	return out, nil
}

func (g *StripeGateway) GetProduct(ctx context.Context, productID string) (*Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx

	product, err := g.api.Products.Get(productID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve stripe product %s: %w", productID, err)
	}
	return &Product{ID: product.ID, Name: product.Name, Description: product.Description}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(g.config.PortalReturnURL),
	}
	params.Context = ctx

	session, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe billing portal session: %w", err)
	}
	return &PortalSession{URL: session.URL}, nil
}

// ConstructEvent verifies the Stripe-Signature header against the raw body
// and returns the normalized event. Verification must see the body exactly as
// delivered; any re-serialization upstream breaks the HMAC.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.config.WebhookSecret)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerification, err)
	}
	return &Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: event.Data.Raw,
	}, nil
}

func checkoutSessionFromStripe(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:   s.ID,
		URL:  s.URL,
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.Metadata != nil {
		out.UserID = s.Metadata["userId"]
	}
	return out
}

func subscriptionFromStripe(s *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                 s.ID,
		Status:             SubscriptionStatus(s.Status),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		StartDate:          unixTime(s.StartDate),
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CancellationDetails != nil {
		out.CancellationReason = string(s.CancellationDetails.Reason)
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}
