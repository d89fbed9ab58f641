package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Reconciler is the event-driven state machine that converges the local
// subscription snapshot to the provider's authoritative state. Events arrive
// at least once and in no guaranteed order, so every handler is written to be
// safe under redelivery: state writes are rebuilt from the event payload and
// applied as one targeted write, and the only tolerated duplicate side effect
// is a repeated notification email.
type Reconciler struct {
	gateway     PaymentGateway
	store       UserStore
	dispatcher  Dispatcher
	reminders   ReminderScheduler
	transitions TransitionLog
	logger      *slog.Logger

	handlers map[string]func(ctx context.Context, event *Event) error
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerTransitionLog enables the append-only audit trail.
func WithReconcilerTransitionLog(l TransitionLog) ReconcilerOption {
	return func(r *Reconciler) { r.transitions = l }
}

// WithReconcilerLogger sets the engine logger.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler creates the reconciliation engine with its dispatch table.
// Panics on nil required dependencies to fail fast during initialization.
func NewReconciler(gateway PaymentGateway, store UserStore, dispatcher Dispatcher, reminders ReminderScheduler, opts ...ReconcilerOption) *Reconciler {
	if gateway == nil {
		panic("billing: PaymentGateway is required")
	}
	if store == nil {
		panic("billing: UserStore is required")
	}
	if dispatcher == nil {
		panic("billing: Dispatcher is required")
	}
	if reminders == nil {
		panic("billing: ReminderScheduler is required")
	}

	r := &Reconciler{
		gateway:    gateway,
		store:      store,
		dispatcher: dispatcher,
		reminders:  reminders,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.handlers = map[string]func(ctx context.Context, event *Event) error{
		EventCheckoutSessionCompleted: r.handleCheckoutSessionCompleted,
		EventPaymentIntentSucceeded:   r.handlePaymentIntentSucceeded,
		EventPaymentIntentFailed:      r.handlePaymentIntentFailed,
		EventInvoicePaid:              r.handleInvoicePaid,
		EventInvoicePaymentFailed:     r.handleInvoicePaymentFailed,
		EventSubscriptionUpdated:      r.handleSubscriptionUpdated,
	}

	return r
}

// Handle verifies and dispatches one inbound webhook delivery. The payload
// must be the raw request body exactly as received; a bad signature returns
// ErrWebhookVerification and nothing is processed. Event types outside the
// dispatch table are logged and accepted - an unrecognized-but-valid event
// must never fail the provider's retry loop.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := r.gateway.ConstructEvent(payload, signature)
	if err != nil {
		return err
	}

	handler, ok := r.handlers[event.Type]
	if !ok {
		r.logger.WarnContext(ctx, "unhandled webhook event type",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type))
		return nil
	}

	if err := handler(ctx, event); err != nil {
		return fmt.Errorf("handle %s event %s: %w", event.Type, event.ID, err)
	}
	return nil
}

// checkoutSessionPayload carries the fields this engine reads from a
// checkout.session.completed data object.
type checkoutSessionPayload struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type customerRefPayload struct {
	Customer string `json:"customer"`
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`

	CancellationDetails struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`

	Items struct {
		Data []struct {
			Plan struct {
				ID       string `json:"id"`
				Interval string `json:"interval"`
			} `json:"plan"`
		} `json:"data"`
	} `json:"items"`
}

// handleCheckoutSessionCompleted correlates the session to a user and, when
// the checkout supersedes an older active subscription, marks that prior
// subscription to cancel at period end instead of cutting paid-for access
// immediately. The local record itself is converged by the client's confirm
// call or the subsequent customer.subscription.updated event.
func (r *Reconciler) handleCheckoutSessionCompleted(ctx context.Context, event *Event) error {
	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Payload, &session); err != nil {
		return fmt.Errorf("decode checkout session payload: %w", err)
	}

	user, err := r.correlateSession(ctx, session)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			r.logger.WarnContext(ctx, "checkout session does not correlate to a known user",
				slog.String("event_id", event.ID),
				slog.String("session_id", session.ID))
			return nil
		}
		return err
	}

	email, ok := r.resolveEmail(ctx, session.Customer, event)
	if !ok {
		return nil
	}

	// A new checkout while an older subscription is still active: wind the
	// old one down at period end rather than cancelling it outright.
	if prior := user.Subscription.SubscriptionID; prior != "" && prior != session.Subscription {
		existing, err := r.gateway.GetSubscription(ctx, prior)
		if err != nil {
			return errors.Join(ErrGateway, err)
		}
		if existing.IsActive() && !existing.CancelAtPeriodEnd {
			if err := r.gateway.MarkCancelAtPeriodEnd(ctx, prior); err != nil {
				return errors.Join(ErrGateway, err)
			}
		}
	}

	r.dispatcher.Dispatch(ctx, email,
		"Subscription Created",
		"Your subscription has been successfully created.")
	return nil
}

func (r *Reconciler) handlePaymentIntentSucceeded(ctx context.Context, event *Event) error {
	var intent customerRefPayload
	if err := json.Unmarshal(event.Payload, &intent); err != nil {
		return fmt.Errorf("decode payment intent payload: %w", err)
	}

	email, ok := r.resolveEmail(ctx, intent.Customer, event)
	if !ok {
		return nil
	}

	r.dispatcher.Dispatch(ctx, email,
		"Payment Succeeded",
		"Your payment has been successfully processed.")
	return nil
}

func (r *Reconciler) handlePaymentIntentFailed(ctx context.Context, event *Event) error {
	var intent customerRefPayload
	if err := json.Unmarshal(event.Payload, &intent); err != nil {
		return fmt.Errorf("decode payment intent payload: %w", err)
	}

	email, ok := r.resolveEmail(ctx, intent.Customer, event)
	if !ok {
		return nil
	}

	// Recorded only; no customer-facing email for failed payments yet.
	// TODO: notify the customer once the dunning copy is finalized.
	r.logger.WarnContext(ctx, "payment failed",
		slog.String("event_id", event.ID),
		slog.String("customer_email", email))
	return nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event *Event) error {
	var invoice customerRefPayload
	if err := json.Unmarshal(event.Payload, &invoice); err != nil {
		return fmt.Errorf("decode invoice payload: %w", err)
	}

	email, ok := r.resolveEmail(ctx, invoice.Customer, event)
	if !ok {
		return nil
	}

	r.dispatcher.Dispatch(ctx, email,
		"Invoice Paid",
		"Your invoice has been paid successfully.")
	return nil
}

func (r *Reconciler) handleInvoicePaymentFailed(ctx context.Context, event *Event) error {
	var invoice customerRefPayload
	if err := json.Unmarshal(event.Payload, &invoice); err != nil {
		return fmt.Errorf("decode invoice payload: %w", err)
	}

	email, ok := r.resolveEmail(ctx, invoice.Customer, event)
	if !ok {
		return nil
	}

	r.logger.WarnContext(ctx, "invoice payment failed",
		slog.String("event_id", event.ID),
		slog.String("customer_email", email))
	return nil
}

// handleSubscriptionUpdated rewrites the plan fields from the event payload.
// A cancellation_requested event instead nulls the plan window and forces the
// subscribed flag off. The whole field set is applied as one write, so
// redelivery reproduces the same record.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event *Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Payload, &sub); err != nil {
		return fmt.Errorf("decode subscription payload: %w", err)
	}

	email, ok := r.resolveEmail(ctx, sub.Customer, event)
	if !ok {
		return nil
	}

	user, err := r.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			r.logger.WarnContext(ctx, "subscription update for unknown user",
				slog.String("event_id", event.ID),
				slog.String("customer_email", email))
			return nil
		}
		return err
	}

	var planID, planType string
	if len(sub.Items.Data) > 0 {
		planID = sub.Items.Data[0].Plan.ID
		planType = sub.Items.Data[0].Plan.Interval
	}

	start := unixTime(sub.CurrentPeriodStart)
	end := unixTime(sub.CurrentPeriodEnd)
	duration := 0
	if !start.IsZero() && !end.IsZero() {
		duration = PeriodDays(start, end)
	}
	active := sub.Status == string(StatusActive)

	fields := SubscriptionFields{
		PlanID:        &planID,
		PlanType:      &planType,
		PlanStartDate: &start,
		PlanEndDate:   &end,
		PlanDuration:  &duration,
		IsSubscribed:  &active,
	}

	subject := "Subscription Updated"
	body := "Your subscription has been updated."
	if sub.CancellationDetails.Reason == CancellationRequested {
		fields.PlanStartDate = ptr(time.Time{})
		fields.PlanEndDate = ptr(time.Time{})
		fields.PlanDuration = ptr(0)
		fields.IsSubscribed = ptr(false)
		subject = "Subscription Canceled"
		body = "Your subscription has been canceled."
	}

	updated, err := r.store.UpdateSubscription(ctx, user.ID, fields)
	if err != nil {
		return err
	}

	recordTransition(ctx, r.transitions, r.logger, Transition{
		UserID:  user.ID.String(),
		EventID: event.ID,
		Action:  "subscription_updated",
		Before:  user.Subscription,
		After:   updated.Subscription,
		At:      time.Now().UTC(),
	})

	r.dispatcher.Dispatch(ctx, email, subject, body)

	if active && !end.IsZero() && sub.CancellationDetails.Reason != CancellationRequested {
		r.reminders.ScheduleRenewalReminder(email, end)
	}
	return nil
}

// correlateSession finds the user a checkout session concerns: the persisted
// session ID is preferred, the session metadata's userId is the fallback for
// deliveries that beat the orchestrator's own session write.
func (r *Reconciler) correlateSession(ctx context.Context, session checkoutSessionPayload) (*User, error) {
	user, err := r.store.FindBySessionID(ctx, session.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	rawID, ok := session.Metadata["userId"]
	if !ok {
		return nil, ErrUserNotFound
	}
	userID, parseErr := uuid.Parse(rawID)
	if parseErr != nil {
		return nil, ErrUserNotFound
	}
	return r.store.FindByID(ctx, userID)
}

// resolveEmail asks the gateway for the customer's billing email. Events
// whose customer cannot be resolved are logged and skipped: the provider
// cannot fix that by retrying.
func (r *Reconciler) resolveEmail(ctx context.Context, customerID string, event *Event) (string, bool) {
	if customerID == "" {
		r.logger.WarnContext(ctx, "event carries no customer reference",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type))
		return "", false
	}

	email, err := r.gateway.CustomerEmail(ctx, customerID)
	if err != nil || email == "" {
		r.logger.WarnContext(ctx, "failed to resolve customer email",
			slog.String("event_id", event.ID),
			slog.String("customer_id", customerID),
			slog.Any("error", err))
		return "", false
	}
	return email, true
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
