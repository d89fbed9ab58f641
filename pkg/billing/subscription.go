package billing

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the provider's subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// Subscription is the per-user billing snapshot embedded in the User record.
// It always reflects the most recently observed provider state; there is no
// separate subscription aggregate with its own lifecycle.
type Subscription struct {
	// CustomerID is the provider-side customer identifier. Created lazily on
	// the first checkout attempt and immutable thereafter - it is the stable
	// join key between the user and provider state.
	CustomerID string `json:"customerId"`

	// SubscriptionID is the provider-side subscription identifier. Empty means
	// no subscription ever started or the subscription was fully torn down.
	SubscriptionID string `json:"subscriptionId"`

	// SessionID is the provider-side checkout session identifier. Set when a
	// checkout is initiated, cleared once that checkout resolves. Used as a
	// secondary correlation key for webhooks that arrive before the
	// subscription ID is known locally.
	SessionID string `json:"sessionId"`

	PlanID   string `json:"planId"`
	PlanType string `json:"planType"`

	PlanStartDate *time.Time `json:"planStartDate"`
	PlanEndDate   *time.Time `json:"planEndDate"`

	// PlanDuration is the billing period length in whole days, computed as the
	// calendar-day difference between the UTC dates of the period bounds.
	PlanDuration int `json:"planDuration"`
}

// User is the authoritative record: identity fields plus the embedded
// subscription snapshot.
type User struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone"`
	PasswordHash string       `json:"-"`
	IsDeleted    bool         `json:"-"`
	Subscription Subscription `json:"subscription"`

	// IsSubscribed is a derived cache of "subscription status == active".
	// Never authoritative on its own; mutation decisions re-verify against
	// the store or the gateway.
	IsSubscribed bool `json:"is_subscribed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCustomer reports whether a provider customer was ever created for the user.
func (u *User) HasCustomer() bool {
	return u.Subscription.CustomerID != ""
}

// HasSubscription reports whether a provider subscription is currently tracked.
func (u *User) HasSubscription() bool {
	return u.Subscription.SubscriptionID != ""
}

// PeriodDays returns the billing period length in whole days as the
// calendar-day difference between the UTC dates of start and end. Sub-day
// remainders are truncated: a period of 29.5 days yields 29. Both the
// checkout-confirmation path and the webhook-update path use this rule.
func PeriodDays(start, end time.Time) int {
	s := start.UTC()
	e := end.UTC()
	sDay := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	eDay := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	return int(eDay.Sub(sDay) / (24 * time.Hour))
}
