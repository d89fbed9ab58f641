package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionFields lists subscription fields to apply as one atomic write.
// Nil pointers leave the stored field untouched. For the date fields, a
// pointer to the zero time clears the stored value to null; the cancellation
// flows use this to tear the plan window down.
//
// Partial visibility of a multi-field update to a concurrent reader is
// disallowed: implementations must apply all listed fields in a single write.
type SubscriptionFields struct {
	CustomerID     *string
	SubscriptionID *string
	SessionID      *string
	PlanID         *string
	PlanType       *string
	PlanStartDate  *time.Time
	PlanEndDate    *time.Time
	PlanDuration   *int
	IsSubscribed   *bool
}

// ClearedSubscriptionFields returns the field set that tears down the plan
// window after a cancellation: identifiers and plan fields emptied, dates
// nulled, subscribed flag off. The customer ID is deliberately untouched.
func ClearedSubscriptionFields() SubscriptionFields {
	return SubscriptionFields{
		SessionID:     ptr(""),
		PlanID:        ptr(""),
		PlanType:      ptr(""),
		PlanStartDate: ptr(time.Time{}),
		PlanEndDate:   ptr(time.Time{}),
		PlanDuration:  ptr(0),
		IsSubscribed:  ptr(false),
	}
}

// UserStore owns the authoritative per-user subscription snapshot.
type UserStore interface {
	// CreateUser persists a new user. Returns ErrEmailTaken if the email is
	// already registered.
	CreateUser(ctx context.Context, user *User) error

	// FindByID returns ErrUserNotFound if the record is absent.
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FindByEmail returns ErrUserNotFound if no user has the given email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindBySessionID correlates a checkout session to its user.
	// Returns ErrUserNotFound if no user carries the session ID.
	FindBySessionID(ctx context.Context, sessionID string) (*User, error)

	// ClaimCustomerID sets the user's provider customer ID only if none is
	// recorded yet, and returns the customer ID that won. Two concurrent
	// claims for the same user both observe the same winning ID, which keeps
	// customer creation idempotent under retry.
	ClaimCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error)

	// UpdateSubscription applies the listed fields to the user's subscription
	// block as a single write and returns the updated record.
	UpdateSubscription(ctx context.Context, userID uuid.UUID, fields SubscriptionFields) (*User, error)
}

func ptr[T any](v T) *T { return &v }
