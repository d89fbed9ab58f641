package account

import (
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingd/pkg/jwt"
)

// TokenClaims is the authenticated identity embedded in access tokens. The
// subscription fields are a hint frozen at issue time; mutation endpoints
// always re-read the store before acting on them.
type TokenClaims struct {
	jwt.StandardClaims

	UserID       uuid.UUID `json:"userId"`
	Email        string    `json:"email"`
	IsSubscribed bool      `json:"isSubscribed"`
	PlanType     string    `json:"planType,omitempty"`
}
