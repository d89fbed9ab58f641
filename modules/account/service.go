// Package account implements registration, login and profile retrieval. It
// issues the access tokens the billing module's authenticated routes consume.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrymomot/billingd/pkg/billing"
	"github.com/dmitrymomot/billingd/pkg/jwt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Config holds token issuance settings, populated from the environment.
type Config struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY,required"`
	TokenTTL      time.Duration `env:"JWT_TOKEN_TTL" envDefault:"24h"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"billingd"`
}

// Service handles credentials and token issuance on top of the user store.
type Service struct {
	store    billing.UserStore
	jwtSvc   *jwt.Service
	tokenTTL time.Duration
	issuer   string
}

// NewService creates the account service.
func NewService(store billing.UserStore, jwtSvc *jwt.Service, cfg Config) *Service {
	if store == nil {
		panic("account: UserStore is required")
	}
	if jwtSvc == nil {
		panic("account: jwt.Service is required")
	}
	return &Service{
		store:    store,
		jwtSvc:   jwtSvc,
		tokenTTL: cfg.TokenTTL,
		issuer:   cfg.Issuer,
	}
}

// AuthResult pairs the issued token with the user it authenticates.
type AuthResult struct {
	Token string        `json:"token"`
	User  *billing.User `json:"user"`
}

// Signup registers a new user and signs them in.
// Returns billing.ErrEmailTaken if the email is already registered.
func (s *Service) Signup(ctx context.Context, name, email, phone, password string) (*AuthResult, error) {
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &billing.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		Phone:        strings.TrimSpace(phone),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return s.issueToken(user)
}

// Login verifies credentials and issues a fresh token. Lookup and comparison
// failures collapse into ErrInvalidCredentials so the response does not
// reveal which half was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueToken(user)
}

// Profile returns the current user record.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*billing.User, error) {
	return s.store.FindByID(ctx, userID)
}

// IssueToken mints a fresh access token for the user's current state. Billing
// flows call it after a subscription change so the embedded snapshot does not
// lag the stored record.
func (s *Service) IssueToken(user *billing.User) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.tokenTTL).Unix(),
		},
		UserID:       user.ID,
		Email:        user.Email,
		IsSubscribed: user.IsSubscribed,
		PlanType:     user.Subscription.PlanType,
	}
	return s.jwtSvc.Generate(claims)
}

func (s *Service) issueToken(user *billing.User) (*AuthResult, error) {
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
