package account_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingd/modules/account"
	"github.com/dmitrymomot/billingd/pkg/billing"
	"github.com/dmitrymomot/billingd/pkg/jwt"
)

// memStore is a minimal in-memory UserStore for exercising the account flows.
type memStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*billing.User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uuid.UUID]*billing.User)}
}

func (s *memStore) CreateUser(ctx context.Context, user *billing.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return billing.ErrEmailTaken
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id uuid.UUID) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) FindByEmail(ctx context.Context, email string) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, billing.ErrUserNotFound
}

func (s *memStore) FindBySessionID(ctx context.Context, sessionID string) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Subscription.SessionID == sessionID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, billing.ErrUserNotFound
}

func (s *memStore) ClaimCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", billing.ErrUserNotFound
	}
	if u.Subscription.CustomerID == "" {
		u.Subscription.CustomerID = customerID
	}
	return u.Subscription.CustomerID, nil
}

func (s *memStore) UpdateSubscription(ctx context.Context, userID uuid.UUID, fields billing.SubscriptionFields) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	if fields.CustomerID != nil {
		u.Subscription.CustomerID = *fields.CustomerID
	}
	if fields.SubscriptionID != nil {
		u.Subscription.SubscriptionID = *fields.SubscriptionID
	}
	if fields.SessionID != nil {
		u.Subscription.SessionID = *fields.SessionID
	}
	if fields.IsSubscribed != nil {
		u.IsSubscribed = *fields.IsSubscribed
	}
	cp := *u
	return &cp, nil
}

func newTestService(t *testing.T) (*account.Service, *memStore, *jwt.Service) {
	t.Helper()
	jwtSvc, err := jwt.New("account-test-signing-key-32-bytes!!")
	require.NoError(t, err)
	store := newMemStore()
	svc := account.NewService(store, jwtSvc, account.Config{TokenTTL: time.Hour, Issuer: "test"})
	return svc, store, jwtSvc
}

func TestSignup(t *testing.T) {
	t.Parallel()

	t.Run("creates the user and returns a usable token", func(t *testing.T) {
		t.Parallel()

		svc, _, jwtSvc := newTestService(t)

		result, err := svc.Signup(context.Background(), "Jane", "Jane@Example.com ", "", "secret-password")
		require.NoError(t, err)
		require.NotEmpty(t, result.Token)
		assert.Equal(t, "jane@example.com", result.User.Email)
		assert.NotEqual(t, "secret-password", result.User.PasswordHash)

		var claims account.TokenClaims
		require.NoError(t, jwtSvc.Parse(result.Token, &claims))
		assert.Equal(t, result.User.ID, claims.UserID)
		assert.Equal(t, "test", claims.Issuer)
	})

	t.Run("duplicate email", func(t *testing.T) {
		t.Parallel()

		svc, _, _ := newTestService(t)

		_, err := svc.Signup(context.Background(), "Jane", "jane@example.com", "", "secret-password")
		require.NoError(t, err)
		_, err = svc.Signup(context.Background(), "Janet", "jane@example.com", "", "another-password")
		assert.ErrorIs(t, err, billing.ErrEmailTaken)
	})

	t.Run("short password", func(t *testing.T) {
		t.Parallel()

		svc, _, _ := newTestService(t)
		_, err := svc.Signup(context.Background(), "Jane", "jane@example.com", "", "short")
		assert.ErrorIs(t, err, account.ErrWeakPassword)
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("valid credentials", func(t *testing.T) {
		t.Parallel()

		svc, _, _ := newTestService(t)
		_, err := svc.Signup(context.Background(), "Jane", "jane@example.com", "", "secret-password")
		require.NoError(t, err)

		result, err := svc.Login(context.Background(), "JANE@example.com", "secret-password")
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
	})

	t.Run("wrong password and unknown user look identical", func(t *testing.T) {
		t.Parallel()

		svc, _, _ := newTestService(t)
		_, err := svc.Signup(context.Background(), "Jane", "jane@example.com", "", "secret-password")
		require.NoError(t, err)

		_, errWrongPass := svc.Login(context.Background(), "jane@example.com", "wrong-password")
		_, errNoUser := svc.Login(context.Background(), "nobody@example.com", "secret-password")

		assert.ErrorIs(t, errWrongPass, account.ErrInvalidCredentials)
		assert.ErrorIs(t, errNoUser, account.ErrInvalidCredentials)
	})
}
