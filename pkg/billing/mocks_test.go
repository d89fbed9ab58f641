package billing_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/billingd/pkg/billing"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*billing.Customer, error) {
	args := m.Called(ctx, email, name, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Customer), args.Error(1)
}

func (m *mockGateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockGateway) GetSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockGateway) UpdateSubscriptionPrice(ctx context.Context, req billing.PriceChangeRequest) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockGateway) MarkCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockGateway) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]billing.ProviderSubscription, error) {
	args := m.Called(ctx, customerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.ProviderSubscription), args.Error(1)
}

func (m *mockGateway) GetPrice(ctx context.Context, priceID string) (*billing.Price, error) {
	args := m.Called(ctx, priceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Price), args.Error(1)
}

func (m *mockGateway) GetProduct(ctx context.Context, productID string) (*billing.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Product), args.Error(1)
}

func (m *mockGateway) CreatePortalSession(ctx context.Context, customerID string) (*billing.PortalSession, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalSession), args.Error(1)
}

func (m *mockGateway) ConstructEvent(payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateUser(ctx context.Context, user *billing.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockStore) FindByID(ctx context.Context, id uuid.UUID) (*billing.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.User), args.Error(1)
}

func (m *mockStore) FindByEmail(ctx context.Context, email string) (*billing.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.User), args.Error(1)
}

func (m *mockStore) FindBySessionID(ctx context.Context, sessionID string) (*billing.User, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.User), args.Error(1)
}

func (m *mockStore) ClaimCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	args := m.Called(ctx, userID, customerID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) UpdateSubscription(ctx context.Context, userID uuid.UUID, fields billing.SubscriptionFields) (*billing.User, error) {
	args := m.Called(ctx, userID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.User), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, recipient, subject, bodyHTML string) {
	m.Called(ctx, recipient, subject, bodyHTML)
}

type mockReminders struct {
	mock.Mock
}

func (m *mockReminders) ScheduleRenewalReminder(email string, periodEnd time.Time) {
	m.Called(email, periodEnd)
}

type mockTransitionLog struct {
	mock.Mock
}

func (m *mockTransitionLog) Record(ctx context.Context, t billing.Transition) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}
