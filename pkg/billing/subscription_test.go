package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingd/pkg/billing"
)

func TestPeriodDays(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{
			name:  "exact 30 day month",
			start: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC),
			want:  30,
		},
		{
			name:  "half day remainder truncates",
			start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC),
			want:  29,
		},
		{
			name:  "sub day period",
			start: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
			want:  0,
		},
		{
			name:  "leap year february",
			start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			want:  29,
		},
		{
			name:  "year boundary",
			start: time.Date(2025, 12, 28, 23, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC),
			want:  5,
		},
		{
			name:  "non utc inputs are normalized to utc dates",
			start: time.Date(2026, 3, 1, 23, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			end:   time.Date(2026, 3, 31, 23, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			want:  30,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, billing.PeriodDays(tc.start, tc.end))
		})
	}
}

func TestUserHelpers(t *testing.T) {
	t.Parallel()

	u := &billing.User{}
	assert.False(t, u.HasCustomer())
	assert.False(t, u.HasSubscription())

	u.Subscription.CustomerID = "cus_1"
	assert.True(t, u.HasCustomer())
	assert.False(t, u.HasSubscription())

	u.Subscription.SubscriptionID = "sub_1"
	assert.True(t, u.HasSubscription())
}
