package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policyNow = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

func TestRefundPolicy_Tiers(t *testing.T) {
	tests := []struct {
		name     string
		checkIn  time.Time
		wantDays int
		wantTier RefundTier
	}{
		{"30 days before", policyNow.Add(30 * day), 30, TierFullRefund},
		{"exactly 7 days", policyNow.Add(7 * day), 7, TierFullRefund},
		{"one nanosecond under 7 days", policyNow.Add(7*day - time.Nanosecond), 6, TierHalfRefund},
		{"exactly 3 days", policyNow.Add(3 * day), 3, TierHalfRefund},
		{"one second under 3 days", policyNow.Add(3*day - time.Second), 2, TierPartialRefund},
		{"exactly 1 day", policyNow.Add(day), 1, TierPartialRefund},
		{"one second under 1 day", policyNow.Add(day - time.Second), 0, TierNoRefund},
		{"check-in now", policyNow, 0, TierNoRefund},
		{"one hour after check-in", policyNow.Add(-time.Hour), -1, TierNoRefund},
		{"two days after check-in", policyNow.Add(-2 * day), -2, TierNoRefund},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewRefundPolicy(tt.checkIn, policyNow)
			assert.Equal(t, tt.wantDays, policy.DaysBeforeCheckIn())
			assert.Equal(t, tt.wantTier, policy.Tier())
			assert.Equal(t, tt.wantTier.Percent, policy.RefundRate())
			assert.Equal(t, tt.wantTier.Percent > 0, policy.IsRefundable())
		})
	}
}

func TestRefundPolicy_CalculateRefundAmount(t *testing.T) {
	original := mustMoney(t, 50000)

	amount, err := NewRefundPolicy(policyNow.Add(6*day), policyNow).CalculateRefundAmount(original)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), amount.Amount())

	amount, err = NewRefundPolicy(policyNow.Add(10*day), policyNow).CalculateRefundAmount(original)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), amount.Amount())

	amount, err = NewRefundPolicy(policyNow.Add(-day), policyNow).CalculateRefundAmount(original)
	require.NoError(t, err)
	assert.True(t, amount.IsZero())
}

func TestRefundPolicy_Monotonic(t *testing.T) {
	original := mustMoney(t, 123457)
	var previous int64 = -1

	for hours := -72; hours <= 24*14; hours++ {
		policy := NewRefundPolicy(policyNow.Add(time.Duration(hours)*time.Hour), policyNow)
		amount, err := policy.CalculateRefundAmount(original)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, amount.Amount(), previous, "hours before check-in: %d", hours)
		assert.LessOrEqual(t, amount.Amount(), original.Amount())
		assert.GreaterOrEqual(t, amount.Amount(), int64(0))
		previous = amount.Amount()
	}
}
