package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
	"studyroom-backend/internal/storage"
)

func TestRechargeCreatesMembershipOnFirstUse(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStore()
	svc := NewMembershipService(store, logger.NewLogger())

	profile, rec, err := svc.Recharge(ctx, &models.RechargeRequest{UserID: 5, Amount: 300})
	require.NoError(t, err)
	assert.Equal(t, 300.0, profile.Balance)
	assert.Equal(t, TierStandard, profile.Tier)
	assert.Equal(t, "completed", rec.Status)
	require.NotNil(t, profile.ExpiresAt)

	profile, _, err = svc.Recharge(ctx, &models.RechargeRequest{UserID: 5, Amount: 900})
	require.NoError(t, err)
	assert.Equal(t, 1200.0, profile.Balance)
	assert.Equal(t, TierBronze, profile.Tier)

	history, err := svc.RechargeHistory(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStore()
	svc := NewMembershipService(store, logger.NewLogger())

	_, err := svc.Profile(ctx, 77)
	assert.ErrorIs(t, err, storage.ErrMembershipNotFound)

	now := time.Now().UTC()
	require.NoError(t, store.SaveMembership(ctx, &models.Membership{
		UserID: 77, Balance: 5500, CreatedAt: now, UpdatedAt: now,
	}))

	profile, err := svc.Profile(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, TierGold, profile.Tier)
}

func TestTierForBalance(t *testing.T) {
	cases := []struct {
		balance float64
		tier    string
	}{
		{0, TierStandard},
		{999.99, TierStandard},
		{1000, TierBronze},
		{1999, TierBronze},
		{2000, TierSilver},
		{5000, TierGold},
		{9999, TierGold},
		{10000, TierDiamond},
		{25000, TierDiamond},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.tier, TierForBalance(tc.balance), "balance %.2f", tc.balance)
	}
}

func TestRevenueSummary(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStore()
	svc := NewStatisticsService(store, logger.NewLogger())

	now := time.Now().UTC()
	for _, rec := range []*models.RevenueRecord{
		{Type: models.RevenueMembershipRecharge, Amount: 500, CreatedAt: now.Add(-2 * time.Hour)},
		{Type: models.RevenueServiceSale, Amount: 120, OrderID: "ord_1", CreatedAt: now.Add(-time.Hour)},
		{Type: models.RevenueRefund, Amount: -120, OrderID: "ord_1", CreatedAt: now},
	} {
		require.NoError(t, store.AppendRevenue(ctx, rec))
	}

	summary, err := svc.RevenueSummary(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 500.0, summary.Total)
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, 500.0, summary.ByType[models.RevenueMembershipRecharge])
	assert.Equal(t, 0.0, summary.ByType[models.RevenueServiceSale]+summary.ByType[models.RevenueRefund])

	// Windowed query drops the older rows.
	summary, err = svc.RevenueSummary(ctx, now.Add(-30*time.Minute), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, -120.0, summary.Total)
}
