package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
	"studyroom-backend/internal/storage"
	"studyroom-backend/internal/utils"
)

// Membership tiers by current balance.
const (
	TierStandard = "standard"
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierDiamond  = "diamond"
)

// MembershipProfile is a membership with its derived tier.
type MembershipProfile struct {
	*models.Membership
	Tier string `json:"tier"`
}

type MembershipService struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewMembershipService(store storage.Store, log *logger.Logger) *MembershipService {
	return &MembershipService{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Recharge adds funds to a user's balance. First recharge creates the
// membership. The balance increment, the recharge record, the expiry
// extension and the revenue row commit together.
func (s *MembershipService) Recharge(ctx context.Context, req *models.RechargeRequest) (*MembershipProfile, *models.Recharge, error) {
	now := s.now().UTC()
	rec := &models.Recharge{
		ID:        utils.GenerateRechargeID(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Status:    "completed",
		CreatedAt: now,
	}

	membership, err := s.store.RechargeMembership(ctx, rec)
	if errors.Is(err, storage.ErrMembershipNotFound) {
		if err := s.store.SaveMembership(ctx, &models.Membership{
			UserID:    req.UserID,
			Balance:   0,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to create membership: %w", err)
		}
		s.log.Info("MEMBERSHIP", fmt.Sprintf("Created membership for user %d on first recharge", req.UserID))
		membership, err = s.store.RechargeMembership(ctx, rec)
	}
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("MEMBERSHIP", fmt.Sprintf("User %d recharged %.2f, balance now %.2f", req.UserID, req.Amount, membership.Balance))
	return s.profile(membership), rec, nil
}

// Profile returns the membership with its tier for a user.
func (s *MembershipService) Profile(ctx context.Context, userID int64) (*MembershipProfile, error) {
	membership, err := s.store.GetMembershipByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(membership), nil
}

func (s *MembershipService) RechargeHistory(ctx context.Context, userID int64) ([]*models.Recharge, error) {
	return s.store.ListRecharges(ctx, userID)
}

func (s *MembershipService) profile(m *models.Membership) *MembershipProfile {
	return &MembershipProfile{Membership: m, Tier: TierForBalance(m.Balance)}
}

// TierForBalance maps the current balance to a tier.
func TierForBalance(balance float64) string {
	switch {
	case balance >= 10000:
		return TierDiamond
	case balance >= 5000:
		return TierGold
	case balance >= 2000:
		return TierSilver
	case balance >= 1000:
		return TierBronze
	default:
		return TierStandard
	}
}
