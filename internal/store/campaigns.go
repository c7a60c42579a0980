package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"crowdfunding/internal/domain"
)

// CreateCampaign persists a campaign that was just deployed on chain
func CreateCampaign(ctx context.Context, db *gorm.DB, c *domain.Campaign) error {
	return db.WithContext(ctx).Create(c).Error
}

// ActiveCampaigns lists campaigns flagged active, newest first
func ActiveCampaigns(ctx context.Context, db *gorm.DB) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	err := db.WithContext(ctx).Preload("Creator").
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&campaigns).Error
	return campaigns, err
}

// CampaignsByCreator lists every campaign of a creator, newest first
func CampaignsByCreator(ctx context.Context, db *gorm.DB, creatorID string) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	err := db.WithContext(ctx).Preload("Creator").
		Where("creator_id = ?", creatorID).
		Order("created_at DESC").
		Find(&campaigns).Error
	return campaigns, err
}

// CampaignByAddress finds the campaign deployed at address
func CampaignByAddress(ctx context.Context, db *gorm.DB, address string) (*domain.Campaign, error) {
	var c domain.Campaign
	if err := db.WithContext(ctx).Preload("Creator").Where("contract_address = ?", address).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ExpiredUnprocessed lists campaigns whose deadline passed before now and whose
// withdrawal has not been handled, oldest deadline first
func ExpiredUnprocessed(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	err := db.WithContext(ctx).
		Where("deadline < ? AND withdrawal_processed = ?", now.UTC(), false).
		Order("deadline ASC").
		Find(&campaigns).Error
	return campaigns, err
}

// MarkWithdrawalProcessed flags the campaign as settled. It reports false when
// another caller already flagged it. An empty txHash leaves the hash column NULL.
func MarkWithdrawalProcessed(ctx context.Context, db *gorm.DB, campaignID, txHash string) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"withdrawal_processed":    true,
		"withdrawal_processed_at": now,
	}
	if txHash != "" {
		updates["withdrawal_tx_hash"] = txHash
	}
	res := db.WithContext(ctx).Model(&domain.Campaign{}).
		Where("id = ? AND withdrawal_processed = ?", campaignID, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ContributionStats is the off-chain tally of a campaign
type ContributionStats struct {
	Count int64
	Total decimal.Decimal
}

// GetContributionStats counts and sums the recorded contributions of a campaign
func GetContributionStats(ctx context.Context, db *gorm.DB, campaignID string) (ContributionStats, error) {
	var amounts []string
	err := db.WithContext(ctx).Model(&domain.Contribution{}).
		Where("campaign_id = ?", campaignID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return ContributionStats{Total: decimal.Zero}, err
	}
	return ContributionStats{Count: int64(len(amounts)), Total: sumAmounts(amounts)}, nil
}
