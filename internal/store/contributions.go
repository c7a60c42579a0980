package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"crowdfunding/internal/domain"
)

// CreateContribution records a confirmed on-chain contribution
func CreateContribution(ctx context.Context, db *gorm.DB, c *domain.Contribution) error {
	return db.WithContext(ctx).Create(c).Error
}

// ContributionRecord is a contribution joined with its campaign and contributor
type ContributionRecord struct {
	ID              string    `json:"id"`
	Amount          string    `json:"amount"`
	CampaignID      string    `json:"campaign_id"`
	UserID          string    `json:"user_id"`
	TxHash          *string   `json:"tx_hash"`
	CreatedAt       time.Time `json:"created_at"`
	CampaignTitle   string    `json:"campaign_title"`
	CampaignAddress string    `json:"campaign_address"`
	ContributorName string    `json:"contributor_name"`
}

func contributionRecords(db *gorm.DB) *gorm.DB {
	return db.Table("contributions").
		Select("contributions.id, contributions.amount, contributions.campaign_id, contributions.user_id, " +
			"contributions.tx_hash, contributions.created_at, campaigns.title AS campaign_title, " +
			"campaigns.contract_address AS campaign_address, users.name AS contributor_name").
		Joins("JOIN campaigns ON campaigns.id = contributions.campaign_id").
		Joins("JOIN users ON users.id = contributions.user_id")
}

// ContributionsByUser pages through a user's contributions, newest first
func ContributionsByUser(ctx context.Context, db *gorm.DB, userID string, p Page) ([]ContributionRecord, int64, error) {
	return pageContributions(ctx, db, "contributions.user_id = ?", userID, p)
}

// ContributionsByCampaign pages through the contributions to a campaign, newest first
func ContributionsByCampaign(ctx context.Context, db *gorm.DB, campaignID string, p Page) ([]ContributionRecord, int64, error) {
	return pageContributions(ctx, db, "contributions.campaign_id = ?", campaignID, p)
}

func pageContributions(ctx context.Context, db *gorm.DB, where string, arg any, p Page) ([]ContributionRecord, int64, error) {
	db = db.WithContext(ctx)
	var total int64
	if err := db.Table("contributions").Where(where, arg).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	records := []ContributionRecord{}
	err := contributionRecords(db).
		Where(where, arg).
		Order("contributions.created_at DESC").
		Offset(p.Offset()).
		Limit(p.PageSize).
		Scan(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
