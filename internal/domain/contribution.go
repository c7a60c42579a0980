package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contribution Model
type Contribution struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`             // UUID
	Amount     string    `gorm:"size:78;not null" json:"amount"`           // ETH, decimal string
	CampaignID string    `gorm:"size:36;index;not null" json:"campaign_id"` // FK to campaigns.id
	Campaign   *Campaign `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	UserID     string    `gorm:"size:128;index;not null" json:"user_id"` // FK to users.id
	User       *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	TxHash     *string   `gorm:"size:66" json:"tx_hash"` // Contribution transaction
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate assigns a UUID when none was set
func (c *Contribution) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
