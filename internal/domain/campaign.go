package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Campaign Model
type Campaign struct {
	ID                    string     `gorm:"primaryKey;size:36" json:"id"`                         // UUID
	Title                 string     `gorm:"size:255;not null" json:"title"`                       // Campaign title
	Description           string     `gorm:"type:text" json:"description"`                         // Long description
	Target                string     `gorm:"size:78;not null" json:"target"`                       // Goal in ETH, decimal string
	Deadline              time.Time  `gorm:"not null;index" json:"deadline"`                       // Mirrors the on-chain deadline
	ContractAddress       string     `gorm:"size:42;uniqueIndex;not null" json:"contract_address"` // Deployed campaign contract
	CreatorID             string     `gorm:"size:128;index;not null" json:"creator_id"`            // FK to users.id
	Creator               *User      `gorm:"foreignKey:CreatorID;constraint:OnDelete:CASCADE" json:"-"`
	IsActive              bool       `gorm:"not null;default:true" json:"is_active"`
	WithdrawalProcessed   bool       `gorm:"not null;default:false;index" json:"withdrawal_processed"`
	WithdrawalTxHash      *string    `gorm:"size:66" json:"withdrawal_tx_hash"`
	WithdrawalProcessedAt *time.Time `json:"withdrawal_processed_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was set
func (c *Campaign) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
