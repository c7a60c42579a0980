package domain

import "time"

// Roles a user can pick at sign-in
const (
	RoleUser    = "user"
	RoleCreator = "creator"
)

// ValidRole reports whether r is a role users may hold
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleCreator
}

// User Model
type User struct {
	ID            string    `gorm:"primaryKey;size:128" json:"id"`                      // Identity provider uid at creation
	IdentityID    *string   `gorm:"uniqueIndex;size:128" json:"firebase_id,omitempty"` // Current identity provider uid
	Email         string    `gorm:"uniqueIndex;size:191;not null" json:"email"`        // Unique email
	Name          string    `gorm:"size:255" json:"name"`                              // Display name
	Image         string    `gorm:"size:1024" json:"image"`                            // Avatar URL
	Role          string    `gorm:"size:16;not null;default:user" json:"role"`         // Role: user or creator
	WalletAddress string    `gorm:"size:42" json:"wallet_address"`                     // Custodial wallet address
	PrivateKey    string    `gorm:"size:512" json:"-"`                                 // Encrypted private key, iv:ciphertext
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasWallet reports whether a custodial key has been stored for the user
func (u *User) HasWallet() bool {
	return u.PrivateKey != ""
}
