package store

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crowdfunding/internal/domain"
)

// FindUserByIdentity looks a user up by identity provider uid and falls back to email
func FindUserByIdentity(ctx context.Context, db *gorm.DB, uid, email string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("identity_id = ? OR id = ?", uid, uid).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if email == "" {
		return nil, notFound(err)
	}
	return FindUserByEmail(ctx, db, email)
}

// FindUserByEmail returns the user registered with email
func FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var user domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindUserByID returns the user with primary key id
func FindUserByID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var user domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// UpsertUser inserts u or, when the email is taken, overwrites the profile columns of that row.
// A wallet already stored on the row is kept; u's wallet only fills an empty one.
// The stored row is returned; its id is kept from the first insert.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) (*domain.User, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a concurrent first sign-in makes this a no-op instead of a unique violation
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(u).Error; err != nil {
			return err
		}
		err := tx.Model(&domain.User{}).Where("email = ?", u.Email).Updates(map[string]any{
			"identity_id": u.IdentityID,
			"name":        u.Name,
			"image":       u.Image,
			"role":        u.Role,
		}).Error
		if err != nil || !u.HasWallet() {
			return err
		}
		return tx.Model(&domain.User{}).
			Where("email = ? AND (private_key = '' OR private_key IS NULL)", u.Email).
			Updates(map[string]any{
				"wallet_address": u.WalletAddress,
				"private_key":    u.PrivateKey,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return FindUserByEmail(ctx, db, u.Email)
}

// SetUserWallet stores a freshly generated custodial wallet unless the user already has one.
// It reports whether this call stored it; ErrNotFound means there is no such user.
func SetUserWallet(ctx context.Context, db *gorm.DB, userID, address, encryptedKey string) (bool, error) {
	db = db.WithContext(ctx)
	res := db.Model(&domain.User{}).
		Where("id = ? AND (private_key = '' OR private_key IS NULL)", userID).
		Updates(map[string]any{
			"wallet_address": address,
			"private_key":    encryptedKey,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var n int64
	if err := db.Model(&domain.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// UserStats summarises a user's activity
type UserStats struct {
	CampaignsCreated  int64  `json:"campaigns_created"`
	ContributionsMade int64  `json:"contributions_made"`
	TotalContributed  string `json:"total_contributed"`
}

// GetUserStats counts active campaigns created and contributions made by userID
func GetUserStats(ctx context.Context, db *gorm.DB, userID string) (*UserStats, error) {
	var stats UserStats
	q := db.WithContext(ctx)
	if err := q.Model(&domain.Campaign{}).Where("creator_id = ? AND is_active = ?", userID, true).Count(&stats.CampaignsCreated).Error; err != nil {
		return nil, err
	}
	var amounts []string
	if err := q.Model(&domain.Contribution{}).Where("user_id = ?", userID).Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}
	stats.ContributionsMade = int64(len(amounts))
	stats.TotalContributed = sumAmounts(amounts).String()
	return &stats, nil
}

func sumAmounts(amounts []string) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		// unparsable amounts are skipped
		if d, err := decimal.NewFromString(a); err == nil {
			total = total.Add(d)
		}
	}
	return total
}
