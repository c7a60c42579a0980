package custody

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crowdfunding/internal/domain"
	"crowdfunding/internal/store"
)

// EnsureWallet gives user a custodial wallet when it has none, persisting it and
// updating user in place. It reports whether a wallet was created. When another
// request stored a wallet first, that wallet is loaded into user instead.
func (v *Vault) EnsureWallet(ctx context.Context, db *gorm.DB, user *domain.User) (bool, error) {
	if user.HasWallet() {
		return false, nil
	}
	w, err := v.GenerateWallet()
	if err != nil {
		return false, err
	}
	stored, err := store.SetUserWallet(ctx, db, user.ID, w.Address, w.EncryptedKey)
	if err != nil {
		return false, err
	}
	if !stored {
		current, err := store.FindUserByID(ctx, db, user.ID)
		if err != nil {
			return false, err
		}
		user.WalletAddress = current.WalletAddress
		user.PrivateKey = current.PrivateKey
		return false, nil
	}
	user.WalletAddress = w.Address
	user.PrivateKey = w.EncryptedKey

	logrus.WithFields(logrus.Fields{
		"user_id":        user.ID,
		"wallet_address": w.Address,
	}).Info("custodial wallet created")
	return true, nil
}
