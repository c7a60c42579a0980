package api

import (
	"net/http" // HTTP status codes
	"time"     // Cache TTL

	"crowdfunding/internal/chain"      // Contract client
	"crowdfunding/internal/custody"    // Custodial keys
	"crowdfunding/internal/middleware" // Current user
	"crowdfunding/internal/utils"      // Cache helpers

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// WalletBalanceHandler returns the on-chain balance of the user's stored wallet address
func WalletBalanceHandler(rdb *redis.Client, client chain.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user.WalletAddress == "" {
			fail(c, http.StatusNotFound, "Wallet not found")
			return
		}
		ctx := c.Request.Context()
		cacheKey := utils.WalletBalanceKey(user.WalletAddress) // Cache key for balance
		var cached string
		// If found in cache, return it
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{"success": true, "balance": cached, "walletAddress": user.WalletAddress, "cached": true})
			return
		}
		wei, err := client.Balance(ctx, user.WalletAddress)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("balance lookup failed")
			status, msg := chainFailure(err, "Failed to fetch balance")
			fail(c, status, msg)
			return
		}
		balance := chain.FormatEther(wei)
		_ = utils.SetCache(ctx, rdb, cacheKey, balance, 10*time.Second) // Cache the balance for 10 seconds
		c.JSON(http.StatusOK, gin.H{"success": true, "balance": balance, "walletAddress": user.WalletAddress, "cached": false})
	}
}

// CheckBalanceHandler derives the wallet from the stored key and reports whether it can pay for gas
func CheckBalanceHandler(client chain.Client, vault *custody.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if !user.HasWallet() {
			fail(c, http.StatusBadRequest, "No wallet found for user")
			return
		}
		key, err := vault.PrivateKey(user.PrivateKey)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("stored key unusable")
			fail(c, http.StatusInternalServerError, "Failed to access wallet")
			return
		}
		address := custody.Address(key)
		wei, err := client.Balance(c.Request.Context(), address)
		if err != nil {
			status, msg := chainFailure(err, "Failed to check balance")
			fail(c, status, msg)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"walletAddress":   address,
			"balance":         chain.FormatEther(wei),
			"balanceWei":      wei.String(),
			"hasEnoughForGas": wei.Cmp(chain.GasReserve) > 0, // More than 0.001 ETH
		})
	}
}
