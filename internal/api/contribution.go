package api

import (
	"encoding/json" // json.Number accepts numbers and numeric strings
	"errors"        // Error matching
	"net/http"      // HTTP status codes
	"time"          // Cache TTL

	"crowdfunding/internal/chain"      // Contract client
	"crowdfunding/internal/custody"    // Custodial keys
	"crowdfunding/internal/domain"     // Importing domain models
	"crowdfunding/internal/middleware" // Current user
	"crowdfunding/internal/settlement" // Auto-withdrawal
	"crowdfunding/internal/store"      // Queries
	"crowdfunding/internal/utils"      // Cache helpers

	"github.com/gin-gonic/gin"         // Gin web framework
	"github.com/gin-gonic/gin/binding" // Repeatable body binding
	"github.com/redis/go-redis/v9"     // Redis client
	"github.com/sirupsen/logrus"       // Logging library
	"gorm.io/gorm"                     // GORM ORM library
)

// ContributeRequest is the body of POST /api/blockchain/contribute
type ContributeRequest struct {
	CampaignAddress string      `json:"campaignAddress"` // Campaign contract
	Amount          json.Number `json:"amount"`          // ETH, decimal
}

// ContributeHandler sends ETH from the user's custodial wallet to a campaign
func ContributeHandler(db *gorm.DB, rdb *redis.Client, client chain.Client, vault *custody.Vault, settler *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		var req ContributeRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || req.CampaignAddress == "" || req.Amount == "" {
			fail(c, http.StatusBadRequest, "Missing required fields: idToken, campaignAddress, amount")
			return
		}
		amount, err := chain.ParseEther(req.Amount.String())
		if err != nil || amount.Sign() <= 0 {
			fail(c, http.StatusBadRequest, "Invalid contribution amount")
			return
		}
		if !chain.ValidAddress(req.CampaignAddress) {
			fail(c, http.StatusBadRequest, "Invalid campaign address format")
			return
		}
		address := chain.Checksum(req.CampaignAddress)
		ctx := c.Request.Context()
		log := logrus.WithFields(logrus.Fields{"user_id": user.ID, "campaign": address, "amount": req.Amount.String()})

		if created, err := vault.EnsureWallet(ctx, db, user); err != nil {
			log.WithError(err).Error("wallet provisioning failed")
			fail(c, http.StatusInternalServerError, "Failed to create wallet")
			return
		} else if created {
			log.WithField("wallet", user.WalletAddress).Info("wallet created for contributor")
		}
		key, err := vault.PrivateKey(user.PrivateKey)
		if err != nil {
			log.WithError(err).Error("stored key unusable")
			fail(c, http.StatusInternalServerError, "Failed to access wallet")
			return
		}

		balance, err := client.Balance(ctx, user.WalletAddress)
		if err != nil {
			status, msg := chainFailure(err, "Failed to check balance")
			fail(c, status, msg)
			return
		}
		if balance.Cmp(amount) < 0 {
			fail(c, http.StatusBadRequest, "Insufficient balance")
			return
		}

		campaign, err := store.CampaignByAddress(ctx, db, address)
		if err != nil {
			log.WithError(err).Warn("campaign not found in database")
		}
		// The pre-check never blocks the contribution
		if data, err := client.CampaignData(ctx, address); err != nil {
			log.WithError(err).Warn("campaign validation failed, contributing anyway")
		} else if campaign != nil {
			settler.MaybeWithdraw(ctx, campaign, data)
		}

		res, err := client.Contribute(ctx, key, address, amount)
		if err != nil {
			log.WithError(err).Error("contribution failed")
			if errors.Is(err, chain.ErrInsufficientFunds) {
				fail(c, http.StatusBadRequest, "Insufficient funds for contribution and gas")
				return
			}
			fail(c, http.StatusInternalServerError, "Contribution failed")
			return
		}

		// The transfer is final; recording it is best effort
		if campaign != nil {
			txHash := res.TxHash
			record := &domain.Contribution{
				Amount:     chain.FormatEther(amount),
				CampaignID: campaign.ID,
				UserID:     user.ID,
				TxHash:     &txHash,
			}
			if err := store.CreateContribution(ctx, db, record); err != nil {
				log.WithFields(logrus.Fields{"tx_hash": txHash, "error": err.Error()}).Error("failed to record contribution")
			}
		}
		_ = utils.DeleteCachePattern(ctx, rdb, utils.ContributionHistoryPattern(user.ID))
		_ = utils.DeleteCache(ctx, rdb, utils.CampaignChainKey(address), utils.WalletBalanceKey(user.WalletAddress))

		log.WithField("tx_hash", res.TxHash).Info("contribution sent")
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"transactionHash": res.TxHash,
			"gasUsed":         res.GasUsed,
			"message":         "Contribution successful!",
		})
	}
}

// contributionPage is the cached body of a contribution history page
type contributionPage struct {
	Contributions []store.ContributionRecord `json:"contributions"` // Page of contributions
	Page          int                        `json:"page"`          // Current page
	PageSize      int                        `json:"page_size"`     // Page size
	Total         int64                      `json:"total"`         // Total contributions
	TotalPages    int                        `json:"total_pages"`   // Total pages
}

// ContributionHistoryHandler pages through the caller's contributions
func ContributionHistoryHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		ctx := c.Request.Context()
		p := parsePage(c)
		cacheKey := utils.ContributionHistoryKey(user.ID, p.Page, p.PageSize) // Cache key for this page
		var cached contributionPage
		// If found in cache, return it
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"success":       true,
				"contributions": cached.Contributions,
				"page":          cached.Page,
				"page_size":     cached.PageSize,
				"total":         cached.Total,
				"total_pages":   cached.TotalPages,
				"cached":        true, // Indicate response is from cache
			})
			return
		}

		records, total, err := store.ContributionsByUser(ctx, db, user.ID, p)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("contribution history failed")
			fail(c, http.StatusInternalServerError, "Failed to fetch contributions")
			return
		}
		resp := contributionPage{
			Contributions: records,
			Page:          p.Page,
			PageSize:      p.PageSize,
			Total:         total,
			TotalPages:    p.TotalPages(total),
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, 60*time.Second) // Cache the page for 60 seconds
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"contributions": resp.Contributions,
			"page":          resp.Page,
			"page_size":     resp.PageSize,
			"total":         resp.Total,
			"total_pages":   resp.TotalPages,
			"cached":        false, // Indicate response is not from cache
		})
	}
}

// CampaignContributionsHandler pages through a campaign's contributions with contributor names
func CampaignContributionsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		campaign := campaignFromPath(c, db)
		if campaign == nil {
			return
		}
		p := parsePage(c)
		records, total, err := store.ContributionsByCampaign(c.Request.Context(), db, campaign.ID, p)
		if err != nil {
			logrus.WithFields(logrus.Fields{"campaign_id": campaign.ID, "error": err.Error()}).Error("campaign contributions failed")
			fail(c, http.StatusInternalServerError, "Failed to fetch contributions")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"contributions": records,
			"page":          p.Page,
			"page_size":     p.PageSize,
			"total":         total,
			"total_pages":   p.TotalPages(total),
		})
	}
}

// MyContributionHandler reports the caller's on-chain contribution to a campaign
func MyContributionHandler(client chain.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		address := c.Param("address")
		if !chain.ValidAddress(address) {
			fail(c, http.StatusBadRequest, "Invalid campaign address format")
			return
		}
		if user.WalletAddress == "" {
			c.JSON(http.StatusOK, gin.H{"success": true, "amount": "0", "amountWei": "0"})
			return
		}
		wei, err := client.Contribution(c.Request.Context(), chain.Checksum(address), user.WalletAddress)
		if err != nil {
			status, msg := chainFailure(err, "Failed to fetch contribution")
			fail(c, status, msg)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"amount":        chain.FormatEther(wei),
			"amountWei":     wei.String(),
			"walletAddress": user.WalletAddress,
		})
	}
}

// RefundRequest is the body of POST /api/blockchain/refund
type RefundRequest struct {
	CampaignAddress string `json:"campaignAddress" binding:"required"`
}

// RefundHandler returns the caller's contribution from a campaign that missed its goal
func RefundHandler(rdb *redis.Client, client chain.Client, vault *custody.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		var req RefundRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			fail(c, http.StatusBadRequest, "Missing required fields")
			return
		}
		if !chain.ValidAddress(req.CampaignAddress) {
			fail(c, http.StatusBadRequest, "Invalid campaign address format")
			return
		}
		if !user.HasWallet() {
			fail(c, http.StatusBadRequest, "No wallet found for user")
			return
		}
		address := chain.Checksum(req.CampaignAddress)
		ctx := c.Request.Context()

		data, err := client.CampaignData(ctx, address)
		if err != nil {
			status, msg := chainFailure(err, "Failed to read campaign")
			fail(c, status, msg)
			return
		}
		if data.IsActive || data.IsSuccessful {
			fail(c, http.StatusBadRequest, "Refunds are only available for ended campaigns that missed their goal")
			return
		}
		owed, err := client.Contribution(ctx, address, user.WalletAddress)
		if err != nil {
			status, msg := chainFailure(err, "Failed to read contribution")
			fail(c, status, msg)
			return
		}
		if owed.Sign() == 0 {
			fail(c, http.StatusBadRequest, "No contribution to refund")
			return
		}

		key, err := vault.PrivateKey(user.PrivateKey)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("stored key unusable")
			fail(c, http.StatusInternalServerError, "Failed to access wallet")
			return
		}
		res, err := client.Refund(ctx, key, address)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "campaign": address, "error": err.Error()}).Error("refund failed")
			status, msg := chainFailure(err, "Refund failed")
			fail(c, status, msg)
			return
		}
		_ = utils.DeleteCache(ctx, rdb, utils.CampaignChainKey(address), utils.WalletBalanceKey(user.WalletAddress))

		logrus.WithFields(logrus.Fields{"user_id": user.ID, "campaign": address, "tx_hash": res.TxHash}).Info("refund sent")
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"amount":          chain.FormatEther(owed),
			"transactionHash": res.TxHash,
			"gasUsed":         res.GasUsed,
		})
	}
}
