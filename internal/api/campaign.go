package api

import (
	"encoding/json" // json.Number accepts numbers and numeric strings
	"errors"        // Error matching
	"math/big"      // Wei amounts
	"net/http"      // HTTP status codes
	"time"          // Durations

	"crowdfunding/internal/campaigns"  // Enriched campaign views
	"crowdfunding/internal/chain"      // Contract client
	"crowdfunding/internal/custody"    // Custodial keys
	"crowdfunding/internal/domain"     // Importing domain models
	"crowdfunding/internal/middleware" // Current user
	"crowdfunding/internal/settlement" // Withdrawals
	"crowdfunding/internal/store"      // Queries

	"github.com/gin-gonic/gin"         // Gin web framework
	"github.com/gin-gonic/gin/binding" // Repeatable body binding
	"github.com/sirupsen/logrus"       // Logging library
	"gorm.io/gorm"                     // GORM ORM library
)

// CreateCampaignRequest is the body of POST /api/blockchain/create-campaign
type CreateCampaignRequest struct {
	Title          string      `json:"title" binding:"required"` // Campaign title
	Description    string      `json:"description"`              // Long description
	GoalInEth      json.Number `json:"goalInEth"`                // Goal, decimal ETH
	DurationInDays float64     `json:"durationInDays"`           // May be fractional
}

// campaignParams validates a goal and duration, returning a message for the client on failure
func campaignParams(goal json.Number, days float64) (*big.Int, time.Duration, string) {
	wei, err := chain.ParseEther(goal.String())
	if err != nil || wei.Sign() <= 0 {
		return nil, 0, "Goal must be greater than 0"
	}
	if days <= 0 {
		return nil, 0, "Duration must be greater than 0"
	}
	if days > 365 {
		return nil, 0, "Duration cannot exceed 365 days"
	}
	// whole seconds, rounded down
	d := time.Duration(days * float64(24*time.Hour)).Truncate(time.Second)
	if d < time.Second {
		return nil, 0, "Duration must be greater than 0"
	}
	return wei, d, ""
}

// CreateCampaignHandler deploys a campaign from the creator's custodial wallet and stores it
func CreateCampaignHandler(db *gorm.DB, client chain.Client, vault *custody.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c) // Set by LoadUserMiddleware
		var req CreateCampaignRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || req.GoalInEth == "" {
			fail(c, http.StatusBadRequest, "Missing required fields")
			return
		}
		goal, duration, msg := campaignParams(req.GoalInEth, req.DurationInDays)
		if msg != "" {
			fail(c, http.StatusBadRequest, msg)
			return
		}
		ctx := c.Request.Context()
		// Creators who signed up before wallets existed get one now
		if _, err := vault.EnsureWallet(ctx, db, user); err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("wallet provisioning failed")
			fail(c, http.StatusInternalServerError, "Failed to create wallet")
			return
		}
		key, err := vault.PrivateKey(user.PrivateKey)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("stored key unusable")
			fail(c, http.StatusInternalServerError, "Failed to access wallet")
			return
		}

		res, err := client.CreateCampaign(ctx, key, goal, duration)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": user.ID,            // Creator
				"wallet":  user.WalletAddress, // Paying wallet
				"goal":    req.GoalInEth,      // Requested goal
				"error":   err.Error(),        // Error message
			}).Error("campaign deployment failed")
			status, msg := chainFailure(err, "Failed to create campaign on blockchain")
			c.JSON(status, gin.H{"success": false, "error": msg, "walletAddress": user.WalletAddress})
			return
		}

		campaign := &domain.Campaign{
			Title:           req.Title,
			Description:     req.Description,
			Target:          chain.FormatEther(goal),
			Deadline:        time.Now().UTC().Add(duration),
			ContractAddress: res.CampaignAddress,
			CreatorID:       user.ID,
			IsActive:        true,
		}
		if err := store.CreateCampaign(ctx, db, campaign); err != nil {
			// The contract exists regardless; surface its address so it can be re-linked
			logrus.WithFields(logrus.Fields{
				"campaign": res.CampaignAddress,
				"tx_hash":  res.TxHash,
				"error":    err.Error(),
			}).Error("campaign deployed but not saved")
			c.JSON(http.StatusInternalServerError, gin.H{
				"success":         false,
				"error":           "Campaign created on blockchain but failed to save",
				"campaignAddress": res.CampaignAddress,
				"transactionHash": res.TxHash,
			})
			return
		}

		logrus.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"campaign":    campaign.ContractAddress,
			"user_id":     user.ID,
		}).Info("campaign created")
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"campaign":        campaign,
			"campaignAddress": res.CampaignAddress,
			"transactionHash": res.TxHash,
			"gasUsed":         res.GasUsed,
			"walletAddress":   user.WalletAddress,
			"message":         "Campaign created successfully",
		})
	}
}

// EstimateCampaignGasHandler predicts the cost of creating a campaign
func EstimateCampaignGasHandler(db *gorm.DB, client chain.Client, vault *custody.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		var req CreateCampaignRequest
		_ = c.ShouldBindBodyWith(&req, binding.JSON) // Title is not needed for an estimate
		goal, duration, msg := campaignParams(req.GoalInEth, req.DurationInDays)
		if msg != "" {
			fail(c, http.StatusBadRequest, msg)
			return
		}
		ctx := c.Request.Context()
		if _, err := vault.EnsureWallet(ctx, db, user); err != nil {
			fail(c, http.StatusInternalServerError, "Failed to create wallet")
			return
		}
		key, err := vault.PrivateKey(user.PrivateKey)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to access wallet")
			return
		}
		est, err := client.EstimateCreateCampaign(ctx, key, goal, duration)
		if err != nil {
			status, msg := chainFailure(err, "Failed to estimate gas")
			fail(c, status, msg)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"gasLimit":      est.GasLimit,
			"gasPrice":      est.GasPrice.String(),
			"estimatedCost": chain.FormatEther(est.Cost),
			"walletAddress": user.WalletAddress,
		})
	}
}

// ListCampaignsHandler lists active campaigns, or every campaign of ?creator=<user id>
func ListCampaignsHandler(db *gorm.DB, enricher *campaigns.Enricher) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var (
			rows []domain.Campaign
			err  error
		)
		if creator := c.Query("creator"); creator != "" {
			rows, err = store.CampaignsByCreator(ctx, db, creator)
		} else {
			rows, err = store.ActiveCampaigns(ctx, db)
		}
		if err != nil {
			logrus.WithError(err).Error("campaign listing failed")
			fail(c, http.StatusInternalServerError, "Failed to fetch campaigns")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "campaigns": enricher.EnrichAll(ctx, rows)})
	}
}

// UserCampaignsHandler lists the signed-in creator's campaigns
func UserCampaignsHandler(db *gorm.DB, enricher *campaigns.Enricher) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		ctx := c.Request.Context()
		rows, err := store.CampaignsByCreator(ctx, db, user.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("user campaign listing failed")
			fail(c, http.StatusInternalServerError, "Failed to fetch campaigns")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "campaigns": enricher.EnrichAll(ctx, rows)})
	}
}

// campaignFromPath loads the campaign addressed by the :address path parameter.
// It writes the error response and returns nil when there is none.
func campaignFromPath(c *gin.Context, db *gorm.DB) *domain.Campaign {
	address := c.Param("address")
	if !chain.ValidAddress(address) {
		fail(c, http.StatusBadRequest, "Invalid campaign address format")
		return nil
	}
	campaign, err := store.CampaignByAddress(c.Request.Context(), db, chain.Checksum(address))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "Campaign not found")
		return nil
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"campaign": address, "error": err.Error()}).Error("campaign lookup failed")
		fail(c, http.StatusInternalServerError, "Failed to fetch campaign")
		return nil
	}
	return campaign
}

// CampaignHandler returns one enriched campaign
func CampaignHandler(db *gorm.DB, enricher *campaigns.Enricher) gin.HandlerFunc {
	return func(c *gin.Context) {
		campaign := campaignFromPath(c, db)
		if campaign == nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "campaign": enricher.Enrich(c.Request.Context(), *campaign)})
	}
}

// WithdrawRequest is the body of POST /api/blockchain/withdraw
type WithdrawRequest struct {
	CampaignAddress string `json:"campaignAddress" binding:"required"`
}

// WithdrawHandler lets a creator withdraw a finished, successful campaign without waiting for auto-processing
func WithdrawHandler(db *gorm.DB, settler *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		var req WithdrawRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			fail(c, http.StatusBadRequest, "Missing required fields")
			return
		}
		if !chain.ValidAddress(req.CampaignAddress) {
			fail(c, http.StatusBadRequest, "Invalid campaign address format")
			return
		}
		ctx := c.Request.Context()
		campaign, err := store.CampaignByAddress(ctx, db, chain.Checksum(req.CampaignAddress))
		if err != nil {
			fail(c, http.StatusNotFound, "Campaign not found")
			return
		}
		if campaign.CreatorID != user.ID {
			fail(c, http.StatusForbidden, "Only the campaign creator can withdraw funds")
			return
		}

		w, err := settler.Withdraw(ctx, campaign)
		log := logrus.WithFields(logrus.Fields{"campaign": campaign.ContractAddress, "user_id": user.ID})
		switch {
		case err == nil:
			log.WithField("tx_hash", w.TxHash).Info("manual withdrawal completed")
			c.JSON(http.StatusOK, gin.H{"success": true, "withdrawal": w})
		case errors.Is(err, settlement.ErrRecordFailed):
			log.WithError(err).Error("manual withdrawal not recorded")
			c.JSON(http.StatusOK, gin.H{"success": true, "withdrawal": w, "warning": "Withdrawal succeeded but was not recorded"})
		case errors.Is(err, settlement.ErrNotCreator), errors.Is(err, settlement.ErrCreatorWallet):
			fail(c, http.StatusForbidden, err.Error())
		case errors.Is(err, settlement.ErrGoalNotReached), errors.Is(err, settlement.ErrStillActive):
			fail(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, settlement.ErrInProgress):
			fail(c, http.StatusConflict, err.Error())
		default:
			log.WithError(err).Error("manual withdrawal failed")
			status, msg := chainFailure(err, "Failed to withdraw funds")
			fail(c, status, msg)
		}
	}
}
