package api

import (
	"net/http" // HTTP status codes
	"time"     // Timestamps

	"crowdfunding/internal/settlement" // Batch settlement

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// ProcessExpiredHandler settles every expired campaign and reports per-campaign outcomes
func ProcessExpiredHandler(settler *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := settler.ProcessExpired(c.Request.Context())
		if err != nil {
			logrus.WithError(err).Error("expired campaign processing failed")
			fail(c, http.StatusInternalServerError, "Failed to process expired campaigns")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": report.Processed, "results": report.Results})
	}
}

// CronProcessCampaignsHandler is the scheduler entry point for the same batch
func CronProcessCampaignsHandler(settler *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now().UTC()
		report, err := settler.ProcessExpired(c.Request.Context())
		if err != nil {
			logrus.WithError(err).Error("cron campaign processing failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"success":   false,
				"error":     "Cron job failed",
				"timestamp": started.Format(time.RFC3339),
			})
			return
		}
		logrus.WithFields(logrus.Fields{
			"processed": report.Processed,
			"duration":  time.Since(started).String(),
		}).Info("cron campaign processing completed")
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"timestamp": started.Format(time.RFC3339),
			"result":    report,
		})
	}
}
