package api

import (
	"net/http" // HTTP status codes

	"crowdfunding/internal/middleware" // Current user
	"crowdfunding/internal/store"      // Queries

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// ProfileHandler returns the signed-in user's profile
func ProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			fail(c, http.StatusNotFound, "User not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
	}
}

// UserStatsHandler returns campaign and contribution counts for the signed-in user
func UserStatsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		stats, err := store.GetUserStats(c.Request.Context(), db, user.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("user stats failed")
			fail(c, http.StatusInternalServerError, "Failed to load statistics")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}
