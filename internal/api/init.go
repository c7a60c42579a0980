package api

import (
	"crypto/subtle" // Constant-time comparison
	"net/http"      // HTTP status codes

	"crowdfunding/internal/db" // Schema migration

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// InitDatabaseHandler creates or updates the schema. In production the
// X-Init-Database header must carry secret.
func InitDatabaseHandler(gdb *gorm.DB, isProd bool, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isProd {
			got := c.GetHeader("X-Init-Database")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
				return
			}
		}
		if err := db.Migrate(gdb.WithContext(c.Request.Context())); err != nil {
			logrus.WithError(err).Error("database initialization failed")
			fail(c, http.StatusInternalServerError, "Database initialization failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Database initialized successfully"})
	}
}
