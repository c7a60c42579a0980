package middleware

import (
	"errors"   // Error matching
	"net/http" // HTTP status codes

	"crowdfunding/internal/domain" // Importing domain models
	"crowdfunding/internal/store"  // User lookups

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// LoadUserMiddleware loads the user row of the verified identity on each request
func LoadUserMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := CurrentIdentity(c) // Get identity from context
		if tok == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		// Identity uid first, email as fallback
		user, err := store.FindUserByIdentity(c.Request.Context(), db, tok.UID, tok.Email)
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "User not found"})
			return
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{"uid": tok.UID, "error": err.Error()}).Error("user lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load user"})
			return
		}
		c.Set(UserKey, user) // Store user in context
		c.Next()
	}
}

// RequireRole rejects users whose role differs from role with message
func RequireRole(role, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		if user.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": message})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user loaded by LoadUserMiddleware
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*domain.User)
	return u
}
