package middleware

import (
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"crowdfunding/internal/identity" // ID token verification

	"github.com/gin-gonic/gin"         // Gin web framework
	"github.com/gin-gonic/gin/binding" // Body binding that can be repeated
)

// Context keys set by the auth middleware
const (
	IdentityKey = "identity"
	UserKey     = "user"
)

// IdentityAuthMiddleware verifies the caller's ID token. The token is read from the
// Authorization header, or from the idToken field of a JSON body.
func IdentityAuthMiddleware(verifier identity.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := requestToken(c) // Header first, then body
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Missing or invalid Authorization header"})
			return
		}
		tok, err := verifier.Verify(c.Request.Context(), raw) // Verify signature and claims
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
			return
		}
		c.Set(IdentityKey, tok) // Store verified identity in context
		c.Next()
	}
}

func requestToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c.Request.Method != http.MethodPost || c.ContentType() != binding.MIMEJSON {
		return ""
	}
	var body struct {
		IDToken string `json:"idToken"`
	}
	// ShouldBindBodyWith keeps the body for the handler's own binding
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	return body.IDToken
}

// CurrentIdentity returns the verified identity, or nil outside IdentityAuthMiddleware
func CurrentIdentity(c *gin.Context) *identity.Token {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil
	}
	tok, _ := v.(*identity.Token)
	return tok
}
