package api

import (
	"errors"   // Error matching
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"crowdfunding/internal/custody"  // Custodial wallets
	"crowdfunding/internal/domain"   // Importing domain models
	"crowdfunding/internal/identity" // ID token verification
	"crowdfunding/internal/store"    // Queries

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// SignInRequest is the body of POST /api/auth/firebase
type SignInRequest struct {
	IDToken string `json:"idToken" binding:"required"` // Identity provider ID token
	Role    string `json:"role"`                       // user or creator
}

// FirebaseAuthHandler signs a user in, creating the account and its custodial wallet on first sight
func FirebaseAuthHandler(db *gorm.DB, vault *custody.Vault, verifier identity.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Missing ID token")
			return
		}
		// Only the two self-service roles can be chosen
		if !domain.ValidRole(req.Role) {
			fail(c, http.StatusBadRequest, "Invalid role")
			return
		}
		ctx := c.Request.Context()
		tok, err := verifier.Verify(ctx, req.IDToken)
		if err != nil {
			logrus.WithError(err).Warn("sign-in with invalid token")
			fail(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		if tok.Email == "" {
			fail(c, http.StatusBadRequest, "Email is required")
			return
		}

		user := &domain.User{ID: tok.UID, Email: tok.Email, Role: req.Role}
		existing, err := store.FindUserByEmail(ctx, db, tok.Email)
		switch {
		case err == nil:
			user.ID = existing.ID
			user.Name = existing.Name
			user.Image = existing.Image
			user.WalletAddress = existing.WalletAddress
			user.PrivateKey = existing.PrivateKey
		case !errors.Is(err, store.ErrNotFound):
			logrus.WithFields(logrus.Fields{"uid": tok.UID, "error": err.Error()}).Error("user lookup failed")
			fail(c, http.StatusInternalServerError, "Authentication failed")
			return
		}
		uid := tok.UID
		user.IdentityID = &uid
		if tok.Name != "" {
			user.Name = tok.Name
		} else if user.Name == "" {
			user.Name, _, _ = strings.Cut(tok.Email, "@")
		}
		if tok.Picture != "" {
			user.Image = tok.Picture
		}

		// First sign-in, or an account that predates wallets
		if !user.HasWallet() {
			w, err := vault.GenerateWallet()
			if err != nil {
				logrus.WithFields(logrus.Fields{"uid": tok.UID, "error": err.Error()}).Error("wallet generation failed")
				fail(c, http.StatusInternalServerError, "Failed to create wallet")
				return
			}
			user.WalletAddress = w.Address
			user.PrivateKey = w.EncryptedKey
		}

		saved, err := store.UpsertUser(ctx, db, user)
		if err != nil {
			logrus.WithFields(logrus.Fields{"uid": tok.UID, "email": tok.Email, "error": err.Error()}).Error("user upsert failed")
			fail(c, http.StatusInternalServerError, "Authentication failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id": saved.ID,   // User ID
			"role":    saved.Role, // Chosen role
			"new":     existing == nil,
		}).Info("user signed in")
		c.JSON(http.StatusOK, gin.H{"success": true, "user": saved})
	}
}
