package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
)

// Context keys set by the auth middleware
const (
	APIKeyContextKey = "api_key"
	UserContextKey   = "auth_user"
	VendorContextKey = "auth_vendor"
)

// APIKeyAuth middleware validates API tokens from the Authorization
// header and resolves the calling user and vendor
func APIKeyAuth(userRepo repository.UserRepository, vendorRepo repository.VendorRepository,
	log *logrus.Logger, requiredLevel models.AuthorizationLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid Authorization header format. Expected: 'Bearer {token}'",
			})
			c.Abort()
			return
		}

		apiKey, err := userRepo.FindAPIKey(c.Request.Context(), parts[1])
		if err != nil {
			log.WithError(err).Warn("Invalid API key")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		if apiKey.AuthorizationLevel < requiredLevel {
			log.Warnf("Insufficient permissions. Required: %d, Provided: %d",
				requiredLevel, apiKey.AuthorizationLevel)
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			c.Abort()
			return
		}

		user, err := userRepo.FindByID(c.Request.Context(), apiKey.UserID)
		if err != nil {
			log.WithError(err).Warn("API key user missing")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}
		vendor, err := vendorRepo.FindByID(c.Request.Context(), apiKey.VendorID)
		if err != nil {
			log.WithError(err).Warn("API key vendor missing")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set(APIKeyContextKey, apiKey)
		c.Set(UserContextKey, user)
		c.Set(VendorContextKey, vendor)
		c.Next()
	}
}

// APIKeyFromContext returns the API key used for the request, or nil
func APIKeyFromContext(c *gin.Context) *models.APIKey {
	if v, ok := c.Get(APIKeyContextKey); ok {
		if key, ok := v.(*models.APIKey); ok {
			return key
		}
	}
	return nil
}

// UserFromContext returns the authenticated user, or nil
func UserFromContext(c *gin.Context) *models.User {
	if v, ok := c.Get(UserContextKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

// VendorFromContext returns the authenticated vendor, or nil
func VendorFromContext(c *gin.Context) *models.Vendor {
	if v, ok := c.Get(VendorContextKey); ok {
		if vendor, ok := v.(*models.Vendor); ok {
			return vendor
		}
	}
	return nil
}
