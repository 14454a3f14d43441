package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/services"
)

const (
	// ContextUserID holds the arena user id of the caller.
	ContextUserID = "user_id"
	// ContextBot is set when the caller authenticated with the bot API key.
	ContextBot = "bot"

	botKeyHeader = "X-Bot-API-Key"
	userIDHeader = "X-User-ID"
)

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func JWTAuth(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// BotAuth admits the bot and other trusted backends. They act on behalf of
// the user named in X-User-ID, when there is one.
func BotAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(botKeyHeader)
		if key == "" || key != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bot API key"})
			return
		}
		c.Set(ContextBot, true)
		if userID := c.GetHeader(userIDHeader); userID != "" {
			c.Set(ContextUserID, userID)
		}
		c.Next()
	}
}

// FlexAuth accepts either a bearer token or the bot API key with X-User-ID.
func FlexAuth(authService *services.AuthService, botAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(botKeyHeader); key != "" && key == botAPIKey {
			userID := c.GetHeader(userIDHeader)
			if userID == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header required"})
				return
			}
			c.Set(ContextBot, true)
			c.Set(ContextUserID, userID)
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// UserID returns the caller set by one of the auth middlewares.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// IsBot reports whether the caller used the bot API key.
func IsBot(c *gin.Context) bool {
	return c.GetBool(ContextBot)
}
