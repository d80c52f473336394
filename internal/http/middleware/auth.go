// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication backed by the api_keys
// table. A request without an Authorization header proceeds anonymously (the
// rate limiter then keys on client IP, and protected handlers reject it); a
// request presenting an invalid token is refused outright.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/repo"
)

// BearerAuth resolves the Authorization bearer token to a user and stores the
// user id in the Gin context. Malformed or unknown tokens abort with 401;
// absent tokens pass through anonymously.
func BearerAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			unauthorized(c, "malformed Authorization header")
			return
		}

		user, err := repo.UserByAPIKey(c.Request.Context(), db, token)
		if err != nil {
			unauthorized(c, "invalid API key")
			return
		}
		c.Set(userIDKey, user.ID)
		c.Next()
	}
}

// UserID returns the authenticated user id from the Gin context, if any.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"error":      "Unauthorized",
		"message":    msg,
		"status":     http.StatusUnauthorized,
	})
}
