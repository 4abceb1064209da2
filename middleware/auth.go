package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/auth"
	"github.com/gamevault/gamevault/repository"
)

// RequireAuth accepts either a JWT (Authorization: Bearer or ?token= for
// EventSource connections, which cannot set headers) or an API key in the
// X-Api-Key header. disableAuth waves everything through for LAN setups.
func RequireAuth(jwtService *auth.JWTService, apiKeys *repository.APIKeyRepository, disableAuth bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if disableAuth {
			c.Next()
			return
		}

		if token := bearerToken(c); token != "" {
			if _, err := jwtService.ValidateToken(token); err == nil {
				c.Next()
				return
			}
		}

		if key := c.GetHeader("X-Api-Key"); key != "" {
			valid, err := apiKeys.ValidateKey(key)
			if err != nil {
				log.Printf("API key validation error: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication check failed"})
				return
			}
			if valid {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
