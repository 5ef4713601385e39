package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
)

// clientCtxKey is the Gin context key holding the authenticated client name.
const clientCtxKey = "api_client"

// APIKeyMiddleware maps X-API-Key to a client name and rejects unknown keys.
// The key set comes from config (API_KEYS / server.api_keys).
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		client, ok := keys[apiKey]
		if !ok || apiKey == "" {
			logging.Ctx(c.Request.Context()).Debug().
				Str("path", c.FullPath()).
				Msg("rejected request with unknown API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(clientCtxKey, client)
		c.Next()
	}
}

// Client returns the authenticated client name from the request context.
func Client(c *gin.Context) string {
	v, _ := c.Get(clientCtxKey)
	s, _ := v.(string)
	return s
}
