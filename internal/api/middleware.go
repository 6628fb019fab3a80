package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mailwarm/pkg/util"
)

// AuthMiddleware validates the bearer token and stores client_id on the
// request context.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		parts := strings.Split(auth, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		clientID, err := util.ParseJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("client_id", clientID)
		c.Next()
	}
}

func clientID(c *gin.Context) int64 {
	v, _ := c.Get("client_id")
	id, _ := v.(int64)
	return id
}
