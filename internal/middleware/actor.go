package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ActorHeader carries the authenticated user ID set by the gateway.
	ActorHeader = "X-Actor-ID"

	actorKey = "actorID"
)

// RequireActor rejects requests without an acting user and stores the ID for handlers.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(ActorHeader)
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "missing " + ActorHeader + " header",
				"reason": "unauthorized",
			})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorID returns the acting user ID, or "" outside RequireActor.
func ActorID(c *gin.Context) string {
	return c.GetString(actorKey)
}
