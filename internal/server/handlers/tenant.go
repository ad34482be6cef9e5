package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mamadbah2/flockledger/internal/domain/models"
)

// Headers set by the upstream gateway once the caller is authenticated.
const (
	HeaderFarmID    = "X-Farm-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
)

const (
	farmKey  = "tenant.farm_id"
	actorKey = "tenant.actor"
)

// Tenant rejects requests without a farm id and stores the caller's scope on
// the gin context.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		farmID := strings.TrimSpace(c.GetHeader(HeaderFarmID))
		if farmID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"kind":    "unauthenticated",
				"message": HeaderFarmID + " header is required",
			}})
			return
		}
		c.Set(farmKey, farmID)
		c.Set(actorKey, models.Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderActorID)),
			Name: strings.TrimSpace(c.GetHeader(HeaderActorName)),
		})
		c.Next()
	}
}

// FarmID returns the caller's farm.
func FarmID(c *gin.Context) string {
	return c.GetString(farmKey)
}

// ActorFrom returns the caller's identity.
func ActorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}
