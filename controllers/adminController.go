package controllers

import (
	"context"
	"net/http"
	"time"

	"civicwatch-be/models"

	"github.com/gin-gonic/gin"
)

// RunRetroCluster triggers a retroactive clustering sweep over recent
// canonical issues, merging duplicate pairs that creation-time dedup missed.
// Government only; the sweep is bounded by the engine's scan cap and a
// request-scoped timeout.
func RunRetroCluster(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	if currentRole(c) != models.RoleGovernment {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only government staff can run retroactive clustering"})
		return
	}

	var input struct {
		SinceHours   int     `json:"sinceHours" binding:"required,min=1"`
		RadiusMeters float64 `json:"radiusMeters,omitempty"`
		Category     *string `json:"category,omitempty"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var category *models.IssueCategory
	if input.Category != nil {
		if !models.ValidCategory(*input.Category) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
			return
		}
		cat := models.IssueCategory(*input.Category)
		category = &cat
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	merged, err := engine.RetroCluster(ctx, input.SinceHours, input.RadiusMeters, category)
	if err != nil {
		// A timeout mid-sweep still applied every merge it got to.
		c.JSON(http.StatusOK, gin.H{
			"mergedPairs": merged,
			"partial":     true,
			"error":       err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"mergedPairs": merged})
}
