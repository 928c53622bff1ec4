package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"civicwatch-be/config"
	"civicwatch-be/models"
	"civicwatch-be/services"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var chatCollection *mongo.Collection = config.GetCollection("chat_messages")

// PostChatMessage posts into a canonical issue's shared discussion. The gate:
// government staff, the original reporter, or a merged-in reporter who
// explicitly consented. Messages addressed to a duplicate id land on the
// canonical discussion.
func PostChatMessage(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}
	userObjID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Body string `json:"body" binding:"required,max=2000"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	canonical, err := engine.ResolveCanonical(ctx, issueID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIssueNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		case errors.Is(err, services.ErrCanonicalNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve issue"})
		}
		return
	}

	if !services.CanParticipateInChat(canonical, userObjID, currentRole(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You have not consented to participate in this discussion"})
		return
	}

	message := models.ChatMessage{
		ID:        primitive.NewObjectID(),
		Issue:     canonical.ID,
		Author:    userObjID,
		Body:      input.Body,
		CreatedAt: time.Now(),
	}

	if _, err := chatCollection.InsertOne(ctx, message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to post message"})
		return
	}

	c.JSON(http.StatusCreated, message)
}

// GetChatMessages lists a canonical issue's discussion, oldest first.
func GetChatMessages(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	canonical, err := engine.ResolveCanonical(ctx, issueID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIssueNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		case errors.Is(err, services.ErrCanonicalNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve issue"})
		}
		return
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := chatCollection.Find(ctx, bson.M{"issue": canonical.ID}, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve messages"})
		return
	}
	defer cursor.Close(ctx)

	messages := []models.ChatMessage{}
	if err := cursor.All(ctx, &messages); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}
