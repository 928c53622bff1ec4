package controllers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
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

var issueCollection *mongo.Collection = config.GetCollection("issues")
var userCollection *mongo.Collection = config.GetCollection("users")

var issueStore = services.NewMongoIssueStore(issueCollection)
var engine = services.NewEngine(
	issueStore,
	services.NewRedisNotifier(config.ConnectRedis(), os.Getenv("REDIS_EVENT_CHANNEL")),
	config.LoadEngineConfig(),
)

// currentUser extracts the authenticated user id set by the auth middleware.
func currentUser(c *gin.Context) (primitive.ObjectID, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return primitive.NilObjectID, false
	}
	objID, err := primitive.ObjectIDFromHex(userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return primitive.NilObjectID, false
	}
	return objID, true
}

func currentRole(c *gin.Context) models.UserRole {
	if role, exists := c.Get("role"); exists {
		if r, ok := role.(string); ok {
			return models.UserRole(r)
		}
	}
	return models.RoleCitizen
}

func issueIDParam(c *gin.Context) (primitive.ObjectID, bool) {
	issueID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue ID"})
		return primitive.NilObjectID, false
	}
	return issueID, true
}

// CreateIssue handles the creation of a new issue and runs it through the
// dedup engine: a report within the cluster radius of an existing canonical
// issue of the same category is merged into it instead of standing alone.
func CreateIssue(c *gin.Context) {
	reportedBy, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Title       string   `json:"title" binding:"required,max=200"`
		Description string   `json:"description" binding:"required,max=1000"`
		Category    string   `json:"category" binding:"required"`
		Address     string   `json:"address" binding:"required,max=200"`
		Latitude    *float64 `json:"latitude" binding:"required"`
		Longitude   *float64 `json:"longitude" binding:"required"`
		Images      []string `json:"images,omitempty"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !models.ValidCategory(input.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
		return
	}

	lat, lng := *input.Latitude, *input.Longitude
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidLocation.Error()})
		return
	}

	issue := models.NewIssue(
		input.Title, input.Description,
		models.IssueCategory(input.Category),
		lng, lat, input.Address, input.Images, reportedBy,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := engine.Intake(ctx, issue)
	if err != nil {
		if errors.Is(err, services.ErrInvalidLocation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create issue"})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// creatorSummary fetches display info for an issue's original reporter.
func creatorSummary(ctx context.Context, id primitive.ObjectID) map[string]interface{} {
	summary := map[string]interface{}{"id": id}
	var creator models.User
	if err := userCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&creator); err == nil {
		summary["name"] = creator.Name
		summary["email"] = creator.Email
	}
	return summary
}

// GetIssue retrieves an issue by its ID. A duplicate comes back with its
// canonical record attached so clients can show the authoritative state.
func GetIssue(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	issue, err := issueStore.Get(ctx, issueID)
	if err != nil {
		if errors.Is(err, services.ErrIssueNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
		}
		return
	}

	userHasVoted := false
	if userIDStr, exists := c.Get("user_id"); exists {
		if uid, err := primitive.ObjectIDFromHex(userIDStr.(string)); err == nil {
			userHasVoted = issue.HasVoter(uid)
		}
	}

	response := gin.H{
		"issue":        issue,
		"createdBy":    creatorSummary(ctx, issue.ReportedBy),
		"userHasVoted": userHasVoted,
	}

	if !issue.IsCanonical() {
		canonical, err := engine.ResolveCanonical(ctx, issueID)
		if err != nil {
			if errors.Is(err, services.ErrCanonicalNotFound) {
				c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve canonical issue"})
			return
		}
		response["canonical"] = canonical
	}

	c.JSON(http.StatusOK, response)
}

// GetAllIssues lists canonical issues with filtering, pagination, and sort.
// Duplicates are provenance records and never appear in listings.
func GetAllIssues(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	category := c.Query("category")
	status := c.Query("status")
	search := c.Query("search")
	sortParam := c.DefaultQuery("sort", "newest")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	filter := bson.M{"mergedInto": bson.M{"$exists": false}}

	if category != "" && category != "all" {
		filter["category"] = category
	}
	if status != "" && status != "all" {
		filter["status"] = status
	}
	if search != "" {
		filter["$or"] = []bson.M{
			{"title": bson.M{"$regex": search, "$options": "i"}},
			{"description": bson.M{"$regex": search, "$options": "i"}},
		}
	}

	skip := (page - 1) * limit

	var sortOptions bson.D
	switch sortParam {
	case "oldest":
		sortOptions = bson.D{{Key: "createdAt", Value: 1}}
	case "votes":
		sortOptions = bson.D{{Key: "votes", Value: -1}}
	case "newest":
		fallthrough
	default:
		sortOptions = bson.D{{Key: "createdAt", Value: -1}}
	}

	totalCount, err := issueCollection.CountDocuments(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count issues"})
		return
	}

	findOptions := options.Find().
		SetSort(sortOptions).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := issueCollection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issues"})
		return
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode issues"})
		return
	}

	var currentUserID *primitive.ObjectID
	if userIDStr, exists := c.Get("user_id"); exists {
		if objID, err := primitive.ObjectIDFromHex(userIDStr.(string)); err == nil {
			currentUserID = &objID
		}
	}

	type issueView struct {
		models.Issue
		UserHasVoted bool                   `json:"userHasVoted"`
		CreatedBy    map[string]interface{} `json:"createdBy"`
	}

	views := make([]issueView, 0, len(issues))
	for _, issue := range issues {
		userHasVoted := false
		if currentUserID != nil {
			userHasVoted = issue.HasVoter(*currentUserID)
		}
		views = append(views, issueView{
			Issue:        issue,
			UserHasVoted: userHasVoted,
			CreatedBy:    creatorSummary(ctx, issue.ReportedBy),
		})
	}

	totalPages := int((totalCount + int64(limit) - 1) / int64(limit))

	c.JSON(http.StatusOK, gin.H{
		"issues":      views,
		"totalIssues": totalCount,
		"totalPages":  totalPages,
		"currentPage": page,
	})
}

// GetIssuesByUser retrieves all issues reported by the authenticated user,
// duplicates included so reporters can see where their reports went.
func GetIssuesByUser(c *gin.Context) {
	userObjID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := issueCollection.Find(ctx, bson.M{"reportedBy": userObjID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issues"})
		return
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode issues"})
		return
	}

	c.JSON(http.StatusOK, issues)
}

// HandleVoteOnIssue toggles the user's vote. Votes addressed to a duplicate
// land on its canonical record, and priority is recomputed in the same
// atomic update.
func HandleVoteOnIssue(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}
	userObjID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	issue, voted, err := engine.ToggleVote(ctx, issueID, userObjID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIssueNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		case errors.Is(err, services.ErrCanonicalNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update vote"})
		}
		return
	}

	message := "Vote removed successfully"
	if voted {
		message = "Vote cast successfully"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      message,
		"voted":        voted,
		"votes":        issue.Votes,
		"userHasVoted": voted,
		"priority":     issue.Priority,
	})
}

// UpdateIssue allows the original reporter to edit descriptive fields.
// Status and priority are never editable here: status flows through the
// propagator and priority through the engine or a government override.
func UpdateIssue(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}
	userObjID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Title       *string  `json:"title,omitempty"`
		Description *string  `json:"description,omitempty"`
		Address     *string  `json:"address,omitempty"`
		Images      []string `json:"images,omitempty"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	issue, err := issueStore.Get(ctx, issueID)
	if err != nil {
		if errors.Is(err, services.ErrIssueNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issue"})
		}
		return
	}

	if issue.ReportedBy != userObjID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to update this issue"})
		return
	}

	update := bson.M{"updatedAt": time.Now()}
	if input.Title != nil {
		update["title"] = *input.Title
	}
	if input.Description != nil {
		update["description"] = *input.Description
	}
	if input.Address != nil {
		update["address"] = *input.Address
	}
	if input.Images != nil {
		update["images"] = input.Images
	}

	_, err = issueCollection.UpdateOne(ctx, bson.M{"_id": issueID}, bson.M{
		"$set": update,
		"$inc": bson.M{"version": 1},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update issue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Issue updated successfully"})
}

// UpdateIssueStatus transitions an issue's status (government only) and
// mirrors it onto all duplicates.
func UpdateIssueStatus(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}
	userObjID, ok := currentUser(c)
	if !ok {
		return
	}
	if currentRole(c) != models.RoleGovernment {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only government staff can change issue status"})
		return
	}

	var input struct {
		Status  string `json:"status" binding:"required"`
		Comment string `json:"comment,omitempty"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidStatus(input.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	issue, err := engine.UpdateStatus(ctx, issueID, models.IssueStatus(input.Status), userObjID, input.Comment)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIssueNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		case errors.Is(err, services.ErrCanonicalNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Status updated successfully",
		"issue":   issue,
	})
}

// RecordConsent lets a reporter accept or decline joining the canonical
// issue's shared discussion. Decisions are reversible.
func RecordConsent(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}
	userObjID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Accept *bool `json:"accept" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	issue, err := engine.RecordConsent(ctx, issueID, userObjID, *input.Accept)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotAReporter):
			c.JSON(http.StatusForbidden, gin.H{"error": "You are not a reporter on this issue"})
		case errors.Is(err, services.ErrIssueNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		case errors.Is(err, services.ErrCanonicalNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record consent"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Consent recorded",
		"issue":   issue,
	})
}

// OverrideIssuePriority lets government staff pin a priority manually
// (freezing automatic recomputation) or hand control back to the engine.
func OverrideIssuePriority(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c); !ok {
		return
	}
	if currentRole(c) != models.RoleGovernment {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only government staff can override priority"})
		return
	}

	var input struct {
		Priority *string `json:"priority,omitempty"`
		Auto     *bool   `json:"auto,omitempty"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var issue *models.Issue
	var err error
	switch {
	case input.Auto != nil && *input.Auto:
		issue, err = engine.ResumeAutoPriority(ctx, issueID)
	case input.Priority != nil:
		switch models.IssuePriority(*input.Priority) {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid priority"})
			return
		}
		issue, err = engine.OverridePriority(ctx, issueID, models.IssuePriority(*input.Priority))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide either a priority or auto=true"})
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, services.ErrIssueNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		case errors.Is(err, services.ErrCanonicalNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "Canonical issue missing for duplicate"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update priority"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Priority updated",
		"issue":   issue,
	})
}

// GetIssueAnalytics returns analytical data about canonical issues
func GetIssueAnalytics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	canonical := bson.M{"mergedInto": bson.M{"$exists": false}}

	categoryPipeline := []bson.M{
		{"$match": canonical},
		{
			"$group": bson.M{
				"_id":   "$category",
				"count": bson.M{"$sum": 1},
			},
		},
		{
			"$project": bson.M{
				"name":  "$_id",
				"value": "$count",
				"_id":   0,
			},
		},
	}

	categoryCursor, err := issueCollection.Aggregate(ctx, categoryPipeline)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get category analytics"})
		return
	}
	defer categoryCursor.Close(ctx)

	var issuesByCategory []bson.M
	if err := categoryCursor.All(ctx, &issuesByCategory); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode category analytics"})
		return
	}

	var last7Days []gin.H
	for i := 6; i >= 0; i-- {
		date := time.Now().AddDate(0, 0, -i)
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		nextDate := date.AddDate(0, 0, 1)

		count, err := issueCollection.CountDocuments(ctx, bson.M{
			"createdAt": bson.M{"$gte": date, "$lt": nextDate},
		})
		if err != nil {
			count = 0
		}

		last7Days = append(last7Days, gin.H{
			"date":  date.Format("2006-01-02"),
			"count": count,
		})
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(50)

	cursor, err := issueCollection.Find(ctx, canonical, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issues for vote analysis"})
		return
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode issues"})
		return
	}

	type issueVotes struct {
		ID       primitive.ObjectID `json:"id"`
		Title    string             `json:"title"`
		Category string             `json:"category"`
		Priority string             `json:"priority"`
		Votes    int                `json:"votes"`
	}

	var topVoted []issueVotes
	for _, issue := range issues {
		topVoted = append(topVoted, issueVotes{
			ID:       issue.ID,
			Title:    issue.Title,
			Category: string(issue.Category),
			Priority: string(issue.Priority),
			Votes:    issue.Votes,
		})
	}

	sort.Slice(topVoted, func(i, j int) bool {
		return topVoted[i].Votes > topVoted[j].Votes
	})
	if len(topVoted) > 5 {
		topVoted = topVoted[:5]
	}

	totalIssues, err := issueCollection.CountDocuments(ctx, canonical)
	if err != nil {
		totalIssues = 0
	}

	openFilter := bson.M{
		"mergedInto": bson.M{"$exists": false},
		"status": bson.M{"$in": []string{
			string(models.Pending), string(models.Acknowledged),
			string(models.Assigned), string(models.InProgress),
		}},
	}
	openIssues, err := issueCollection.CountDocuments(ctx, openFilter)
	if err != nil {
		openIssues = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"issuesByCategory": issuesByCategory,
		"last7Days":        last7Days,
		"topVotedIssues":   topVoted,
		"totalIssues":      totalIssues,
		"openIssues":       openIssues,
	})
}

// RecentIssues returns the most recent canonical issues for the map view
func RecentIssues(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	limit := 19

	filter := bson.M{"mergedInto": bson.M{"$exists": false}}

	projection := bson.M{
		"_id":       1,
		"title":     1,
		"location":  1,
		"address":   1,
		"category":  1,
		"priority":  1,
		"createdAt": 1,
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(projection)

	cursor, err := issueCollection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve recent issues"})
		return
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode recent issues"})
		return
	}

	type issuePin struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Latitude  float64   `json:"latitude"`
		Longitude float64   `json:"longitude"`
		Address   string    `json:"address"`
		Category  string    `json:"category,omitempty"`
		Priority  string    `json:"priority,omitempty"`
		CreatedAt time.Time `json:"createdAt,omitempty"`
	}

	var response []issuePin
	for _, issue := range issues {
		if !issue.Location.Valid() {
			continue
		}
		response = append(response, issuePin{
			ID:        issue.ID.Hex(),
			Title:     issue.Title,
			Latitude:  issue.Location.Latitude(),
			Longitude: issue.Location.Longitude(),
			Address:   issue.Address,
			Category:  string(issue.Category),
			Priority:  string(issue.Priority),
			CreatedAt: issue.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, response)
}
