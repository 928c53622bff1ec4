package routes

import (
	"civicwatch-be/controllers"
	"civicwatch-be/middlewares"

	"github.com/gin-gonic/gin"
)

// IssueRoutes sets up the issue routes
func IssueRoutes(r *gin.Engine) {
	issue := r.Group("/api/issue")
	{
		issue.POST("/create", middlewares.AuthMiddleware(), middlewares.IssueRateLimiter(10), controllers.CreateIssue)
		issue.GET("/", middlewares.AuthMiddleware(), controllers.GetAllIssues)
		issue.GET("/mine", middlewares.AuthMiddleware(), controllers.GetIssuesByUser)
		issue.GET("/recent", controllers.RecentIssues)
		issue.GET("/analytics", controllers.GetIssueAnalytics)
		issue.GET("/:id", middlewares.AuthMiddleware(), controllers.GetIssue)
		issue.PUT("/:id", middlewares.AuthMiddleware(), controllers.UpdateIssue)
		issue.POST("/:id/vote", middlewares.AuthMiddleware(), controllers.HandleVoteOnIssue)
		issue.PATCH("/:id/status", middlewares.AuthMiddleware(), controllers.UpdateIssueStatus)
		issue.PATCH("/:id/priority", middlewares.AuthMiddleware(), controllers.OverrideIssuePriority)
		issue.POST("/:id/consent", middlewares.AuthMiddleware(), controllers.RecordConsent)
		issue.POST("/:id/chat", middlewares.AuthMiddleware(), controllers.PostChatMessage)
		issue.GET("/:id/chat", middlewares.AuthMiddleware(), controllers.GetChatMessages)
	}
}
