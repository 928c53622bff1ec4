package routes

import (
	"civicwatch-be/controllers"
	"civicwatch-be/middlewares"

	"github.com/gin-gonic/gin"
)

// AdminRoutes sets up the administrative routes
func AdminRoutes(r *gin.Engine) {
	admin := r.Group("/api/admin")
	{
		admin.POST("/retrocluster", middlewares.AuthMiddleware(), controllers.RunRetroCluster)
	}
}
