package api

import "github.com/gin-gonic/gin"

// SetupRouter creates and configures the Gin router
func SetupRouter(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		mon := v1.Group("/monitor")
		{
			mon.GET("/status", handler.Status)
			mon.POST("/start", handler.StartMonitor)
			mon.POST("/stop", handler.StopMonitor)
			mon.GET("/terms", handler.GetTerms)
			mon.PUT("/terms", handler.SetTerms)
		}

		v1.GET("/listings", handler.ListListings)
		v1.GET("/runs", handler.ListRuns)
		v1.GET("/logs", handler.ListLogs)
	}

	return router
}
