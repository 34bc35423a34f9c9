package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/wzhao556/docflow/api/handlers"
	"github.com/wzhao556/docflow/api/middleware"
)

// SetupRoutes wires the API surface.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handlers.HealthCheck)

	jobs := v1.Group("/jobs")
	{
		jobs.POST("", h.Job.SubmitJob)
		jobs.GET("/:jobId", h.Job.GetStatus)
		jobs.GET("/:jobId/stream", h.Job.StreamResults)
		jobs.DELETE("/:jobId", h.Job.CancelJob)
	}
}
