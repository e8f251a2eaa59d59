package router

import (
	"github.com/cuongbtq/photobook-be/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const serviceName = "photobook-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(UserMiddleware())

	// Health check endpoint
	healthHandler := handler.NewHealthHandler(deps, serviceName)
	r.GET("/health", healthHandler.Health)

	batchHandler := handler.NewBatchHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	albumHandler := handler.NewAlbumHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			// POST /api/v1/batches - Submit albums with base64 files
			batches.POST("", BodyLimitMiddleware(deps.MaxBodyBytes), batchHandler.CreateBatch)

			// POST /api/v1/batches/multipart - Submit albums as form parts
			batches.POST("/multipart", BodyLimitMiddleware(deps.MaxBodyBytes), batchHandler.CreateBatchMultipart)

			// GET /api/v1/batches/:session_id/stream - Server-Sent Events
			batches.GET("/:session_id/stream", queueHandler.StreamEvents)

			// GET /api/v1/batches/:session_id/events - Recent events replay
			batches.GET("/:session_id/events", queueHandler.RecentEvents)
		}

		// GET /api/v1/queue/status - Queue counts, optionally per session
		v1.GET("/queue/status", queueHandler.GetStatus)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		albums := v1.Group("/albums")
		{
			// GET /api/v1/albums/:album_id - Album with its photos
			albums.GET("/:album_id", albumHandler.GetAlbum)

			// DELETE /api/v1/albums/:album_id - Delete album, photos and objects
			albums.DELETE("/:album_id", albumHandler.DeleteAlbum)
		}
	}

	return r
}
