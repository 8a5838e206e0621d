package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/bidwriter/backend/config"
	"github.com/bidwriter/backend/internal/handler"
)

func Setup(
	cfg *config.Config,
	projectHandler *handler.ProjectHandler,
	runHandler *handler.RunHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		projects := api.Group("/projects")
		{
			projects.POST("", projectHandler.Create)
			projects.GET("", projectHandler.List)
			projects.GET("/:id", projectHandler.Get)
			projects.DELETE("/:id", projectHandler.Delete)
			projects.POST("/:id/upload", projectHandler.Upload)
			projects.POST("/:id/ingest-text", projectHandler.IngestText)
			projects.POST("/:id/runs", runHandler.Start)
			projects.GET("/:id/runs", runHandler.GetByProject)
		}

		runs := api.Group("/runs")
		{
			runs.GET("/status", runHandler.QueueStatus) // 调度器状态
			runs.GET("/:run_id", runHandler.Get)
			runs.GET("/:run_id/checkpoints", runHandler.Checkpoints)
			runs.GET("/:run_id/download", runHandler.Download)
			runs.POST("/:run_id/resume", runHandler.Resume)
			runs.POST("/:run_id/cancel", runHandler.Cancel)
		}
	}

	return r
}
