package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/surveyforge/codeframe-backend/internal/handlers"
	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

type RouterConfig struct {
	Log               *logger.Logger
	GenerationHandler *handlers.GenerationHandler
	ReviewHandler     *handlers.ReviewHandler
	UsageHandler      *handlers.UsageHandler
	SSEHandler        *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("codeframe-backend"))

	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", cfg.Log)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(origins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Generations
		api.POST("/categories/:categoryID/generations", cfg.GenerationHandler.Start)
		api.GET("/categories/:categoryID/generations/latest", cfg.GenerationHandler.Latest)
		api.GET("/generations/:generationID/status", cfg.GenerationHandler.Status)
		api.POST("/generations/:generationID/apply", cfg.GenerationHandler.Apply)
		api.GET("/generations/:generationID/events", cfg.SSEHandler.Stream)
		api.GET("/generations/:generationID/usage", cfg.UsageHandler.ForGeneration)

		// Review
		api.POST("/nodes/:nodeID/review", cfg.ReviewHandler.SetApproval)
		api.PATCH("/nodes/:nodeID", cfg.ReviewHandler.Edit)

		// Usage
		api.GET("/usage/summary", cfg.UsageHandler.Summary)
	}

	return router
}
