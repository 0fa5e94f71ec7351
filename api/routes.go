package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/docstack/docstack/api/handlers"
	"github.com/docstack/docstack/api/middleware"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-DOCSTACK-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		documents := api.Group("/documents")
		{
			documents.POST("", handlers.UploadDocument(s.Store, s.Dispatcher))
			documents.GET("/:id", handlers.GetDocument(repos))
		}

		taskRoutes := api.Group("/tasks")
		{
			taskRoutes.GET("", handlers.ListTasks(repos))
			taskRoutes.GET("/:id", handlers.GetTask(repos))
		}

		api.GET("/task-groups/:id", handlers.GetTaskGroup(repos))
	}
}
