package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sheetbridge/sheetbridge-backend/internal/handlers"
)

type RouterConfig struct {
	SessionHandler *handlers.SessionHandler
	JobsHandler    *handlers.JobsHandler
	Middleware     []gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	for _, mw := range cfg.Middleware {
		router.Use(mw)
	}

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/sessions", cfg.SessionHandler.Create)

		session := api.Group("/sessions/:id")
		session.GET("/headers", cfg.SessionHandler.GetHeaders)
		session.PUT("/mappings", cfg.SessionHandler.SaveMappings)
		session.PUT("/column-counts", cfg.SessionHandler.UpdateColumnCounts)
		session.POST("/formula-rules", cfg.SessionHandler.ApplyFormulaRules)
		session.POST("/formula-rules/preview", cfg.SessionHandler.PreviewFormulaRules)
		session.DELETE("/formula-rules", cfg.SessionHandler.ClearFormulaRules)
		session.GET("/version", cfg.SessionHandler.GetVersion)
		session.GET("/rows", cfg.SessionHandler.GetRows)
		session.DELETE("", cfg.SessionHandler.Delete)

		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
	}

	return router
}
