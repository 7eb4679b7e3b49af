package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/sheetbridge/sheetbridge-backend/internal/clients/redis"
	"github.com/sheetbridge/sheetbridge-backend/internal/db"
	"github.com/sheetbridge/sheetbridge-backend/internal/handlers"
	"github.com/sheetbridge/sheetbridge-backend/internal/jobs/pipeline"
	"github.com/sheetbridge/sheetbridge-backend/internal/jobs/runtime"
	"github.com/sheetbridge/sheetbridge-backend/internal/jobs/worker"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/middleware"
	"github.com/sheetbridge/sheetbridge-backend/internal/repos"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/server"
	"github.com/sheetbridge/sheetbridge-backend/internal/services"
	"github.com/sheetbridge/sheetbridge-backend/internal/utils"
)

// allowedPageSizes is the whitelist for the rows endpoint page size. Values
// outside it fall back to the default.
var allowedPageSizes = map[int]bool{50: true, 100: true, 200: true, 500: true, 1000: true, 2000: true, 3000: true}

const defaultPageSize = 100

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	pageSize := utils.GetEnvAsInt("PAGE_SIZE", defaultPageSize, log)
	if !allowedPageSizes[pageSize] {
		log.Warn("PAGE_SIZE outside whitelist, falling back", "requested", pageSize, "fallback", defaultPageSize)
		pageSize = defaultPageSize
	}

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err = dbService.AutoMigrateAll(); err != nil {
		log.Error("Database auto migration failed", "error", err)
		os.Exit(1)
	}
	theDB := dbService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	sessionRepo := repos.NewMappingSessionRepo(theDB, log)
	jobRunRepo := repos.NewJobRunRepo(theDB, log)

	// Version cache (optional)
	versions, err := redis.NewVersionCache(log)
	if err != nil {
		log.Warn("Running without version cache", "error", err)
		versions = nil
	}

	// Services
	log.Info("Setting up Services from main...")
	engine := rules.NewEngine(log)
	sessionService := services.NewSessionService(theDB, log, sessionRepo, jobRunRepo, engine, versions, pageSize)

	// Job worker
	log.Info("Setting up job worker from main...")
	registry := runtime.NewRegistry()
	if err := registry.Register(pipeline.NewSessionRebuild(log, sessionRepo, versions)); err != nil {
		log.Error("Register session rebuild handler", "error", err)
		os.Exit(1)
	}
	if err := registry.Register(pipeline.NewFormulaApply(log, sessionRepo, versions)); err != nil {
		log.Error("Register formula apply handler", "error", err)
		os.Exit(1)
	}
	jobWorker := worker.NewWorker(theDB, log, jobRunRepo, registry)
	jobWorker.Start(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	sessionHandler := handlers.NewSessionHandler(sessionService)
	jobsHandler := handlers.NewJobsHandler(jobRunRepo)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		SessionHandler: sessionHandler,
		JobsHandler:    jobsHandler,
		Middleware:     []gin.HandlerFunc{middleware.RequestLogger(log)},
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
