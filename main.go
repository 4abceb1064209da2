package main

import (
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/auth"
	"github.com/gamevault/gamevault/config"
	"github.com/gamevault/gamevault/database"
	"github.com/gamevault/gamevault/handlers"
	"github.com/gamevault/gamevault/middleware"
	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/ratelimit"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/services"
	"github.com/gamevault/gamevault/steam"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.Printf("Configuration loaded - Base URL: %s, Library: %s", cfg.BaseURL, cfg.LibraryDir)

	// Initialize database
	if err := database.Init(cfg.DBPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Screenshot library on disk
	library, err := services.NewLibrary(cfg.LibraryDir)
	if err != nil {
		log.Fatalf("Failed to initialize library: %v", err)
	}

	// Initialize repositories
	gameRepo := repository.NewGameRepository()
	screenshotRepo := repository.NewScreenshotRepository()
	sessionRepo := repository.NewImportSessionRepository()
	eventRepo := repository.NewImportEventRepository()
	apiKeyRepo := repository.NewAPIKeyRepository()

	// Initialize services
	bus := progress.NewBus()
	limiter := ratelimit.New(cfg.ImportRateLimit)
	scraper := steam.NewScraper(limiter)
	jwtService := auth.NewJWTService(cfg.SecretKey, cfg.TokenExpiryDays)

	gameService := services.NewGameService(gameRepo, library)
	ingestService := services.NewIngestService(screenshotRepo, library, cfg.ThumbnailQuality)
	importService := services.NewSteamImportService(sessionRepo, eventRepo, gameService, ingestService, scraper, bus)
	uploadService := services.NewUploadService(gameService, ingestService, bus)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg, jwtService, apiKeyRepo)
	gameHandler := handlers.NewGameHandler(gameRepo, gameService, library)
	screenshotHandler := handlers.NewScreenshotHandler(screenshotRepo, gameService, library)
	searchHandler := handlers.NewSearchHandler(screenshotRepo)
	steamHandler := handlers.NewSteamHandler(importService, sessionRepo, eventRepo, bus)
	uploadHandler := handlers.NewUploadHandler(uploadService, gameRepo, gameService, bus, cfg.MaxUploadSizeBytes())

	r := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.BaseURL}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Api-Key"}
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		// Token issuance (public)
		api.POST("/auth/token", authHandler.IssueToken)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.RequireAuth(jwtService, apiKeyRepo, cfg.DisableAuth))
		{
			// API keys
			protected.POST("/keys", authHandler.CreateKey)
			protected.GET("/keys", authHandler.ListKeys)
			protected.DELETE("/keys/:id", authHandler.RevokeKey)

			// Games
			protected.GET("/games", gameHandler.List)
			protected.POST("/games", gameHandler.Create)
			protected.GET("/games/:id", gameHandler.Get)
			protected.DELETE("/games/:id", gameHandler.Delete)
			protected.GET("/games/:id/screenshots", screenshotHandler.ListByGame)

			// Screenshots
			protected.GET("/screenshots/:id", screenshotHandler.Get)
			protected.GET("/screenshots/:id/file", screenshotHandler.ServeFile)
			protected.GET("/screenshots/:id/thumb/:size", screenshotHandler.ServeThumb)
			protected.DELETE("/screenshots/:id", screenshotHandler.Delete)
			protected.POST("/screenshots/:id/favorite", screenshotHandler.ToggleFavorite)

			// Search
			protected.GET("/search", searchHandler.Search)

			// Steam import pipeline
			protected.POST("/steam/validate", steamHandler.ValidateProfile)
			protected.POST("/steam/games", steamHandler.ListGames)
			protected.POST("/steam/import", steamHandler.StartImport)
			protected.GET("/steam/import/:session_id", steamHandler.GetSession)
			protected.GET("/steam/import/:session_id/progress", steamHandler.StreamProgress)
			protected.POST("/steam/import/:session_id/cancel", steamHandler.CancelImport)

			// Direct uploads
			protected.POST("/upload", uploadHandler.Upload)
			protected.GET("/upload/progress/:task_id", uploadHandler.StreamProgress)
		}
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
