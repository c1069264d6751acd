// Package api assembles the HTTP router of the manager.
package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jannetahkola/mc-server-manager/internal/api/handlers"
	"github.com/jannetahkola/mc-server-manager/internal/api/middleware"
	"github.com/jannetahkola/mc-server-manager/internal/auth"
	"github.com/jannetahkola/mc-server-manager/internal/engine"
)

// SetupRouter configures and returns the HTTP router together with a
// function that waits for background operations started by handlers.
func SetupRouter(eng *engine.Engine) (*gin.Engine, func()) {
	cfg := eng.Config

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit.Enabled, cfg.Security.RateLimit.RequestsPerMinute))
	router.Use(middleware.SecurityHeaders(cfg.Server.TLS.Enabled))

	processHandler := handlers.NewProcessHandler(eng.Process, eng.Events)
	gameHandler := handlers.NewGameHandler(eng.Status, eng.Console, eng.Events)
	filesHandler := handlers.NewFilesHandler(eng.Files, cfg.Download.URI, cfg.Download.Destination)
	consoleHandler := handlers.NewConsoleHandler(eng.Sessions, eng.Relay, eng.Events, cfg.Security.CORS.AllowedOrigins)

	admin := middleware.RequireRole(auth.RoleAdmin)

	protected := router.Group("/api/v1")
	protected.Use(middleware.Auth(eng.JWT))
	{
		process := protected.Group("/process")
		{
			process.GET("/status", processHandler.Status)
			process.GET("/events", processHandler.Events)
			process.GET("/metrics", processHandler.Metrics)
			process.POST("/start", admin, processHandler.Start)
			process.POST("/stop", admin, processHandler.Stop)
		}

		game := protected.Group("/game")
		{
			game.GET("/status", gameHandler.Status)
			game.POST("/console", admin, gameHandler.Console)
		}

		filesGroup := protected.Group("/files")
		{
			filesGroup.GET("/status", filesHandler.Status)
			filesGroup.POST("/download", admin, filesHandler.Download)
		}

		protected.GET("/console/commands", consoleHandler.Commands)

		// WebSocket clients pass the token as ?token=
		protected.GET("/ws/console", consoleHandler.HandleWebSocket)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"process": eng.Process.Status(),
		})
	})

	shutdown := func() {
		log.Println("Waiting for background server operations to complete...")
		processHandler.WaitForCompletion()
		log.Println("Background operations completed")
	}

	return router, shutdown
}
