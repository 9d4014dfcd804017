package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/prepline/examd/internal/config"
	"github.com/prepline/examd/internal/handler"
	"github.com/prepline/examd/internal/middleware"
	"github.com/prepline/examd/internal/response"
	"github.com/prepline/examd/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Paper   *handler.PaperHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// If AllowedOrigins is set in config, restrict to that list; otherwise
	// allow all so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for the save/heartbeat endpoints: these arrive on a timer
	// from every open exam screen.
	saveLimiter := middleware.NewRateLimiter(cfg.SaveRateLimit, time.Minute)

	api := router.Group("/api/v1")
	api.Use(middleware.RequireUserJWT(authService))
	{
		api.GET("/papers", handlers.Paper.List)
		api.GET("/papers/:paper_id", handlers.Paper.Get)

		api.GET("/attempts", handlers.Attempt.History)
		api.POST("/attempts", handlers.Attempt.Start)
		api.GET("/attempts/:attempt_id", handlers.Attempt.State)
		api.POST("/attempts/:attempt_id/session", handlers.Attempt.IssueSession)
		api.POST("/attempts/:attempt_id/force-resume", handlers.Attempt.ForceResume)
		api.POST("/attempts/:attempt_id/pause", handlers.Attempt.Pause)
		api.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		api.GET("/attempts/:attempt_id/result", handlers.Attempt.Result)
		api.PUT("/attempts/:attempt_id/responses/:question_id/note", handlers.Attempt.SetNote)

		saves := api.Group("")
		saves.Use(saveLimiter.Middleware())
		{
			saves.POST("/attempts/:attempt_id/responses", handlers.Attempt.SaveResponse)
			saves.POST("/attempts/:attempt_id/responses/batch", handlers.Attempt.SaveBatch)
			saves.POST("/attempts/:attempt_id/progress", handlers.Attempt.Progress)
		}
	}

	return router
}
