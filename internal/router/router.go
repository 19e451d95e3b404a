package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quizdeck/proctor-gateway/internal/config"
	"github.com/quizdeck/proctor-gateway/internal/handler"
	"github.com/quizdeck/proctor-gateway/internal/middleware"
	"github.com/quizdeck/proctor-gateway/internal/response"
	"github.com/quizdeck/proctor-gateway/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokenService *service.TokenService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session start (10 requests per minute per IP). Start
	// is the only endpoint that reaches the upstream before any gateway
	// token check.
	startLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Session Start (Upstream Bearer, Rate Limited) ──────────────
	sessionsAPI := router.Group("/api/v1/sessions")
	{
		sessionsAPI.POST("", startLimiter.Middleware(), handlers.Session.StartSession)
	}

	// ─── 2. Session Operations (Gateway Session Token) ─────────────────
	currentAPI := sessionsAPI.Group("/current")
	currentAPI.Use(middleware.RequireSessionToken(tokenService))
	{
		currentAPI.GET("", handlers.Session.GetState)
		currentAPI.GET("/autosave", handlers.Session.GetAutosave)
		currentAPI.POST("/select", handlers.Session.SelectOption)
		currentAPI.POST("/answers", handlers.Session.SubmitAnswer)
		currentAPI.POST("/submit", handlers.Session.SubmitAttempt)
		currentAPI.POST("/violations", handlers.Session.ReportViolation)
	}

	// ─── 3. WebSocket Group (Session WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSessionWSAuth(tokenService))
	{
		ws.GET("/sessions/stream", handlers.WS.SessionStream)
	}

	return router
}
