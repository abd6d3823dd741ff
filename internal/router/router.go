package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam   *handler.ExamHandler
	Queue  *handler.QueueHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID, response.HeaderDeviceID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestID(cfg.DeviceID))
	router.Use(middleware.RequestLogger(log))
	router.Use(metrics.Middleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", metrics.Handler())

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// ─── 1. Shell API (JWT, Rate Limited) ──────────────────────────────
	api := router.Group("/api/v1")
	api.Use(limiter.Middleware(), middleware.NoStore(), middleware.Brotli(), middleware.RequireShellJWT(authService))
	{
		exam := api.Group("/exam")
		exam.POST("/start", handlers.Exam.StartExam)
		exam.GET("/state", handlers.Exam.GetState)
		exam.GET("/questions", handlers.Exam.GetQuestions)
		exam.GET("/resumable", handlers.Exam.GetResumable)
		exam.POST("/answers", handlers.Exam.SetAnswer)
		exam.POST("/next", handlers.Exam.NextQuestion)
		exam.POST("/previous", handlers.Exam.PreviousQuestion)
		exam.POST("/goto", handlers.Exam.GoTo)
		exam.POST("/submit", handlers.Exam.Submit)
		exam.POST("/resume", handlers.Exam.Resume)
		exam.POST("/lifecycle", handlers.Exam.Lifecycle)
		exam.POST("/phase/complete", handlers.Exam.CompletePhase)
		exam.POST("/cancel", handlers.Exam.Cancel)

		queue := api.Group("/queue")
		queue.GET("", handlers.Queue.ListQueue)
		queue.POST("/submit", handlers.Queue.SubmitAll)
		queue.POST("/:id/submit", handlers.Queue.SubmitOne)
		queue.DELETE("/:id", handlers.Queue.DeleteEntry)

		api.POST("/network/restored", handlers.System.NetworkRestored)
	}

	// ─── 2. WebSocket Group (Shell WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireShellWSAuth(authService))
	{
		ws.GET("/exam/stream", handlers.WS.ExamStream)
	}

	return router
}
