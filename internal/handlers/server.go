package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/metrics"
	"github.com/visite/visite-admin/internal/services"
)

// Services are the domain services the HTTP layer exposes
type Services struct {
	Forms       *services.FormService
	Sessions    *services.SessionService
	Submissions *services.SubmissionService
	Map         *services.MapService
	Territory   *services.TerritoryService
	Analytics   *services.AnalyticsService

	Notifications *services.NotificationService
	Email         *services.EmailService
}

type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
	admin      *adminSessions

	formService       *services.FormService
	sessionService    *services.SessionService
	submissionService *services.SubmissionService
	mapService        *services.MapService
	territoryService  *services.TerritoryService
	analyticsService  *services.AnalyticsService

	notificationService *services.NotificationService
	emailService        *services.EmailService
}

func NewServer(cfg *config.Config, svc Services, logger zerolog.Logger) *Server {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config:            cfg,
		router:            router,
		logger:            logger.With().Str("component", "http").Logger(),
		admin:             newAdminSessions(cfg.Admin.SessionTTL),
		formService:       svc.Forms,
		sessionService:    svc.Sessions,
		submissionService: svc.Submissions,
		mapService:        svc.Map,
		territoryService:  svc.Territory,
		analyticsService:  svc.Analytics,

		notificationService: svc.Notifications,
		emailService:        svc.Email,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return server
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// CORS
	corsConfig := cors.Config{
		AllowOrigins:     s.config.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		// gin-contrib/cors rejects credentials with a wildcard origin
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	s.router.Use(cors.New(corsConfig))

	s.router.Use(metrics.Middleware())

	// Rate limiting
	if s.config.Server.RateLimiting.Enabled {
		s.router.Use(rateLimitMiddleware(s.config.Server.RateLimiting.RequestsPerMinute))
	}

	// Request logging
	s.router.Use(requestLogger(s.logger))
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", metrics.Handler())

	// API routes
	api := s.router.Group("/api")
	{
		forms := api.Group("/forms")
		{
			forms.GET("", s.listForms)
			forms.GET("/:uuid", s.getForm)
		}

		// Fill sessions
		sessions := api.Group("/sessions")
		{
			sessions.POST("", s.startSession)
			sessions.GET("/:id", s.getSession)
			sessions.DELETE("/:id", s.discardSession)
			sessions.POST("/:id/reload", s.reloadSession)
			sessions.PUT("/:id/values", s.setValue)
			sessions.PUT("/:id/location", s.setLocation)
			sessions.POST("/:id/validate", s.validateSession)
			sessions.POST("/:id/submit", s.submitSession)
		}

		mapGroup := api.Group("/map")
		{
			mapGroup.GET("/markers", s.getMarkers)
			mapGroup.POST("/select", s.selectMarker)
			mapGroup.POST("/refresh", s.refreshMarkers)
		}

		// Auth routes
		api.POST("/admin/login", s.adminLogin)

		// Admin routes (require authentication)
		admin := api.Group("/admin")
		admin.Use(s.requireAdminAuth())
		{
			registerCatalog(admin, "countries", s.territoryService.Countries)
			registerCatalog(admin, "provinces", s.territoryService.Provinces)
			registerCatalog(admin, "areas", s.territoryService.Areas)
			registerCatalog(admin, "users", s.territoryService.Users)

			admin.GET("/submissions", s.getSubmissions)
			admin.GET("/submissions/summary", s.getSubmissionSummary)
			admin.DELETE("/submissions", s.cleanupSubmissions)

			admin.GET("/drafts", s.listDrafts)
			admin.POST("/notifications", s.sendNotification)
			admin.POST("/notifications/test", s.sendTestNotification)
			admin.POST("/email/test", s.sendTestEmail)
			admin.POST("/logout", s.adminLogout)
		}
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).
			Msg("request")
	}
}

func rateLimitMiddleware(requestsPerMinute int) gin.HandlerFunc {
	// In-memory sliding window per client IP
	var mu sync.Mutex
	clients := make(map[string][]time.Time)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		now := time.Now()

		mu.Lock()
		var valid []time.Time
		for _, ts := range clients[clientIP] {
			if now.Sub(ts) < time.Minute {
				valid = append(valid, ts)
			}
		}

		if len(valid) >= requestsPerMinute {
			clients[clientIP] = valid
			mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "Rate limit exceeded",
				"code":        http.StatusTooManyRequests,
				"retry_after": 60,
			})
			return
		}

		clients[clientIP] = append(valid, now)
		mu.Unlock()
		c.Next()
	}
}
