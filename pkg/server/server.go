// Package server exposes the session surface over HTTP. It is a thin
// gin adapter: all decisions live in the session registry, the server
// only translates requests, responses and error codes.
package server

import (
	"encoding/json"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/didip/tollbooth_gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/session"
)

// UserLister is the slice of the template store the server needs for
// the enrollment listing endpoint.
type UserLister interface {
	List() ([]string, error)
}

// Server is the HTTP adapter over the session registry.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	users    UserLister
	engine   *gin.Engine
	validate *validator.Validate
}

// New creates a server with middleware and routes installed.
func New(cfg *config.Config, registry *session.Registry, users UserLister) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		users:    users,
		engine:   gin.New(),
		validate: validator.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger())
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api/v1")
	api.Use(tokenBucketPerIP(cfg.Server.RateLimitRPS))
	{
		api.POST("/sessions", s.handleCreateSession)
		api.POST("/sessions/:id/liveness", s.handleBeginLiveness)
		api.POST("/sessions/:id/frames", s.handleSubmitFrame)
		api.POST("/sessions/:id/reset", s.handleReset)
		api.GET("/sessions/:id/status", s.handleStatus)
		api.GET("/sessions/:id/emotions", s.handleEmotionStream)
		api.GET("/users", s.handleListUsers)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "route not found"})
	})

	return s
}

// Engine returns the underlying gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	logging.Infof("FaceGate listening on %s", s.cfg.Server.Addr)
	return s.engine.Run(s.cfg.Server.Addr)
}

// tokenBucketPerIP rate-limits each client IP with a token bucket.
func tokenBucketPerIP(rps float64) gin.HandlerFunc {
	message, _ := json.Marshal(gin.H{
		"error": "too many requests, slow down",
	})

	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Minute,
	})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(string(message))

	return tollbooth_gin.LimitHandler(lmt)
}

// requestLogger logs one line per handled request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.WithFields(logging.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	}
}
