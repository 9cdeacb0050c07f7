// Package api exposes the question pipeline and the metrics views over HTTP
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/ecommerce-insights/internal/auth"
	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/history"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
)

const defaultStreamDelay = 20 * time.Millisecond

// MetricsStore serves the precomputed business views
type MetricsStore interface {
	Summary(ctx context.Context) (*database.Summary, error)
	Performance(ctx context.Context) (*database.Performance, error)
	Trends(ctx context.Context) (*database.Trends, error)
	ProductMetrics(ctx context.Context, itemID int64) (*database.ProductMetrics, error)
	Stats(ctx context.Context) (*database.DataStats, error)
}

// HistorySearcher looks up previously answered questions
type HistorySearcher interface {
	FindSimilar(ctx context.Context, question string, limit int) ([]history.Entry, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options wires the server's collaborators. History, Limiter and Health may be nil.
type Options struct {
	Processor     *processor.Processor
	Store         MetricsStore
	History       HistorySearcher
	Auth          *auth.Manager
	Limiter       *auth.RateLimiter
	Health        *observability.HealthChecker
	Logger        *observability.Logger
	Service       string
	Version       string
	AllowedOrigin string
	StreamDelay   time.Duration
}

// Server holds the HTTP handlers
type Server struct {
	processor   *processor.Processor
	store       MetricsStore
	history     HistorySearcher
	auth        *auth.Manager
	limiter     *auth.RateLimiter
	health      *observability.HealthChecker
	logger      *observability.Logger
	service     string
	version     string
	origin      string
	streamDelay time.Duration
}

// NewServer creates a server. A negative StreamDelay disables the pause
// between streamed words.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger("api")
	}
	if opts.Service == "" {
		opts.Service = "ecommerce-insights"
	}
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker(opts.Service, opts.Version)
	}
	if opts.StreamDelay == 0 {
		opts.StreamDelay = defaultStreamDelay
	}
	if opts.StreamDelay < 0 {
		opts.StreamDelay = 0
	}
	return &Server{
		processor:   opts.Processor,
		store:       opts.Store,
		history:     opts.History,
		auth:        opts.Auth,
		limiter:     opts.Limiter,
		health:      opts.Health,
		logger:      opts.Logger,
		service:     opts.Service,
		version:     opts.Version,
		origin:      opts.AllowedOrigin,
		streamDelay: opts.StreamDelay,
	}
}

// Router builds a gin engine with logging, recovery and CORS middleware
// and all routes mounted
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(observability.RecoveryMiddleware(s.logger))
	router.Use(observability.RequestLoggingMiddleware(s.logger))
	router.Use(observability.CORSWithLogging(s.logger, s.origin))
	s.SetupRoutes(router)
	return router
}

// SetupRoutes mounts the public, authenticated and role-restricted routes
func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	router.GET("/health/detailed", s.handleHealthDetailed)
	router.GET("/health/data", s.handleHealthData)
	router.GET("/metrics", s.handleMetrics)

	public := router.Group("/api/v1")
	public.GET("/health", s.handleHealthDetailed)

	protected := router.Group("/api/v1", s.auth.Middleware())
	if s.limiter != nil {
		protected.Use(s.limiter.Middleware())
	}

	auth.NewHandlers(s.auth, s.limiter, s.logger.Named("auth")).SetupRoutes(public, protected)

	protected.POST("/query", s.handleQuery)
	protected.POST("/query/analyze", s.handleAnalyze)
	protected.POST("/query/batch", s.handleBatch)
	protected.POST("/query/stream", s.handleStream)
	protected.GET("/query/examples", s.handleExamples)
	protected.POST("/sql/execute", s.auth.RequireRole(auth.RoleAnalyst, auth.RoleAdmin), s.handleExecuteSQL)

	protected.GET("/metrics/summary", s.handleSummary)
	protected.GET("/metrics/performance", s.handlePerformance)
	protected.GET("/metrics/trends", s.handleTrends)
	protected.GET("/metrics/products/:item_id", s.handleProduct)

	protected.GET("/history/similar", s.handleSimilar)
	protected.GET("/history/recent", s.handleRecent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    observability.HealthStatusHealthy,
		"service":   s.service,
		"version":   s.version,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleHealthDetailed(c *gin.Context) {
	resp := s.health.GetHealthResponse(c.Request.Context())
	status := http.StatusOK
	if resp.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) handleHealthData(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), "Failed to read data stats", err, nil)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    observability.HealthStatusHealthy,
		"data":      stats,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":   observability.GetGlobalMetrics().GetAll(),
		"timestamp": time.Now().UTC(),
	})
}
