// Package httpapi exposes the optimizer over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meal-optimizer/internal/jobs"
	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/planner"
)

// RunStore persists and reads runs.
type RunStore interface {
	Save(ctx context.Context, run *planner.Run) error
	Get(ctx context.Context, tenantID, id string) (*planner.Run, error)
	ListRecentByTenant(ctx context.Context, tenantID string, limit int) ([]planner.Run, error)
}

// HistoryRecorder stores per-call solve metrics.
type HistoryRecorder interface {
	Record(ctx context.Context, m metrics.SolveMetric) error
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server. Pool, Queue and Runs are required.
type Options struct {
	Pool       *jobs.Pool
	Queue      *jobs.Queue
	Runs       RunStore
	History    HistoryRecorder
	DB         Pinger
	DBPath     string
	Collectors *metrics.Collectors
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger

	JWTSecret         string
	CORSOrigins       []string
	SuggestRatePerSec float64
	// MaxSolveTimeout caps the timeout_ms a request may ask for.
	MaxSolveTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	opts    Options
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Collectors == nil {
		reg := prometheus.NewRegistry()
		opts.Collectors = metrics.NewCollectors(reg)
		if opts.Gatherer == nil {
			opts.Gatherer = reg
		}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{opts: opts, logger: opts.Logger}
	if opts.SuggestRatePerSec > 0 {
		burst := max(1, int(opts.SuggestRatePerSec))
		s.limiter = rate.NewLimiter(rate.Limit(opts.SuggestRatePerSec), burst)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsCfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.Use(s.auth())
	{
		api.POST("/optimize", s.optimize)
		api.POST("/suggestions", s.rateLimit(), s.suggestions)

		api.POST("/jobs", s.submitJob)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)

		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
	}
	return r
}
