package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PratikDhanave/ato-scoring-service/internal/artifacts"
	"github.com/PratikDhanave/ato-scoring-service/internal/auth"
	"github.com/PratikDhanave/ato-scoring-service/internal/config"
	"github.com/PratikDhanave/ato-scoring-service/internal/handlers"
	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
)

// Store is the database surface the HTTP API needs.
type Store interface {
	Ping(ctx context.Context) error
	handlers.SummaryStore
}

// ArtifactInfo is the read-only artifact view shown on /ready.
type ArtifactInfo interface {
	FeatureOrder() []string
	LoadedAt() time.Time
	ReloadPolicy() artifacts.ReloadPolicy
}

// Deps are the collaborators behind the HTTP endpoints.
type Deps struct {
	Store     Store
	Publisher handlers.EventPublisher
	Artifacts ArtifactInfo
	// StreamRunning reports whether the stream router is consuming.
	StreamRunning func() bool
	// Breakers maps a circuit breaker name to its current state.
	Breakers map[string]func() string
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Authenticated: POST /events, GET /results/summary
func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestContext())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: the DB is reachable and the stream router is consuming.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		body := gin.H{"status": "ready"}
		if deps.Artifacts != nil {
			body["artifacts"] = gin.H{
				"reload_policy": deps.Artifacts.ReloadPolicy(),
				"feature_width": len(deps.Artifacts.FeatureOrder()),
				"loaded_at":     deps.Artifacts.LoadedAt().Format(time.RFC3339),
			}
		}
		if len(deps.Breakers) > 0 {
			states := gin.H{}
			for name, state := range deps.Breakers {
				states[name] = state()
			}
			body["breakers"] = states
		}

		status := http.StatusOK
		if err := deps.Store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
			body["error"] = err.Error()
		}
		running := deps.StreamRunning == nil || deps.StreamRunning()
		body["stream_running"] = running
		if !running {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
		}
		c.JSON(status, body)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth group enforces a known client via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.Server.APIKeys))

	handlers.RegisterEventRoutes(authGroup, deps.Publisher, cfg.Stream.InputTopic)
	handlers.RegisterSummaryRoutes(authGroup, deps.Store, cfg.Database.ResultsTable)

	return r
}

// NewServer builds the *http.Server run by the supervisor.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// requestContext attaches a correlation id (X-Correlation-ID or a new one)
// and logs each request at debug level.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		cid := c.GetHeader("X-Correlation-ID")
		if cid == "" {
			cid = logging.GenerateCorrelationID()
		}
		c.Header("X-Correlation-ID", cid)
		c.Request = c.Request.WithContext(logging.ContextWithCorrelationID(c.Request.Context(), cid))

		c.Next()

		logging.Ctx(c.Request.Context()).Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
