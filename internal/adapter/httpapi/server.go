// Package httpapi serves the daemon's read-only HTTP API: health, metrics,
// registered jobs with their run history, and an expression preview.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"krontab/internal/adapter/journal"
)

// JobInfo is the API view of a registered job.
type JobInfo struct {
	Name     string       `json:"name"`
	Schedule string       `json:"schedule"`
	Timezone string       `json:"timezone"`
	Action   string       `json:"action"`
	Target   string       `json:"target"`
	Overlap  string       `json:"overlap"`
	Timeout  string       `json:"timeout,omitempty"`
	Attempts int          `json:"attempts"`
	Disabled bool         `json:"disabled,omitempty"`
	Next     *time.Time   `json:"next,omitempty"`
	Prev     *time.Time   `json:"prev,omitempty"`
	LastRun  *journal.Run `json:"last_run,omitempty"`
}

// Registry lists the daemon's jobs. Job returns an error of kind NotFound for
// unknown names.
type Registry interface {
	Jobs() []JobInfo
	Job(name string) (JobInfo, error)
}

// Runs reads the run journal.
type Runs interface {
	Recent(ctx context.Context, job string, limit int) ([]journal.Run, error)
	Last(ctx context.Context, job string) (journal.Run, error)
	Ping(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	Addr      string
	Env       string
	RateLimit float64
	RateBurst int
	// Location is the default zone of /v1/schedules/next.
	Location *time.Location
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Registry Registry
	Runs     Runs
	Metrics  http.Handler
	Logger   *slog.Logger
}

// Server wraps a gin engine in an http.Server.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	log    *slog.Logger
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "httpapi"))
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Runs == nil {
		deps.Runs = journal.Nop{}
	}

	h := &handlers{registry: deps.Registry, runs: deps.Runs, loc: cfg.Location}

	r := gin.New()
	r.Use(recovery(log), requestLogger(log))
	r.GET("/healthz", h.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := r.Group("/v1", NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware())
	if deps.Registry != nil {
		v1.GET("/jobs", h.listJobs)
		v1.GET("/jobs/:name", h.getJob)
		v1.GET("/jobs/:name/runs", h.listRuns)
	}
	v1.GET("/schedules/next", h.nextOccurrences)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Error: "route not found", Kind: "NotFound"})
	})

	return &Server{
		engine: r,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       time.Minute,
		},
		log: log,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. A Shutdown yields nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("http api listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
