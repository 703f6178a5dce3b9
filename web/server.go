// Package web exposes the engine over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"github.com/assaka/daino/engine"
	"github.com/assaka/daino/internal/logging"
	"github.com/assaka/daino/internal/tenant"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"net/http"
	"time"
)

const (
	// TenantHeader carries the tenant every request acts on.
	TenantHeader = "X-Tenant-ID"
	// TriggerHeader carries the shared secret of POST /internal/tick.
	TriggerHeader = "X-Trigger-Secret"

	maxPageSize = 100
)

type Server struct {
	manager       *engine.JobManager
	scheduler     *engine.Scheduler
	history       *engine.History
	auth          Authorizer
	directory     tenant.Directory
	triggerSecret string
	logger        logrus.FieldLogger
	clock         engine.Clock
	router        *gin.Engine
}

type ServerOption func(*Server)

func WithAuthorizer(a Authorizer) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithDirectory rejects requests for tenants the directory does not know.
// Workers and the tick only serve listed tenants, so rows written for any
// other tenant would never run.
func WithDirectory(d tenant.Directory) ServerOption {
	return func(s *Server) { s.directory = d }
}

// WithTriggerSecret enables POST /internal/tick for callers presenting secret.
func WithTriggerSecret(secret string) ServerOption {
	return func(s *Server) { s.triggerSecret = secret }
}

func WithLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithClock(c engine.Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

func NewServer(manager *engine.JobManager, scheduler *engine.Scheduler, history *engine.History, opts ...ServerOption) *Server {
	s := &Server{
		manager:   manager,
		scheduler: scheduler,
		history:   history,
		auth:      AllowAll{},
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/internal/tick", s.tick)

	api := r.Group("/", s.requireTenant())
	api.POST("/jobs", s.authorize(ActionWrite), s.enqueue)
	api.GET("/jobs", s.authorize(ActionRead), s.listJobs)
	api.GET("/jobs/status", s.authorize(ActionRead), s.jobCounts)
	api.GET("/jobs/:id/status", s.authorize(ActionRead), s.jobStatus)
	api.POST("/jobs/:id/cancel", s.authorize(ActionWrite), s.cancelJob)

	api.GET("/cron-jobs", s.authorize(ActionRead), s.listCronJobs)
	api.POST("/cron-jobs", s.authorize(ActionWrite), s.createCronJob)
	api.GET("/cron-jobs/:id", s.authorize(ActionRead), s.getCronJob)
	api.DELETE("/cron-jobs/:id", s.authorize(ActionWrite), s.deactivateCronJob)
	api.POST("/cron-jobs/:id/pause", s.authorize(ActionWrite), s.pauseCronJob)
	api.POST("/cron-jobs/:id/resume", s.authorize(ActionWrite), s.resumeCronJob)
	api.POST("/cron-jobs/:id/activate", s.authorize(ActionWrite), s.activateCronJob)
	api.POST("/cron-jobs/:id/run", s.authorize(ActionWrite), s.runCronJob)
	api.GET("/cron-jobs/:id/executions", s.authorize(ActionRead), s.cronJobExecutions)

	api.GET("/stats", s.authorize(ActionRead), s.stats)
	return r
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		printBanner(addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"tenant_id": c.GetHeader(TenantHeader),
			"took":      time.Since(start).String(),
		}).Debug("http request")
	}
}

func printBanner(addr string) {
	width := 46
	fmt.Println("##############################################")
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Printf("# %-*s #\n", width-4, "Daino Started")
	fmt.Printf("# %-*s #\n", width-4, fmt.Sprintf("Daino API running on %s", addr))
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Println("##############################################")
}
