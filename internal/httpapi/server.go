// Package httpapi exposes batch triggers, run history, health and metrics
// over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"bsewatch/internal/batch"
	"bsewatch/internal/observability/metrics"
	"bsewatch/internal/runtime/supervisor"
	"bsewatch/internal/scheduler"
	"bsewatch/internal/storage"
	logx "bsewatch/pkg/logx"
)

// Runner executes one batch invocation.
type Runner interface {
	Run(ctx context.Context, req batch.Request) (batch.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Runner     Runner
	Runs       storage.RunLog
	Store      Pinger
	Metrics    *metrics.Metrics
	Supervisor *supervisor.Supervisor
	Schedules  func() []scheduler.ScheduleInfo
	// Pprof mounts /debug/pprof behind the key.
	Pprof bool
	Log   logx.Logger
	Now   func() time.Time
}

type Server struct {
	deps   Deps
	engine *gin.Engine

	mu  sync.RWMutex
	key string
	sup *supervisor.Supervisor
}

// New builds the router. An empty key rejects every protected request.
func New(key string, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps, key: strings.TrimSpace(key), sup: deps.Supervisor}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	cron := r.Group("/cron", s.requireKey())
	cron.GET("/:job", s.handleCron)
	cron.POST("/:job", s.handleCron)

	r.GET("/runs", s.requireKey(), s.handleRuns)
	r.GET("/health", s.handleHealth)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Pprof {
		s.mountPprof(r)
	}
	s.engine = r
	return s
}

// SetKey swaps the shared secret checked on /cron and /runs.
func (s *Server) SetKey(key string) {
	s.mu.Lock()
	s.key = strings.TrimSpace(key)
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler { return s.engine }

// SetSupervisor reports goroutine state on /health.
func (s *Server) SetSupervisor(sup *supervisor.Supervisor) {
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.deps.Log.Info("http listening", logx.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.RLock()
		want := s.key
		s.mu.RUnlock()
		got := c.Query("key")
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	log := s.deps.Log
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}

// cronResponse flattens the batch result next to the ok flag.
type cronResponse struct {
	OK bool `json:"ok"`
	batch.Result
}

func (s *Server) handleCron(c *gin.Context) {
	job := c.Param("job")
	if !batch.KnownJob(job) {
		writeJSON(c, http.StatusNotFound, gin.H{"ok": false, "error": "unknown job"})
		return
	}
	req := batch.Request{Job: job}
	if v, err := strconv.Atoi(c.Query("hours_back")); err == nil && v > 0 {
		req.HoursBack = v
	}
	if v, err := strconv.ParseBool(c.Query("force")); err == nil {
		req.Force = v
	}
	if s.deps.Runner == nil {
		writeJSON(c, http.StatusInternalServerError, gin.H{"ok": false, "error": batch.ErrNotConfigured.Error()})
		return
	}

	// A dropped client must not abort a batch half way through.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := s.deps.Runner.Run(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, batch.ErrUnknownJob) {
			status = http.StatusNotFound
		}
		s.deps.Log.Warn("cron run failed", logx.String("job", job), logx.Err(err))
		writeJSON(c, status, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if res.Errors == nil {
		res.Errors = []batch.SubscriberError{}
	}
	writeJSON(c, http.StatusOK, cronResponse{OK: true, Result: res})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		writeJSON(c, http.StatusInternalServerError, gin.H{"ok": false, "error": storage.ErrDisabled.Error()})
		return
	}
	limit := batch.MaxRunGroups
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v < limit {
		limit = v
	}
	entries, err := s.deps.Runs.RecentRuns(c.Request.Context(), batch.RunsScanLimit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	groups := batch.GroupRuns(entries, limit, batch.MaxItemsPerRun)
	if groups == nil {
		groups = []batch.RunGroup{}
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "runs": groups})
}

type healthResponse struct {
	Status     string                   `json:"status"`
	Timestamp  time.Time                `json:"timestamp"`
	Storage    string                   `json:"storage"`
	Goroutines *supervisor.Snapshot     `json:"goroutines,omitempty"`
	Schedules  []scheduler.ScheduleInfo `json:"schedules,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{Status: "ok", Timestamp: s.deps.Now().UTC(), Storage: "disabled"}
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := s.deps.Store.Ping(ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Storage = "error: " + err.Error()
		} else {
			resp.Storage = "connected"
		}
	}
	s.mu.RLock()
	sup := s.sup
	s.mu.RUnlock()
	if sup != nil {
		snap := sup.Snapshot()
		resp.Goroutines = &snap
		if snap.FirstError != "" {
			resp.Status = "degraded"
		}
	}
	if s.deps.Schedules != nil {
		resp.Schedules = s.deps.Schedules()
	}
	writeJSON(c, http.StatusOK, resp)
}

func writeJSON(c *gin.Context, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", b)
}
