package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// readinessTimeout is the per-dependency timeout for readiness checks.
const readinessTimeout = 2 * time.Second

// Build-time version information, set via -ldflags:
//
//	go build -ldflags "-X api.Version=1.0.0 -X api.GitCommit=abc1234 -X api.BuildTime=2026-08-01T12:00:00Z"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthChecker verifies that a dependency is reachable and healthy.
// Implementations should be lightweight (Ping, BucketExists).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckResult holds the outcome of a single dependency health check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadinessResponse is the structured JSON returned by GET /health/ready.
type ReadinessResponse struct {
	Status string                 `json:"status"` // "ready" or "not_ready"
	Checks map[string]CheckResult `json:"checks"`
}

// HandleHealthLive is a lightweight liveness probe. Always returns 200 with
// version and build information.
func (s *Server) HandleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	})
}

// HandleHealth is the backward-compatible health endpoint, aliasing the
// liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.HandleHealthLive(w, r)
}

// HandleHealthReady checks all configured dependencies concurrently and
// returns 200 when all are healthy, 503 otherwise. Each check runs with its
// own 2s timeout. A server with no Postgres or S3 configured is still ready.
func (s *Server) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	checkers := s.healthCheckers()
	if len(checkers) == 0 {
		writeJSON(w, http.StatusOK, ReadinessResponse{
			Status: "ready",
			Checks: map[string]CheckResult{},
		})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(checkers))
		wg     sync.WaitGroup
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(n string, c HealthChecker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			res := CheckResult{Status: "ok"}
			if err := c.HealthCheck(ctx); err != nil {
				res = CheckResult{Status: "error", Error: err.Error()}
			}
			mu.Lock()
			checks[n] = res
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	resp := ReadinessResponse{Status: "ready", Checks: checks}
	status := http.StatusOK
	for _, res := range checks {
		if res.Status != "ok" {
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) healthCheckers() map[string]HealthChecker {
	checkers := make(map[string]HealthChecker)
	if s.DBHealth != nil {
		checkers["postgres"] = s.DBHealth
	}
	if s.S3Health != nil {
		checkers["s3"] = s.S3Health
	}
	return checkers
}

// HandleMetrics returns application metrics in Prometheus text exposition
// format, suitable for scraping without pulling in a client library.
func (s *Server) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP transd_info Build information about transd.\n")
	fmt.Fprintf(w, "# TYPE transd_info gauge\n")
	fmt.Fprintf(w, "transd_info{version=%q,git_commit=%q,go_version=%q} 1\n", Version, GitCommit, runtime.Version())

	fmt.Fprintf(w, "# HELP transd_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE transd_goroutines gauge\n")
	fmt.Fprintf(w, "transd_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP transd_memory_alloc_bytes Current memory allocation in bytes.\n")
	fmt.Fprintf(w, "# TYPE transd_memory_alloc_bytes gauge\n")
	fmt.Fprintf(w, "transd_memory_alloc_bytes %d\n", memStats.Alloc)

	fmt.Fprintf(w, "# HELP transd_gc_completed_total Total number of completed GC cycles.\n")
	fmt.Fprintf(w, "# TYPE transd_gc_completed_total counter\n")
	fmt.Fprintf(w, "transd_gc_completed_total %d\n", memStats.NumGC)

	fmt.Fprintf(w, "# HELP transd_jobs_live Jobs currently pending or running.\n")
	fmt.Fprintf(w, "# TYPE transd_jobs_live gauge\n")
	fmt.Fprintf(w, "transd_jobs_live %d\n", s.Registry.Live())

	stats := s.Engine.Stats()
	fmt.Fprintf(w, "# HELP transd_cache_lookups_total Translation cache lookups.\n")
	fmt.Fprintf(w, "# TYPE transd_cache_lookups_total counter\n")
	fmt.Fprintf(w, "transd_cache_lookups_total %d\n", stats.Cache.TotalLookups)

	fmt.Fprintf(w, "# HELP transd_cache_hits_total Translation cache hits (memory plus database).\n")
	fmt.Fprintf(w, "# TYPE transd_cache_hits_total counter\n")
	fmt.Fprintf(w, "transd_cache_hits_total %d\n", stats.Cache.HitsL1+stats.Cache.HitsL2)

	if s.SSELimiter != nil {
		fmt.Fprintf(w, "# HELP transd_sse_connections_active Current number of active SSE connections.\n")
		fmt.Fprintf(w, "# TYPE transd_sse_connections_active gauge\n")
		fmt.Fprintf(w, "transd_sse_connections_active %d\n", s.SSELimiter.GlobalCount())
	}
}
