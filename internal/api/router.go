// Package api provides the HTTP API handlers for transd.
// All endpoints are mounted under /api/v1.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fcs7/translate-php-tool/internal/config"
	"github.com/fcs7/translate-php-tool/internal/domain"
	"github.com/fcs7/translate-php-tool/internal/engine"
	"github.com/fcs7/translate-php-tool/internal/events"
	"github.com/fcs7/translate-php-tool/internal/job"
)

// maxUploadSize caps the multipart upload body (100MB). Localization trees
// are small; anything bigger is a mistake or an attack.
const maxUploadSize = 100 << 20

// Structured error type codes for machine-readable error categorization.
// These classify errors into broad categories independent of the HTTP status code.
const (
	ErrorTypeValidation  = "VALIDATION"  // request data failed validation
	ErrorTypeNotFound    = "NOT_FOUND"   // requested resource does not exist
	ErrorTypeConflict    = "CONFLICT"    // request conflicts with current resource state
	ErrorTypeRateLimit   = "RATE_LIMIT"  // too many requests
	ErrorTypeInternal    = "INTERNAL"    // unexpected server error
	ErrorTypeUnavailable = "UNAVAILABLE" // dependency or feature not available
)

// APIError is the structured JSON error envelope returned by all API error responses.
// Format: {"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "human-readable message"}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// errorTypeFromStatus maps HTTP status codes to broad error type categories.
func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response. All API errors use
// this format so clients only need to handle one shape.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// ValidateJobID rejects malformed job identifiers before any handler runs.
func ValidateJobID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chi.URLParam(r, "jobID"); id != "" && !domain.ValidJobID(id) {
			errorJSON(w, "job id must be 8 lowercase hex characters", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Server holds dependencies for all API handlers.
type Server struct {
	Registry  *job.Registry
	Runner    *job.Runner
	Engine    *engine.Engine
	Hub       *events.Hub
	Config    *config.Config
	Artifacts job.ArtifactStore // optional mirror, used on delete

	CORSOrigins []string       // Allowed CORS origins. Defaults to ["http://localhost:3000"].
	SSELimiter  *SSELimiter    // Concurrent SSE connection limiter. Nil = uses a default limiter.
	Uploads     *UploadLimiter // Per-IP upload spacing. Nil = no upload rate limit.

	DBHealth HealthChecker // Postgres health check (pool.Ping). Nil = skip.
	S3Health HealthChecker // S3/MinIO health check (BucketExists). Nil = skip.
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.SSELimiter == nil {
		srv.SSELimiter = NewSSELimiter()
	}

	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Health (unauthenticated, outside /api/v1)
	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	r.Get("/metrics", srv.HandleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", srv.HandleCreateJob)
		r.Get("/jobs", srv.HandleListJobs)
		r.Get("/engine/stats", srv.HandleEngineStats)

		// ValidateJobID needs URL params, which are only available after chi
		// matches the route, so it wraps handlers via With rather than Use.
		jr := r.With(ValidateJobID)
		jr.Get("/jobs/{jobID}", srv.HandleGetJob)
		jr.Post("/jobs/{jobID}/cancel", srv.HandleCancelJob)
		jr.Delete("/jobs/{jobID}", srv.HandleDeleteJob)
		jr.Get("/jobs/{jobID}/download", srv.HandleDownloadOutput)
		jr.Get("/jobs/{jobID}/download/voipnow", srv.HandleDownloadVoipnow)
		jr.Get("/jobs/{jobID}/events", srv.HandleJobEvents)
	})

	return r
}
