package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/audit"
	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/eventbus"
	"github.com/sescanella/spoolflow/handler"
	sfmw "github.com/sescanella/spoolflow/middleware"
	"github.com/sescanella/spoolflow/observability"
	"github.com/sescanella/spoolflow/sheets"
	"github.com/sescanella/spoolflow/spools"
	"github.com/sescanella/spoolflow/unions"
	"github.com/sescanella/spoolflow/workflow"
)

// Deps bundles the wired services NewRouter needs to build every
// handler. Mirrors the teacher's variadic-opts pattern but typed,
// since every field here is required except Metrics and Tracer, which
// may be nil.
type Deps struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Workflow   *workflow.Workflow
	UnionsRepo *unions.Repository
	SpoolsRepo *spools.Repository
	AuditLog   *audit.Log
	Bus        *eventbus.Bus
	Columns    *sheets.ColumnCache
	Poller     *sheets.HealthPoller
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// NewRouter returns a configured chi Router with the full middleware
// chain and all occupation-workflow routes mounted.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	cfg := d.Config
	appLogger := d.Logger

	// --- Middleware chain (order matters, per §4.11) ---
	// 1. CORS — must be first so preflight responses succeed.
	r.Use(sfmw.CORSMiddleware([]string{"*"}))

	// 2. Security headers.
	r.Use(sfmw.SecurityHeadersMiddleware)

	// 3. Request ID.
	r.Use(sfmw.RequestIDMiddleware)

	// 4. Panic recovery.
	r.Use(chimw.Recoverer)

	// 5. Request logger.
	r.Use(mwRequestLogger(appLogger))

	if d.Tracer != nil {
		r.Use(observability.TracingMiddleware(d.Tracer))
	}

	// 6. Body size limit.
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Health endpoints (no worker identity required) ---
	healthHandler := handler.NewHealthHandler(d.AuditLog, d.Poller)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/health", healthHandler.Health)

	if d.Metrics != nil && cfg.MetricsEnabled {
		r.Get("/metrics", d.Metrics.Handler())
	}

	r.Get("/openapi.json", handler.OpenAPIHandler())
	r.Get("/docs", handler.SwaggerUIHandler())

	// --- Occupation workflow routes (worker identity + rate limit + timeout) ---
	workerIdentity := sfmw.NewWorkerIdentity(appLogger, cfg.WorkerIDHeader, cfg.WorkerInitialsHeader)
	rateLimiter := sfmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	timeoutMW := sfmw.NewTimeoutMiddleware(appLogger, cfg)

	occupationHandler := handler.NewOccupationHandler(d.Workflow)
	unionesHandler := handler.NewUnionesHandler(d.UnionsRepo, d.SpoolsRepo)
	dashboardHandler := handler.NewDashboardHandler(d.Bus, appLogger)
	cacheHandler := handler.NewCacheHandler(d.Columns)

	r.Route("/v4", func(r chi.Router) {
		r.Use(workerIdentity.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/occupation/iniciar", occupationHandler.Iniciar)
		r.Post("/occupation/finalizar", occupationHandler.Finalizar)
		r.Post("/occupation/cancelar", occupationHandler.Cancelar)

		r.Get("/uniones/{tag}/disponibles", unionesHandler.Disponibles)
		r.Get("/uniones/{tag}/metricas", unionesHandler.Metricas)
	})

	// The dashboard stream is long-lived; it skips the response
	// timeout middleware (which would cut the connection at
	// DefaultTimeout) but keeps worker identity and rate limiting.
	r.Route("/v4/dashboard", func(r chi.Router) {
		r.Use(workerIdentity.Handler)
		r.Use(rateLimiter.Handler)
		r.Get("/stream", dashboardHandler.Stream)
	})

	r.Route("/v3/occupation", func(r chi.Router) {
		r.Use(workerIdentity.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/tomar", occupationHandler.Tomar)
		r.Post("/pausar", occupationHandler.Pausar)
		r.Post("/completar", occupationHandler.Completar)
	})

	r.Route("/admin/cache", func(r chi.Router) {
		r.Use(workerIdentity.Handler)
		r.Post("/invalidate", cacheHandler.InvalidateAll)
		r.Post("/{worksheet}/invalidate", cacheHandler.InvalidateWorksheet)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024 // default 1MB
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("SPOOLFLOW_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := r.Header.Get("X-Request-ID")
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
