package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/firmware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/ingest"
	"github.com/NASA-0007/Rosaiq-Trial/internal/middleware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/observability"
	"github.com/NASA-0007/Rosaiq-Trial/internal/ratelimit"
	"github.com/NASA-0007/Rosaiq-Trial/internal/realtime"
	"github.com/NASA-0007/Rosaiq-Trial/internal/retention"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	Version     = "1.0.0"
	ServiceName = "rosaiq-server"
)

// Deps are the components the router dispatches to. Hub, Limiter, Tracer and
// Metrics are optional.
type Deps struct {
	Repo      *store.Repo
	Ingestor  *ingest.Ingestor
	Gate      *access.Gate
	Firmware  *firmware.Registry
	OTA       http.Handler
	Sweeper   *retention.Sweeper
	Sessions  *middleware.Sessions
	Hub       *realtime.Hub
	Limiter   *ratelimit.RateLimiter
	Tracer    oteltrace.Tracer
	Metrics   http.Handler
	Now       func() time.Time
	StartedAt time.Time
}

type Options struct {
	EnableAPIKey  bool
	APIKey        string
	PublicURL     string
	CORSOrigins   []string
	OnlineWindow  time.Duration
	ActiveWindow  time.Duration
	SecureCookies bool
}

type Server struct {
	Deps
	opts Options
}

func NewServer(deps Deps, opts Options) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Now()
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = 2 * time.Minute
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 10 * time.Minute
	}
	return &Server{Deps: deps, opts: opts}
}

// Handler builds the router. Machine routes sit behind the API-key chain,
// dashboard routes behind the session chain; the two never share a guard.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
			ExposedHeaders:   []string{"X-Firmware-Version", "X-Firmware-Checksum"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if s.Tracer != nil {
		r.Use(observability.Middleware(s.Tracer, ServiceName))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperr.WriteError(w, apperr.NotFound("route "+r.Method+" "+r.URL.Path+" not found"))
	})

	r.Get("/health", s.handleHealth)
	r.Get("/api/info", s.handleInfo)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	r.Get("/config", s.handleBootstrap)
	r.Put("/config", s.handleBootstrap)

	r.Route("/sensors/{deviceId}", func(r chi.Router) {
		r.Use(middleware.APIKey(s.opts.EnableAPIKey, s.opts.APIKey))
		if s.Limiter != nil {
			r.Use(s.Limiter.Middleware(ratelimit.KeyByDevice))
		}
		r.Post("/measures", s.handleMeasures)
		r.Get("/one/config", s.handleDeviceConfigFetch)
		r.Get("/generic/os/firmware.bin", s.OTA.ServeHTTP)
		r.Get("/firmware.bin", s.OTA.ServeHTTP)
	})

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.Sessions.RequireSession)

		r.Get("/api/auth/me", s.handleMe)
		if s.Hub != nil {
			r.Get("/ws/events", s.Hub.ServeHTTP)
		}

		r.Route("/api/devices", func(r chi.Router) {
			r.Get("/", s.handleDevicesList)
			r.Post("/claim", s.handleDevicesClaim)
			r.Route("/{deviceId}", func(r chi.Router) {
				r.Get("/", s.handleDevicesGet)
				r.Put("/", s.handleDevicesUpdate)
				r.With(middleware.RequireAdmin).Delete("/", s.handleDevicesDelete)
				r.Put("/name", s.handleDevicesName)
				r.With(middleware.RequireAdmin).Post("/assign", s.handleDevicesAssign)
				r.With(middleware.RequireAdmin).Post("/unassign", s.handleDevicesUnassign)
				r.Get("/measurements", s.handleMeasurementsList)
				r.Get("/events", s.handleEventsList)
				r.Get("/config", s.handleConfigGet)
				r.Put("/config", s.handleConfigPut)
			})
		})

		r.Get("/api/dashboard/summary", s.handleSummary)

		r.Route("/api/firmware", func(r chi.Router) {
			r.Get("/", s.handleFirmwareList)
			r.Get("/latest", s.handleFirmwareLatest)
			r.With(middleware.RequireAdmin).Post("/", s.handleFirmwareUpload)
			r.With(middleware.RequireAdmin).Delete("/{firmwareId}", s.handleFirmwareDelete)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Route("/api/users", func(r chi.Router) {
				r.Get("/", s.handleUsersList)
				r.Post("/", s.handleUsersCreate)
				r.Put("/{userId}", s.handleUsersUpdate)
				r.Delete("/{userId}", s.handleUsersDelete)
			})
			r.Post("/api/maintenance/cleanup", s.handleCleanup)
		})
	})

	return r
}

func (s *Server) publish(ev *store.Event) {
	if s.Hub != nil && ev != nil {
		s.Hub.Publish(ev)
	}
}

// principal is only called behind RequireSession.
func (s *Server) principal(r *http.Request) access.Principal {
	p, _ := middleware.PrincipalFrom(r)
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	apperr.WriteError(w, apperr.NewAppError(status, msg, nil))
}

// fail maps err onto the error taxonomy and writes the structured body.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	if ae.Code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", chimw.GetReqID(r.Context()), "error", err)
	}
	apperr.WriteError(w, ae)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
