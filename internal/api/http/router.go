package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	alarmshttp "wardex-cloud/internal/alarms/interfaces/http"
	"wardex-cloud/internal/audit"
	"wardex-cloud/internal/auth"
	deviceshttp "wardex-cloud/internal/devices/interfaces/http"
	historyhttp "wardex-cloud/internal/history/interfaces/http"
	"wardex-cloud/internal/live"
	telemetryhttp "wardex-cloud/internal/telemetry/interfaces/http"
)

// Dependencies are the handlers and policies the router composes.
type Dependencies struct {
	Logger         zerolog.Logger
	DB             Pinger
	JWTSecret      []byte
	IngestAuth     *auth.DeviceAuthMiddleware
	AllowedOrigins []string
	Hub            *live.Hub
	Devices        *deviceshttp.Handler
	Ingest         *telemetryhttp.IngestHandler
	Alarms         *alarmshttp.Handler
	History        *historyhttp.Handler
	Metrics        http.Handler
}

// NewRouter builds the HTTP surface.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errors.New("router: nil hub")
	}
	if deps.Devices == nil || deps.Ingest == nil || deps.Alarms == nil || deps.History == nil {
		return nil, errors.New("router: missing handler")
	}
	if len(deps.JWTSecret) == 0 {
		return nil, errors.New("router: empty jwt secret")
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/api/health"}, nil)
	userAuth := auth.NewMiddleware(deps.JWTSecret, policy)

	router := mux.NewRouter()
	router.Use(middlewareRequestID(), middlewareLogger(deps.Logger), audit.Middleware, userAuth.Wrap)

	router.HandleFunc("/healthz", handleLiveness).Methods(http.MethodGet)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	router.Handle("/ws/devices", live.NewWSHandler(deps.Hub, checkOrigin(deps.AllowedOrigins))).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Handle("/health", NewHealthHandler(deps.DB)).Methods(http.MethodGet)
	// registered ahead of /devices/{deviceId}
	api.Handle("/devices/stream", live.NewStreamHandler(deps.Hub)).Methods(http.MethodGet)
	deps.Ingest.Register(api, deps.IngestAuth.Wrap)
	deps.Alarms.Register(api)
	deps.History.Register(api)
	deps.Devices.Register(api)

	return corsHandler(deps.AllowedOrigins).Handler(router), nil
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Ingest-Timestamp", "X-Ingest-Signature"},
		ExposedHeaders:   []string{"X-Request-Id", "Content-Disposition"},
		AllowCredentials: true,
	})
}

// checkOrigin mirrors the CORS allow-list for websocket upgrades.
func checkOrigin(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, err := url.Parse(origin); err != nil {
			return false
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}
