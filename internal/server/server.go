package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Routes groups the handlers mounted by NewRouter. Nil handlers are skipped.
type Routes struct {
	WebSocket http.Handler
	Events    http.Handler
	Gatherer  prometheus.Gatherer
}

func NewRouter(server *Server, routes Routes, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Streaming routes hold the connection open and must not be buffered.
	if routes.WebSocket != nil {
		r.Handle("/ws", routes.WebSocket)
	}
	if routes.Events != nil {
		r.Handle("/events", routes.Events)
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Compress(5))
		api.Get("/healthz", server.handleHealth)
		api.Get("/snapshot", server.handleSnapshot)
	})

	if routes.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{}))
	}

	if server.admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(server.admin.requireAdmin)
			admin.Post("/reconnect", server.admin.handleReconnect)
		})
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQuerySecrets(r.URL.RawQuery)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

var secretParams = []string{"token", "key"}

// maskQuerySecrets masks credential parameters in a query string
func maskQuerySecrets(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for _, name := range secretParams {
		if v := values.Get(name); v != "" {
			values.Set(name, MaskSecret(v))
		}
	}
	return values.Encode()
}

// MaskSecret keeps the first four characters of a credential.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "****"
}
