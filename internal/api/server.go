package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"xyz-layer-registry/internal/auth"
	"xyz-layer-registry/internal/config"
	"xyz-layer-registry/internal/monitor"
	"xyz-layer-registry/internal/storage"
	"xyz-layer-registry/internal/xyz"
)

// Server is the HTTP server exposing the XYZ API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer wires routes and the middleware chain around the handlers.
func NewServer(cfg *config.Config, handlers *Handlers, store storage.Store, metrics *monitor.Metrics) *Server {
	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	resolver := auth.NewResolver(identityTable(cfg))
	if resolver.Empty() {
		log.Warn().Msg("no API keys configured, all requests run as the anonymous identity")
	}

	// XYZ API — wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /v1/xyz", handlers.HandleCreateXYZ)
	apiMux.HandleFunc("GET /v1/xyz/{id}", handlers.HandleGetXYZ)
	apiMux.HandleFunc("GET /v1/xyz/{id}/sessions/{sessionId}/errors", handlers.HandleStreamErrors)
	apiMux.HandleFunc("POST /v1/xyz/{id}/sessions/{sessionId}/errors", handlers.HandleAppendError)
	apiMux.HandleFunc("POST /v1/xyz/{id}/sessions/{sessionId}/complete", handlers.HandleCompleteSession)

	authedAPI := AuthMiddleware(resolver, cfg.Security.APIKeyHeader)(apiMux)

	// Top-level mux: health/metrics bypass auth, everything else goes through auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(store))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:        cfg.Address(),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: error streams are designed to stay open for the
		// life of a session. Idle-connection policy belongs to the proxy in
		// front of this service.
		IdleTimeout: 120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server. In-flight error streams end with a
// cancelled context.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeOK := store == nil || store.Healthy(r.Context())

		resp := HealthResponse{
			Status: "ok",
			Store:  storeOK,
			Uptime: time.Since(s.startTime).Round(time.Second).String(),
		}

		if !storeOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}

func identityTable(cfg *config.Config) map[string]xyz.Identity {
	table := make(map[string]xyz.Identity, len(cfg.Security.Keys))
	for _, entry := range cfg.Security.Keys {
		table[entry.Key] = xyz.Identity{User: entry.User, Org: entry.Org}
	}
	return table
}
