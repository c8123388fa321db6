package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moxen-gg/vault/service/metrics"
)

// Server represents the HTTP server for the payment service.
type Server struct {
	addr     string
	svc      VaultService
	pay      paymentRequestConfig
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
	server   *http.Server
}

// Options carries the optional pieces of a Server.
type Options struct {
	// VaultAddress, DeadAddress and TokenMint feed the Solana Pay URLs
	// attached to initiation responses.
	VaultAddress string
	DeadAddress  string
	TokenMint    string

	// Metrics and Registry enable the /metrics endpoint. Both nil is fine.
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, svc VaultService, opts Options, logger *slog.Logger) *Server {
	return &Server{
		addr: addr,
		svc:  svc,
		pay: paymentRequestConfig{
			VaultAddress: opts.VaultAddress,
			DeadAddress:  opts.DeadAddress,
			TokenMint:    opts.TokenMint,
			Label:        "Vault",
		},
		metrics:  opts.Metrics,
		registry: opts.Registry,
		logger:   logger,
	}
}

// Handler builds the route table. Exposed separately from Start so tests
// can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Purchase routes
	mux.Handle("POST /api/v1/gacha/purchase", handleInitiateGacha(s.svc, s.pay, s.logger))
	mux.Handle("POST /api/v1/gacha/confirm", handleConfirmGacha(s.svc, s.logger))
	mux.Handle("GET /api/v1/shop/items", handleListShopItems(s.svc, s.logger))
	mux.Handle("GET /api/v1/shop/bundles", handleListBalanceBundles(s.svc, s.logger))
	mux.Handle("POST /api/v1/shop/balance/purchase", handleInitiateBalancePurchase(s.svc, s.pay, s.logger))
	mux.Handle("POST /api/v1/shop/balance/confirm", handleConfirmBalancePurchase(s.svc, s.logger))
	mux.Handle("POST /api/v1/rewards/claim", handleInitiateRewardClaim(s.svc, s.logger))
	mux.Handle("POST /api/v1/rewards/confirm", handleConfirmRewardClaim(s.svc, s.logger))
	mux.Handle("GET /api/v1/transactions", handleListTransactions(s.svc, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = metrics.HTTPMetricsMiddleware(s.metrics, "api")(handler)
	}
	return corsMiddleware(handler)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS
// preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+userIDHeader)
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
