package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/ratelimit"
	"github.com/chalkline-ai/chalkline/internal/service"
)

// Transport is the inbound adapter that serves the chat API over HTTP.
type Transport struct {
	runner         TurnRunner
	keys           *auth.KeyService
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
	healthChecker  *HealthChecker
	auditService   *service.AuditService
	limiter        ratelimit.Limiter
	addrLimit      ratelimit.Limit
	subjectLimit   ratelimit.Limit
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for browser requests.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *Transport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.healthChecker = hc
	}
}

// WithAuditService exposes the audit worker's drop counter as a metric.
func WithAuditService(audit *service.AuditService) Option {
	return func(t *Transport) {
		t.auditService = audit
	}
}

// WithRateLimit enables request rate limiting. The address limit is
// checked before authentication, the subject limit after.
func WithRateLimit(limiter ratelimit.Limiter, addrLimit, subjectLimit ratelimit.Limit) Option {
	return func(t *Transport) {
		t.limiter = limiter
		t.addrLimit = addrLimit
		t.subjectLimit = subjectLimit
	}
}

// NewTransport creates an HTTP transport serving the given orchestrator.
func NewTransport(runner TurnRunner, keys *auth.KeyService, opts ...Option) *Transport {
	t := &Transport{
		runner:         runner,
		keys:           keys,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *Transport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var auditDrops func() int64
	if t.auditService != nil {
		auditDrops = t.auditService.DroppedRecords
	}
	t.metrics = NewMetrics(reg, auditDrops)

	// Middleware chain (outermost first):
	// 1. Metrics - record duration and status over the whole request
	// 2. RequestID - extract/generate request ID and enrich logger
	// 3. Origin - block disallowed browser origins
	// 4. RateLimitByAddr - pre-auth limit per client address (optional)
	// 5. APIKeyAuth - resolve the bearer token to claims
	// 6. RateLimitBySubject - post-auth limit per caller (optional)
	chat := http.Handler(NewChatHandler(t.runner, t.metrics))
	if t.limiter != nil {
		chat = RateLimitBySubject(t.limiter, t.subjectLimit)(chat)
	}
	chat = APIKeyAuth(t.keys)(chat)
	if t.limiter != nil {
		chat = RateLimitByAddr(t.limiter, t.addrLimit)(chat)
	}
	chat = OriginProtection(t.allowedOrigins)(chat)
	chat = RequestIDMiddleware(t.logger)(chat)
	chat = MetricsMiddleware(t.metrics)(chat)

	mux := http.NewServeMux()
	mux.Handle("/v1/chat", chat)
	if t.healthChecker != nil {
		mux.Handle("/healthz", t.healthChecker.Handler())
	} else {
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
