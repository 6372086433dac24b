// Package api provides the HTTP server for TripPipe.
//
// It exposes the conversation endpoint, session management, the turn log and an optional
// Twilio webhook, behind CORS and per-client rate limiting.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	// DefaultAddr is the default HTTP listen address.
	DefaultAddr = ":8080"
	// DefaultRateLimit is the default number of requests per second allowed per client.
	DefaultRateLimit = 5.0
	// DefaultRateBurst is the default burst allowed per client.
	DefaultRateBurst = 10
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// TwilioWebhookPath is where Twilio posts inbound WhatsApp messages.
	TwilioWebhookPath = "/twilio/webhook"
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 64 << 10
)

// Planner is the conversation engine behind the API. Implemented by *flow.Planner.
type Planner interface {
	HandleTurn(ctx context.Context, req models.ChatRequest) models.ChatResponse
	ClearSession(id string)
	ActiveSessions() int
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	CORSOrigins     []string
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
	TwilioWebhook   http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCORSOrigins sets the allowed CORS origins. An empty list allows every origin.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) { o.CORSOrigins = origins }
}

// WithRateLimit sets the per-client request rate and burst. A non-positive rate disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimit = rps
		o.RateBurst = burst
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// WithTwilioWebhook mounts the Twilio inbound webhook at TwilioWebhookPath.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// Server serves the TripPipe HTTP API.
type Server struct {
	planner Planner
	turns   store.TurnLog
	cfg     Opts
	limiter *rateLimiter
	started time.Time
}

// NewServer creates a Server. turns may be nil, in which case the turn log endpoint reports 404.
func NewServer(planner Planner, turns store.TurnLog, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		RateLimit:       DefaultRateLimit,
		RateBurst:       DefaultRateBurst,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{planner: planner, turns: turns, cfg: cfg, started: time.Now()}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	slog.Debug("Server created", "addr", cfg.Addr, "cors_origins", cfg.CORSOrigins, "rate_limit", cfg.RateLimit,
		"rate_burst", cfg.RateBurst, "twilio_webhook", cfg.TwilioWebhook != nil, "turn_log", turns != nil)
	return s
}

// Handler returns the full middleware chain: logging, CORS, rate limiting, then the router.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/chat", s.chatHandler)
	router.DELETE("/sessions/:id", s.clearSessionHandler)
	router.GET("/sessions/:id/turns", s.turnsHandler)
	router.GET("/health", s.healthHandler)
	if s.cfg.TwilioWebhook != nil {
		router.HandlerFunc(http.MethodPost, TwilioWebhookPath, s.cfg.TwilioWebhook)
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.rateLimit(router))

	return loggingMiddleware(corsHandler)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Server.Run: stopped cleanly")
	return nil
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"remote_addr", r.RemoteAddr, "duration", time.Since(start))
	})
}
