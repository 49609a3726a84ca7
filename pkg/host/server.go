// Package host serves visit sessions over HTTP. Renderer agents attach on
// /renderer and each connection gets its own session; hosts drive visits
// through the session API or the message bus and follow session events on
// a websocket stream.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/visitbridge/pkg/bus"
	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/renderer/remote"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

// Config holds the host settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	// MetricsPath serves prometheus metrics when non-empty.
	MetricsPath string
	// RequestTimeout bounds how long an API call waits on a session's
	// owner context.
	RequestTimeout time.Duration
	// FollowProposals makes sessions visit the locations their pages
	// propose, the way a single-screen host would.
	FollowProposals bool
	// DefaultContext is the navigation context bound to new sessions.
	DefaultContext visit.ContextKey
	// BusPrefix is the subject prefix for bus visit requests.
	BusPrefix string

	Renderer remote.Config
	Settings visit.Settings
}

// DefaultConfig returns the host defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              "127.0.0.1:8765",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MetricsPath:       "/metrics",
		RequestTimeout:    10 * time.Second,
		FollowProposals:   true,
		DefaultContext:    "main",
		BusPrefix:         "visitbridge",
		Renderer:          remote.DefaultConfig(),
		Settings:          visit.DefaultSettings(),
	}
}

// Server is the HTTP host.
type Server struct {
	cfg      Config
	registry *visit.Registry
	hub      *telemetry.Hub
	logger   *logging.Logger
	gatherer prometheus.Gatherer
	bus      bus.MessageBus

	sessionOpts []visit.Option
	router      chi.Router

	mu       sync.Mutex
	adapters map[string]*sessionAdapter
	conns    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHub streams session events from hub. Sessions created by the server
// publish into it.
func WithHub(hub *telemetry.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithGatherer sets the registry served on the metrics path.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithBus accepts visit requests from b.
func WithBus(b bus.MessageBus) Option {
	return func(s *Server) { s.bus = b }
}

// WithSessionOptions adds options to every session the server creates.
func WithSessionOptions(opts ...visit.Option) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// New creates a server that registers its sessions in registry.
func New(cfg Config, registry *visit.Registry, opts ...Option) *Server {
	if registry == nil {
		registry = visit.Default()
	}
	if cfg.DefaultContext == "" {
		cfg.DefaultContext = DefaultConfig().DefaultContext
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logging.Nop(),
		gatherer: prometheus.DefaultGatherer,
		adapters: make(map[string]*sessionAdapter),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealthz)
	if s.cfg.MetricsPath != "" {
		r.Method(http.MethodGet, s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/renderer", s.handleRenderer)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/{sessionID}", s.handleGetSession)
		r.Delete("/{sessionID}", s.handleDeleteSession)
		r.Post("/{sessionID}/visits", s.handleVisit)
		r.Post("/{sessionID}/cancel", s.handleCancel)
		r.Get("/{sessionID}/events", s.handleEvents)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on cfg.Addr until ctx ends, then shuts down and
// waits for attached renderers to detach.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeTransport, "listen failed").WithContext("addr", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("host listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.conns.Wait()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.registry.IDs()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	body := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
		Code   string `json:"code,omitempty"`
	}{Error: err.Error(), Status: status}
	if code := vberrors.GetCode(err); code != "" {
		body.Code = string(code)
	}
	respondJSON(w, status, body)
}

// statusFor maps session errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case vberrors.IsCode(err, vberrors.ErrCodeSessionNotFound):
		return http.StatusNotFound
	case vberrors.IsFatal(err), vberrors.IsCode(err, vberrors.ErrCodeConfigInvalid):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
