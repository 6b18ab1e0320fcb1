package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"fastbudget/internal/api"
	"fastbudget/internal/log"
	"fastbudget/internal/metrics"
	"fastbudget/internal/middleware/ratelimit"
	"fastbudget/internal/middleware/security"
	"fastbudget/internal/middleware/trace"
	"fastbudget/internal/shell"
	appweb "fastbudget/web"
)

const (
	readyTimeout = 2 * time.Second
	staticMaxAge = 3600
)

// Authenticator backs the auth modal.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (api.AuthResult, error)
	Register(ctx context.Context, name, email, password string) (api.AuthResult, error)
}

// Pinger reports whether a dependency is ready to serve.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Addr     string
	Registry *shell.Registry
	Auth     Authenticator
	// Ready is checked by /readyz. Nil means always ready.
	Ready   Pinger
	Logger  *log.Logger
	Metrics *metrics.Metrics
	// ResolveWait is how long a page render waits for an outstanding session
	// resolution before showing the loading state. Zero never waits.
	ResolveWait        time.Duration
	CookieSecure       bool
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	opts      Options
	templates *template.Template
	registry  *shell.Registry
	logger    *log.Logger
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	now       func() time.Time
	started   time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("shell registry is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.ResolveWait < 0 {
		opts.ResolveWait = 0
	}

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}

	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		opts:      opts,
		templates: t,
		registry:  opts.Registry,
		logger:    logger,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
			Logger:            opts.Logger,
		}),
		detector: security.NewDetector(opts.Logger),
		now:      time.Now,
		started:  time.Now(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, opts.Logger, opts.Metrics)

	mux := http.NewServeMux()

	pages := func(h http.HandlerFunc) http.Handler { return security.NoStore(h) }
	mux.Handle("GET /{$}", pages(s.handleIndex))
	mux.Handle("GET "+shell.PathShell, pages(s.handleShell))
	mux.Handle("POST "+shell.PathLogin, pages(s.handleLogin))
	mux.Handle("POST "+shell.PathRegister, pages(s.handleRegister))
	mux.Handle("POST "+shell.PathLogout, pages(s.handleLogout))
	mux.Handle("POST /views/{view}", pages(s.handleSetView))
	mux.Handle("POST "+shell.PathTheme, pages(s.handleToggleTheme))
	mux.Handle("POST "+shell.PathRetry, pages(s.handleRetry))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	mux.Handle("GET /static/", security.StaticAssetMiddleware(staticMaxAge)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, isAuthPost, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError("Too many attempts. Please wait a moment and try again.").Write(w)
	})(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = log.Middleware(opts.Logger)(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func isAuthPost(r *http.Request) bool {
	return r.Method == http.MethodPost && (r.URL.Path == shell.PathLogin || r.URL.Path == shell.PathRegister)
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
