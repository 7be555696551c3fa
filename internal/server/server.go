// Package server is the development HTTP server: it serves the output tree,
// injects the reload client into pages and hosts the reload websocket.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/websocket"
)

const (
	// DefaultPageCacheSize bounds the number of injected pages kept in memory.
	DefaultPageCacheSize = 256

	shutdownTimeout = 5 * time.Second
)

// Builder runs the build that precedes serving.
type Builder interface {
	Build(ctx context.Context) error
}

// Detector reports source changes while the server runs.
type Detector interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
}

// Options wires a DevServer. Builder, Channel and OutputDir are required.
type Options struct {
	Addr          string
	OutputDir     string
	ReloadPath    string
	Builder       Builder
	Channel       *websocket.ReloadChannel
	Detector      Detector
	Closers       []io.Closer
	Metrics       *metrics.Metrics
	PageCacheSize int
}

// DevServer serves a site with live reload.
type DevServer struct {
	opts   Options
	logger logging.Logger
	router chi.Router
	files  http.Handler
	pages  *lru.Cache[string, []byte]
	script string

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	ready      chan struct{}
	started    time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a dev server. It does not listen until Start.
func New(opts Options, logger logging.Logger) (*DevServer, error) {
	if opts.Builder == nil || opts.Channel == nil || opts.OutputDir == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "dev server needs a builder, a reload channel and an output directory")
	}
	if opts.ReloadPath == "" {
		opts.ReloadPath = "/__quill/reload"
	}
	if opts.PageCacheSize <= 0 {
		opts.PageCacheSize = DefaultPageCacheSize
	}

	pages, err := lru.New[string, []byte](opts.PageCacheSize)
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "cannot create page cache", err)
	}

	s := &DevServer{
		opts:   opts,
		logger: logging.OrNop(logger).WithComponent("server"),
		files:  http.FileServer(http.Dir(opts.OutputDir)),
		pages:  pages,
		script: reloadScript(opts.ReloadPath),
		ready:  make(chan struct{}),
	}
	s.started = time.Now()
	s.router = s.routes()

	return s, nil
}

func (s *DevServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(noCache)

	r.Get(s.opts.ReloadPath, s.opts.Channel.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	r.Get("/*", s.serveSite)
	r.Head("/*", s.serveSite)

	return r
}

// Handler returns the server's router.
func (s *DevServer) Handler() http.Handler {
	return s.router
}

// Ready is closed once the server is listening.
func (s *DevServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server listens on, or "" before Start.
func (s *DevServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// Start builds the site, starts the detector and serves until ctx is
// cancelled or the listener fails. A failed initial build is logged and
// the server still starts so the error pages can be viewed.
func (s *DevServer) Start(ctx context.Context) error {
	if err := s.opts.Builder.Build(ctx); err != nil {
		s.logger.Warn(ctx, err, "initial build failed, serving error pages")
	}

	if s.opts.Detector != nil {
		if err := s.opts.Detector.Start(ctx); err != nil {
			_ = s.Shutdown(ctx)
			return err
		}
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		_ = s.Shutdown(ctx)
		return errors.NewTransportError(errors.ErrCodeServerFailed, "cannot listen", err).
			WithContext("addr", s.opts.Addr)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info(ctx, "serving site", "url", "http://"+ln.Addr().String(), "reload", s.opts.ReloadPath)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = s.Shutdown(context.Background())
		return errors.NewTransportError(errors.ErrCodeServerFailed, "server stopped", err)
	}
}

// Shutdown stops the detector, closes every reload client and stops the
// HTTP server. Only the first call has any effect.
func (s *DevServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down")

		if s.opts.Detector != nil {
			s.opts.Detector.Stop()
			if done := s.opts.Detector.Done(); done != nil {
				select {
				case <-done:
				case <-ctx.Done():
				}
			}
		}
		for _, c := range s.opts.Closers {
			if err := c.Close(); err != nil {
				s.logger.Warn(ctx, err, "close failed")
			}
		}

		if err := s.opts.Channel.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, err, "closing reload clients failed")
		}

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv != nil {
			s.shutdownErr = srv.Shutdown(ctx)
		}
	})

	return s.shutdownErr
}

func (s *DevServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
