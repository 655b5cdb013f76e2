package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ds "github.com/starfederation/datastar-go/datastar"
	"golang.org/x/xerrors"

	"livechart/web"
)

const (
	FRAMERATE        = 10
	SHUTDOWN_TIMEOUT = 5 * time.Second
)

type Server struct {
	renderer Renderer
	clock    quartz.Clock
	logger   slog.Logger
	handler  chi.Router
}

func NewServer(
	renderer Renderer,
	api *API,
	feed *Feed,
	gatherer prometheus.Gatherer,
	clock quartz.Clock,
	logger slog.Logger,
) *Server {
	if clock == nil {
		clock = quartz.NewReal()
	}
	s := &Server{
		renderer: renderer,
		clock:    clock,
		logger:   logger.Named("web"),
	}

	r := chi.NewRouter()
	r.Get("/", s.IndexHandler)
	r.Get("/tick", s.TickHandler)
	r.Handle("/static/*", http.FileServer(http.FS(web.Static)))
	for path, uiHandler := range renderer.Handlers() {
		r.Post(path, uiHandler)
	}
	if api != nil {
		r.Mount("/api", api.Routes())
	}
	if feed != nil {
		r.Handle("/feed", feed)
	}
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "listening", slog.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return xerrors.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// IndexHandler is the main entrypoint for the UI
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	err := s.renderer.Templates().ExecuteTemplate(w, "index", s.renderer.Data())
	if err != nil {
		s.logger.Error(r.Context(), "couldn't execute template for index", slog.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// TickHandler holds an SSE stream open and redraws at FRAMERATE whenever the renderer has something new.
func (s *Server) TickHandler(w http.ResponseWriter, r *http.Request) {
	sse := ds.NewSSE(w, r)

	ctx := r.Context()
	ticker := s.clock.NewTicker(time.Second/FRAMERATE, "tick")
	defer ticker.Stop()

	var (
		drawn   bool
		version uint64
	)
	draw := func() error {
		v := s.renderer.Version()
		if drawn && v == version {
			return nil
		}
		if err := s.renderer.OnTick(sse); err != nil {
			return err
		}
		drawn, version = true, v
		return nil
	}

	if err := draw(); err != nil {
		s.logger.Debug(ctx, "error running renderer on tick", slog.Error(err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := draw(); err != nil {
				s.logger.Debug(ctx, "error running renderer on tick", slog.Error(err))
				return
			}
		}
	}
}
