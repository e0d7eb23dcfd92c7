// Package httpapi exposes the scan job manager over HTTP.
//
// The endpoints and their JSON bodies are what browser clients of the scanner
// service poll, so field names and messages are part of the contract.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CZERTAINLY/scand/internal/device"
	"github.com/CZERTAINLY/scand/internal/log"
	"github.com/CZERTAINLY/scand/internal/model"
	"github.com/CZERTAINLY/scand/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Manager is the scan job manager driven by the endpoints.
type Manager interface {
	Start(ctx context.Context) (string, error)
	Cancel(ctx context.Context)
	Status() model.Status
}

type Server struct {
	manager Manager
	files   *store.Dir
	devices device.Capability
	router  *chi.Mux
}

// New builds the router. Requests from corsOrigins are allowed by the
// browsers, "*" allows any origin.
func New(manager Manager, files *store.Dir, devices device.Capability, corsOrigins []string) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	s := &Server{
		manager: manager,
		files:   files,
		devices: devices,
		router:  r,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/scan", s.handleScan)
		r.Post("/scan", s.handleScan)
		r.Get("/status", s.handleStatus)
		r.Get("/cancel", s.handleCancel)
		r.Post("/cancel", s.handleCancel)
		r.Get("/devices", s.handleDevices)
	})

	s.router.Get("/files/{filename}", s.handleFile)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts the server
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener, it takes ln over.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	slog.InfoContext(ctx, "serving http", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "failed to shutdown server", "error", err)
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.InfoContext(ctx, "http server stopped")
	return nil
}

// logRequests logs every completed request, the request id is added to the
// context of the handlers.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := log.ContextAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			// clients poll the status, keep it out of the default output
			level := slog.LevelInfo
			if r.URL.Path == "/api/status" || r.URL.Path == "/health" {
				level = slog.LevelDebug
			}
			slog.Log(ctx, level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "writing response", "error", err)
	}
}
