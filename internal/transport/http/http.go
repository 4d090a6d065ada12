// Package http implements the HTTP API transport for face2voice.
//
// It exposes POST /api/generate (text + face images in, WAV out), POST
// /submit (store a text + image pair), and the Swagger UI.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nadzzz/face2voice/internal/cleanup"
	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/submission"
	"github.com/nadzzz/face2voice/internal/validate"
	"github.com/nadzzz/face2voice/internal/workspace"

	httpSwagger "github.com/swaggo/http-swagger/v2"
)

// Runner runs the synthesis pipeline for a prepared workspace and returns
// the path of the produced audio.
type Runner interface {
	Run(ctx context.Context, ws *workspace.Workspace, text, language string) (string, error)
}

// Deps are the request-pipeline components the transport calls into.
type Deps struct {
	Validator   *validate.Validator
	Workspaces  *workspace.Manager
	Pipeline    Runner
	Cleanup     *cleanup.Scheduler
	Submissions *submission.Service // nil disables POST /submit
}

// Transport implements transport.Transport over HTTP.
type Transport struct {
	cfg    config.HTTPConfig
	deps   Deps
	server *http.Server

	// images extracts the uploaded files from a parsed form.
	images func(form *multipart.Form, field string) []message.Image
}

// New creates a new HTTP transport.
func New(cfg config.HTTPConfig, deps Deps) *Transport {
	return &Transport{cfg: cfg, deps: deps, images: formImages}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler builds the routed, instrumented handler.
func (t *Transport) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Runs post-response tasks once the handler (and Recoverer) has returned.
	r.Use(cleanup.AfterResponse)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: t.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		if t.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(t.cfg.RateLimit, t.cfg.RateWindow))
		}
		r.Post("/api/generate", t.handleGenerate)
	})

	if t.deps.Submissions != nil {
		r.Post("/submit", t.handleSubmit)
	}

	// Swagger UI serves the generated OpenAPI docs.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return otelhttp.NewHandler(r, "face2voice.http")
}

// Listen starts the HTTP server.
func (t *Transport) Listen(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.Port),
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.cfg.Port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}
