// face2voice is an HTTP service that speaks text in a voice matched to a
// face. Each request's images live in a private workspace that is removed
// once the response has been sent.
//
// Usage:
//
//	face2voice [flags]
//	face2voice --config /path/to/face2voice.yaml
//
// @title          face2voice API
// @version        0.1.0
// @description    Generates speech in a voice matched to a face image.
// @license.name   MIT
// @BasePath       /
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/nadzzz/face2voice/docs"
	"github.com/nadzzz/face2voice/internal/cleanup"
	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/health"
	"github.com/nadzzz/face2voice/internal/pipeline"
	"github.com/nadzzz/face2voice/internal/submission"
	"github.com/nadzzz/face2voice/internal/synth"
	execsynth "github.com/nadzzz/face2voice/internal/synth/exec"
	pipersynth "github.com/nadzzz/face2voice/internal/synth/piper"
	remotesynth "github.com/nadzzz/face2voice/internal/synth/remote"
	replicatesynth "github.com/nadzzz/face2voice/internal/synth/replicate"
	"github.com/nadzzz/face2voice/internal/telemetry"
	"github.com/nadzzz/face2voice/internal/transport"
	grpctransport "github.com/nadzzz/face2voice/internal/transport/grpc"
	httptransport "github.com/nadzzz/face2voice/internal/transport/http"
	"github.com/nadzzz/face2voice/internal/validate"
	"github.com/nadzzz/face2voice/internal/workspace"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/face2voice.local.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("face2voice %s\n", version)
		return 0
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("face2voice starting", "version", version, "backend", cfg.Pipeline.Backend)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}()

	workspaces, err := workspace.NewManager(cfg.Workspace)
	if err != nil {
		slog.Error("failed to prepare workspace root", "error", err)
		return 1
	}
	slog.Info("workspace root ready", "root", workspaces.Root())

	synthesizer, err := newSynthesizer(cfg.Pipeline)
	if err != nil {
		slog.Error("failed to create synthesis backend", "error", err)
		return 1
	}

	orchestrator := pipeline.New(cfg.Pipeline.MaxConcurrent)
	defer orchestrator.Close()

	store, err := submission.NewStore(ctx, cfg.Submission)
	if err != nil {
		slog.Error("failed to open submission store", "backend", cfg.Submission.Backend, "error", err)
		return 1
	}

	scheduler := cleanup.NewScheduler(slog.Default())

	httpTransport := httptransport.New(cfg.Transports.HTTP, httptransport.Deps{
		Validator:   validate.New(cfg.Generation),
		Workspaces:  workspaces,
		Pipeline:    orchestrator,
		Cleanup:     scheduler,
		Submissions: submission.NewService(cfg.Submission, store),
	})

	transports := []transport.Transport{httpTransport}

	var grpcTransport *grpctransport.Transport
	if cfg.Transports.GRPC.Enabled {
		grpcTransport = grpctransport.New(cfg.Transports.GRPC.Port)
		transports = append(transports, grpcTransport)
	}

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort, version)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	if cfg.Workspace.SweepInterval > 0 {
		go sweep(ctx, workspaces, cfg.Workspace.SweepInterval, cfg.Workspace.MaxAge)
	}

	// Start all transports. Requests that arrive before the pipeline is
	// initialized are answered with not_initialized.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	// Initialize the pipeline in the background; failure is fatal.
	initErr := make(chan error, 1)
	go func() {
		if err := orchestrator.Init(ctx, synthesizer, cfg.Pipeline.Checkpoints); err != nil {
			initErr <- err
			return
		}
		healthServer.SetReady(true)
		if grpcTransport != nil {
			grpcTransport.SetServing(true)
		}
		slog.Info("face2voice ready",
			"transports", len(transports),
			"http_port", cfg.Transports.HTTP.Port,
			"health_port", cfg.Server.HealthPort)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining...")
	case err := <-initErr:
		slog.Error("pipeline initialization failed", "error", err)
		exitCode = 1
	}

	healthServer.SetReady(false)

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}
	wg.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := scheduler.Wait(drainCtx); err != nil {
		slog.Warn("workspace cleanups still pending at shutdown", "error", err)
	}

	slog.Info("face2voice stopped")
	return exitCode
}

// newSynthesizer builds the configured synthesis backend.
func newSynthesizer(cfg config.PipelineConfig) (synth.Synthesizer, error) {
	tracedTransport := otelhttp.NewTransport(http.DefaultTransport)

	switch cfg.Backend {
	case "exec":
		slog.Info("using exec pipeline", "command", cfg.Exec.Command)
		return execsynth.New(cfg.Exec), nil
	case "remote":
		slog.Info("using remote pipeline", "endpoint", cfg.Remote.Endpoint)
		return remotesynth.New(cfg.Remote, tracedTransport), nil
	case "replicate":
		slog.Info("using replicate pipeline", "model", cfg.Replicate.Model)
		s, err := replicatesynth.New(cfg.Replicate, &http.Client{Transport: tracedTransport})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "piper":
		slog.Info("using piper pipeline", "endpoint", cfg.Piper.Endpoint)
		return pipersynth.New(cfg.Piper), nil
	default:
		return nil, fmt.Errorf("unknown pipeline backend %q", cfg.Backend)
	}
}

// sweep periodically removes abandoned workspaces.
func sweep(ctx context.Context, workspaces *workspace.Manager, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := workspaces.Sweep(maxAge)
		if err != nil {
			slog.Warn("workspace sweep incomplete", "removed", removed, "error", err)
		} else if removed > 0 {
			slog.Info("swept stale workspaces", "removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
