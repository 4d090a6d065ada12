// Package pipeline runs the external synthesis pipeline for one prepared
// workspace and classifies the outcome.
//
// The orchestrator holds the process-wide synthesizer handle. It is set once
// after initialization and only read afterwards; requests that arrive before
// that are rejected as not initialized.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/synth"
	"github.com/nadzzz/face2voice/internal/workspace"
)

const tracerName = "github.com/nadzzz/face2voice/internal/pipeline"

type handle struct {
	synth.Synthesizer
}

// Orchestrator drives one synthesis call per request.
type Orchestrator struct {
	synth  atomic.Pointer[handle]
	sem    *semaphore.Weighted // nil means unlimited
	tracer trace.Tracer
}

// New creates an Orchestrator. maxConcurrent > 0 bounds the number of
// synthesis calls in flight.
func New(maxConcurrent int64) *Orchestrator {
	o := &Orchestrator{tracer: otel.Tracer(tracerName)}
	if maxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return o
}

// Init verifies the checkpoint artifacts, prepares s if it needs it, and
// installs it as the process-wide synthesizer. Any error is fatal for the
// process.
func (o *Orchestrator) Init(ctx context.Context, s synth.Synthesizer, checkpoints []string) error {
	start := time.Now()

	if err := synth.CheckArtifacts(checkpoints); err != nil {
		return fmt.Errorf("missing pipeline artifacts: %w", err)
	}
	if initializer, ok := s.(synth.Initializer); ok {
		if err := initializer.Init(ctx); err != nil {
			return fmt.Errorf("initializing %s backend: %w", s.Name(), err)
		}
	}

	o.SetSynthesizer(s)
	slog.Info("pipeline initialized", "backend", s.Name(), "checkpoints", len(checkpoints), "duration", time.Since(start))
	return nil
}

// SetSynthesizer installs s without any checks.
func (o *Orchestrator) SetSynthesizer(s synth.Synthesizer) {
	o.synth.Store(&handle{s})
}

// Ready reports whether a synthesizer is installed.
func (o *Orchestrator) Ready() bool {
	return o.synth.Load() != nil
}

// Run invokes the synthesizer once with the workspace's first image and
// returns the path of the produced audio. Failures are *message.Error values
// of kind NotInitialized, InferenceFailed or OutputMissing. There are no
// retries and no timeout beyond ctx.
func (o *Orchestrator) Run(ctx context.Context, ws *workspace.Workspace, text, language string) (string, error) {
	h := o.synth.Load()
	if h == nil {
		return "", message.Errorf(message.KindNotInitialized, "synthesis pipeline is not initialized")
	}
	if len(ws.ImagePaths) == 0 {
		return "", message.Errorf(message.KindInferenceFailed, "inference failed: workspace has no reference image")
	}

	job := message.Job{
		ImagePath:             ws.ImagePaths[0],
		IntermediateAudioPath: ws.IntermediateAudioPath,
		OutputAudioPath:       ws.OutputAudioPath,
		Text:                  text,
		Language:              language,
	}
	textLength := utf8.RuneCountInString(text)
	logger := slog.With("workspace", ws.Dir, "backend", h.Name())

	ctx, span := o.tracer.Start(ctx, "pipeline.synthesize", trace.WithAttributes(
		attribute.String("face2voice.backend", h.Name()),
		attribute.String("face2voice.language", language),
		attribute.Int("face2voice.text_length", textLength),
		attribute.Int("face2voice.images", len(ws.ImagePaths)),
	))
	defer span.End()

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "waiting for pipeline slot")
			return "", message.Wrap(message.KindInferenceFailed, "inference failed", err)
		}
		defer o.sem.Release(1)
	}

	start := time.Now()
	logger.Info("synthesis started", "language", language, "text_length", textLength)

	if err := invoke(ctx, h, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		logger.Error("synthesis failed", "error", err, "duration", time.Since(start))
		return "", message.Wrap(message.KindInferenceFailed, "inference failed", err)
	}

	info, err := os.Stat(job.OutputAudioPath)
	if err != nil || !info.Mode().IsRegular() {
		span.SetStatus(codes.Error, "output missing")
		logger.Error("synthesis produced no output", "path", job.OutputAudioPath)
		return "", message.Errorf(message.KindOutputMissing, "synthesis finished but produced no audio output")
	}

	logger.Info("synthesis complete", "duration", time.Since(start), "audio_bytes", info.Size())
	return job.OutputAudioPath, nil
}

// Close releases the installed synthesizer, if any.
func (o *Orchestrator) Close() error {
	h := o.synth.Swap(nil)
	if h == nil {
		return nil
	}
	return h.Close()
}

// invoke calls the synthesizer, turning a panic into an error.
func invoke(ctx context.Context, s synth.Synthesizer, job message.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s backend panicked: %v", s.Name(), rec)
		}
	}()
	return s.Synthesize(ctx, job)
}
