// Package exec implements a synth backend that runs the pipeline as a local
// command, one process per job.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/synth"
)

// maxStderr bounds how much of the command's stderr ends up in an error.
const maxStderr = 2048

var (
	_ synth.Synthesizer = (*Synthesizer)(nil)
	_ synth.Initializer = (*Synthesizer)(nil)
)

// Synthesizer runs the configured command for each job.
type Synthesizer struct {
	command string
	args    []string
	dir     string
}

// New creates a new exec synthesizer from config.
func New(cfg config.ExecConfig) *Synthesizer {
	return &Synthesizer{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		dir:     cfg.Dir,
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "exec" }

// Init resolves the command on PATH.
func (s *Synthesizer) Init(_ context.Context) error {
	if s.command == "" {
		return fmt.Errorf("no pipeline command configured")
	}
	path, err := osexec.LookPath(s.command)
	if err != nil {
		return fmt.Errorf("resolving pipeline command: %w", err)
	}
	slog.Debug("pipeline command resolved", "path", path)
	return nil
}

// Synthesize runs the command with the job's paths substituted into its
// arguments. The command is killed when ctx is cancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, job message.Job) error {
	args := expandArgs(s.args, job)

	cmd := osexec.CommandContext(ctx, s.command, args...)
	cmd.Dir = s.dir
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("pipeline command interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("pipeline command failed: %w: %s", err, tail(stderr.Bytes(), maxStderr))
	}

	slog.Debug("pipeline command finished", "duration", time.Since(start))
	return nil
}

// Close is a no-op; processes are per-job.
func (s *Synthesizer) Close() error { return nil }

// expandArgs replaces the {image}, {intermediate}, {output}, {text} and
// {language} placeholders in each argument.
func expandArgs(args []string, job message.Job) []string {
	r := strings.NewReplacer(
		"{image}", job.ImagePath,
		"{intermediate}", job.IntermediateAudioPath,
		"{output}", job.OutputAudioPath,
		"{text}", job.Text,
		"{language}", job.Language,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
