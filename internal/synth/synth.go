// Package synth defines the interface of the external synthesis pipeline.
//
// The pipeline (face encoding, tone conversion, text-to-speech) is not part
// of face2voice. Each backend in a sub-package drives one way of reaching it
// and leaves the final WAV at Job.OutputAudioPath.
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nadzzz/face2voice/internal/message"
)

// Synthesizer runs the external pipeline for one job.
type Synthesizer interface {
	// Name returns the backend identifier (e.g., "exec", "piper").
	Name() string

	// Synthesize blocks until the pipeline has finished with job. On success
	// the audio is expected at job.OutputAudioPath.
	Synthesize(ctx context.Context, job message.Job) error

	// Close releases any resources held by the synthesizer.
	Close() error
}

// Initializer is implemented by backends that must prepare before serving,
// such as probing a model server.
type Initializer interface {
	Init(ctx context.Context) error
}

// CheckArtifacts verifies that every model/checkpoint path exists. A missing
// artifact is a fatal startup condition.
func CheckArtifacts(paths []string) error {
	var errs []error
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
