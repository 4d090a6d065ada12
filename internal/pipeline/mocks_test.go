package pipeline

import (
	"context"
	"os"
	"sync"

	"github.com/nadzzz/face2voice/internal/message"
)

// fakeSynth records each job and writes (or doesn't write) the output file.
type fakeSynth struct {
	mu      sync.Mutex
	jobs    []message.Job
	err     error
	panics  bool
	noWrite bool
	initErr error
	closed  bool
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Init(_ context.Context) error { return f.initErr }

func (f *fakeSynth) Synthesize(_ context.Context, job message.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.panics {
		panic("model exploded")
	}
	if f.err != nil {
		return f.err
	}
	if f.noWrite {
		return nil
	}
	return os.WriteFile(job.OutputAudioPath, []byte("RIFF"), 0o600)
}

func (f *fakeSynth) Close() error {
	f.closed = true
	return nil
}
