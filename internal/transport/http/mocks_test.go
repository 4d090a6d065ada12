package http

import (
	"context"
	"os"
	"sync"

	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/workspace"
)

// observation is what fakeRunner saw while the pipeline was "running".
type observation struct {
	dir        string
	images     []string
	imagesOnFS []bool
	text       string
	language   string
}

// fakeRunner stands in for the pipeline orchestrator.
type fakeRunner struct {
	mu    sync.Mutex
	calls []observation
	audio []byte
	err   error
	// skipWrite leaves OutputAudioPath absent, as a broken pipeline would.
	skipWrite bool
	panics    bool
}

func (f *fakeRunner) Run(_ context.Context, ws *workspace.Workspace, text, language string) (string, error) {
	obs := observation{dir: ws.Dir, images: append([]string(nil), ws.ImagePaths...), text: text, language: language}
	for _, p := range ws.ImagePaths {
		_, err := os.Stat(p)
		obs.imagesOnFS = append(obs.imagesOnFS, err == nil)
	}

	f.mu.Lock()
	f.calls = append(f.calls, obs)
	f.mu.Unlock()

	if f.panics {
		panic("runner exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	if f.skipWrite {
		return "", message.Errorf(message.KindOutputMissing, "synthesis finished but produced no audio output")
	}

	audio := f.audio
	if audio == nil {
		audio = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	}
	if err := os.WriteFile(ws.OutputAudioPath, audio, 0o600); err != nil {
		return "", err
	}
	return ws.OutputAudioPath, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
