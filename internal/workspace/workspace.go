// Package workspace allocates the isolated per-request directory that
// uploaded images and pipeline audio are written to.
//
// Each workspace is owned by exactly one request. Nothing outside this
// package writes into it except the synthesis pipeline, which only touches
// the two well-known audio paths.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/validate"
)

const (
	intermediateAudioName = "intermediate.wav"
	outputAudioName       = "output.wav"
)

// Manager creates workspaces under a common root and reclaims abandoned ones.
type Manager struct {
	root   string
	prefix string

	active sync.Map // dir -> struct{}
}

// NewManager creates a Manager from config. The root directory is created
// if it does not exist.
func NewManager(cfg config.WorkspaceConfig) (*Manager, error) {
	root := cfg.Root
	if root == "" {
		root = os.TempDir()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "face2voice-"
	}

	return &Manager{root: root, prefix: prefix}, nil
}

// Root returns the absolute directory workspaces are created in.
func (m *Manager) Root() string { return m.root }

// Create allocates a fresh, uniquely named workspace directory.
func (m *Manager) Create() (*Workspace, error) {
	dir := filepath.Join(m.root, m.prefix+uuid.NewString())
	// Mkdir fails on an existing path, so a name is never shared.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, message.Wrap(message.KindWorkspaceWriteFailed, "creating workspace", err)
	}
	m.active.Store(dir, struct{}{})

	return &Workspace{
		Dir:                   dir,
		IntermediateAudioPath: filepath.Join(dir, intermediateAudioName),
		OutputAudioPath:       filepath.Join(dir, outputAudioName),
		manager:               m,
	}, nil
}

// Sweep removes workspace directories under the root that are older than
// maxAge and not owned by an in-flight request. It returns the number of
// directories removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("reading workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), m.prefix) {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		if _, ok := m.active.Load(dir); ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		slog.Info("swept abandoned workspace", "dir", dir, "age", time.Since(info.ModTime()).Round(time.Second))
	}

	return removed, errors.Join(errs...)
}

// Workspace is one request's private directory.
type Workspace struct {
	// Dir is the absolute workspace directory.
	Dir string

	// ImagePaths lists the images written so far, in upload order.
	ImagePaths []string

	// IntermediateAudioPath and OutputAudioPath are the fixed paths the
	// synthesis pipeline writes to.
	IntermediateAudioPath string
	OutputAudioPath       string

	manager *Manager

	mu        sync.Mutex
	destroyed bool
}

// WriteImage stores one uploaded image as image_<index><ext> and records
// its path. An unsupported extension is rejected before anything is
// written. The caller must Destroy the workspace on any error.
func (w *Workspace) WriteImage(index int, filename string, r io.Reader) (string, error) {
	ext, err := validate.ImageExtension(filename)
	if err != nil {
		return "", err
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("image_%d%s", index, ext))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return "", message.Errorf(message.KindWorkspaceWriteFailed, "workspace %s already destroyed", w.Dir)
	}

	// Track before writing so a partial file is still removed on Destroy.
	w.ImagePaths = append(w.ImagePaths, path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", message.Wrap(message.KindWorkspaceWriteFailed, "writing image", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", message.Wrap(message.KindWorkspaceWriteFailed, "writing image", err)
	}
	if err := f.Close(); err != nil {
		return "", message.Wrap(message.KindWorkspaceWriteFailed, "writing image", err)
	}

	return path, nil
}

// Paths returns every file path the workspace tracks.
func (w *Workspace) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trackedPaths()
}

func (w *Workspace) trackedPaths() []string {
	paths := make([]string, 0, len(w.ImagePaths)+2)
	paths = append(paths, w.ImagePaths...)
	return append(paths, w.IntermediateAudioPath, w.OutputAudioPath)
}

// Destroy removes every tracked file, then the directory and anything else
// left in it. Each removal is attempted even if an earlier one failed; the
// failures are returned joined. Missing files are not errors, and calling
// Destroy again is a no-op.
func (w *Workspace) Destroy() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return nil
	}
	w.destroyed = true
	paths := w.trackedPaths()
	w.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		errs = append(errs, err)
	}

	if w.manager != nil {
		w.manager.active.Delete(w.Dir)
	}

	return errors.Join(errs...)
}

// Destroyed reports whether Destroy has run.
func (w *Workspace) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}
