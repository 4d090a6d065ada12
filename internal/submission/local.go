package submission

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nadzzz/face2voice/internal/message"
)

// LocalStore writes submissions below a directory on local disk.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir/images and dir/texts if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	for _, sub := range []string{"images", "texts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating submission directory: %w", err)
		}
	}
	return &LocalStore{dir: dir}, nil
}

// Name returns the backend identifier.
func (s *LocalStore) Name() string { return "local" }

// Save writes the image, then the text. If the text cannot be written the
// image is removed again.
func (s *LocalStore) Save(_ context.Context, sub *message.Submission, ext string) error {
	imageKey, textKey := objectKeys(sub.ID, ext)
	imagePath := filepath.Join(s.dir, filepath.FromSlash(imageKey))
	textPath := filepath.Join(s.dir, filepath.FromSlash(textKey))

	if err := os.WriteFile(imagePath, sub.Image, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	if err := os.WriteFile(textPath, []byte(sub.Text), 0o644); err != nil {
		_ = os.Remove(imagePath)
		return fmt.Errorf("writing text: %w", err)
	}
	return nil
}
