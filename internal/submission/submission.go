// Package submission accepts raw text + image pairs and persists them for
// later processing.
//
// Each submission is stored under a random hex id as images/<id>.<ext> and
// texts/<id>.txt, on local disk or in an S3-compatible bucket.
package submission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
)

// allowedContentTypes maps accepted image content types to the stored
// file extension.
var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// Store persists one submission.
type Store interface {
	// Name returns the backend identifier (e.g., "local", "s3").
	Name() string

	// Save writes the image and text of sub. ext is the image extension
	// including the dot.
	Save(ctx context.Context, sub *message.Submission, ext string) error
}

// Service validates and stores submissions.
type Service struct {
	store         Store
	maxTextLength int
	maxImageBytes int64
}

// NewService creates a Service that saves into store.
func NewService(cfg config.SubmissionConfig, store Store) *Service {
	return &Service{
		store:         store,
		maxTextLength: cfg.MaxTextLength,
		maxImageBytes: cfg.MaxImageBytes,
	}
}

// Submit validates the pair, assigns it an id and stores it. image is read
// at most up to the size limit plus one byte.
func (s *Service) Submit(ctx context.Context, text, contentType string, image io.Reader) (*message.SubmitResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, message.Errorf(message.KindMissingText, "text is required")
	}
	if n := utf8.RuneCountInString(text); s.maxTextLength > 0 && n > s.maxTextLength {
		return nil, message.Errorf(message.KindTextTooLong, "text is too long (%d characters, max %d)", n, s.maxTextLength)
	}

	ext, ok := allowedContentTypes[normalizeContentType(contentType)]
	if !ok {
		return nil, message.Errorf(message.KindUnsupportedImageFormat, "only JPG and PNG images are accepted (got %q)", contentType)
	}

	data, err := readLimited(image, s.maxImageBytes)
	if err != nil {
		return nil, err
	}

	sub := &message.Submission{
		ID:          newID(),
		Text:        text,
		Image:       data,
		ContentType: normalizeContentType(contentType),
	}

	if err := s.store.Save(ctx, sub, ext); err != nil {
		return nil, message.Wrap(message.KindStorageFailed, "storing submission", err)
	}

	slog.Info("submission stored", "id", sub.ID, "store", s.store.Name(), "image_bytes", len(data), "text_length", utf8.RuneCountInString(text))
	return &message.SubmitResponse{
		Status:  "ok",
		ID:      sub.ID,
		Message: "submission stored",
	}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, message.Wrap(message.KindInvalidForm, "reading image", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, limit+1)); err != nil {
		return nil, message.Wrap(message.KindInvalidForm, "reading image", err)
	}
	if int64(buf.Len()) > limit {
		return nil, message.Errorf(message.KindImageTooLarge, "image is too large (max %d MB)", limit>>20)
	}
	return buf.Bytes(), nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// newID returns a 32-character lowercase hex id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// objectKeys returns the slash-separated image and text keys for a submission.
func objectKeys(id, ext string) (imageKey, textKey string) {
	return path.Join("images", id+ext), path.Join("texts", id+".txt")
}

// NewStore builds the configured store.
func NewStore(ctx context.Context, cfg config.SubmissionConfig) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown submission backend %q", cfg.Backend)
	}
}
