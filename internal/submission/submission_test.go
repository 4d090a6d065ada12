package submission

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
)

type failingStore struct{}

func (failingStore) Name() string { return "failing" }

func (failingStore) Save(context.Context, *message.Submission, string) error {
	return errors.New("bucket unreachable")
}

func newLocalService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	return NewService(config.SubmissionConfig{MaxTextLength: 10, MaxImageBytes: 8}, store), dir
}

func TestSubmit_StoresPair(t *testing.T) {
	svc, dir := newLocalService(t)

	resp, err := svc.Submit(context.Background(), " bonjour ", "image/png", bytes.NewReader([]byte("pngdata")))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Regexp(t, `^[0-9a-f]{32}$`, resp.ID)

	img, err := os.ReadFile(filepath.Join(dir, "images", resp.ID+".png"))
	require.NoError(t, err)
	assert.Equal(t, "pngdata", string(img))

	text, err := os.ReadFile(filepath.Join(dir, "texts", resp.ID+".txt"))
	require.NoError(t, err)
	assert.Equal(t, " bonjour ", string(text))
}

func TestSubmit_JPEGExtension(t *testing.T) {
	svc, dir := newLocalService(t)

	resp, err := svc.Submit(context.Background(), "hi", "image/jpeg; charset=binary", bytes.NewReader([]byte("jpg")))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "images", resp.ID+".jpg"))
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		contentType string
		image       []byte
		kind        message.Kind
	}{
		{"blank text", "   ", "image/png", []byte("x"), message.KindMissingText},
		{"text too long", strings.Repeat("é", 11), "image/png", []byte("x"), message.KindTextTooLong},
		{"gif", "hi", "image/gif", []byte("x"), message.KindUnsupportedImageFormat},
		{"too large", "hi", "image/png", []byte("123456789"), message.KindImageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, dir := newLocalService(t)

			_, err := svc.Submit(context.Background(), tt.text, tt.contentType, bytes.NewReader(tt.image))
			require.Error(t, err)
			assert.Equal(t, tt.kind, message.KindOf(err))
			assert.Equal(t, 400, tt.kind.Status())

			entries, _ := os.ReadDir(filepath.Join(dir, "images"))
			assert.Empty(t, entries)
		})
	}
}

func TestSubmit_ExactLimitsAccepted(t *testing.T) {
	svc, _ := newLocalService(t)

	_, err := svc.Submit(context.Background(), strings.Repeat("é", 10), "image/png", bytes.NewReader([]byte("12345678")))
	assert.NoError(t, err)
}

func TestSubmit_StorageFailure(t *testing.T) {
	svc := NewService(config.SubmissionConfig{MaxTextLength: 10, MaxImageBytes: 8}, failingStore{})

	_, err := svc.Submit(context.Background(), "hi", "image/png", bytes.NewReader([]byte("x")))
	assert.True(t, message.IsKind(err, message.KindStorageFailed))
	assert.Contains(t, err.Error(), "bucket unreachable")
}

func TestObjectKeys(t *testing.T) {
	img, text := objectKeys("abc", ".png")
	assert.Equal(t, "images/abc.png", img)
	assert.Equal(t, "texts/abc.txt", text)
}

func TestNewStore_Local(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(context.Background(), config.SubmissionConfig{Backend: "local", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())
	assert.DirExists(t, filepath.Join(dir, "texts"))

	_, err = NewStore(context.Background(), config.SubmissionConfig{Backend: "ftp"})
	assert.Error(t, err)
}
