package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/face2voice/internal/cleanup"
	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/pipeline"
	"github.com/nadzzz/face2voice/internal/submission"
	"github.com/nadzzz/face2voice/internal/validate"
	"github.com/nadzzz/face2voice/internal/workspace"
)

type filePart struct {
	name    string
	content string
}

type testEnv struct {
	transport      *Transport
	handler        http.Handler
	scheduler      *cleanup.Scheduler
	workspaceRoot  string
	submissionsDir string
}

func newTestEnv(t *testing.T, runner Runner) *testEnv {
	t.Helper()

	root := t.TempDir()
	manager, err := workspace.NewManager(config.WorkspaceConfig{Root: root, Prefix: "face2voice-"})
	require.NoError(t, err)

	subDir := t.TempDir()
	store, err := submission.NewLocalStore(subDir)
	require.NoError(t, err)

	scheduler := cleanup.NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr := New(config.HTTPConfig{
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   4 << 20,
		MaxMemoryBytes: 1 << 20,
	}, Deps{
		Validator: validate.New(config.GenerationConfig{
			MaxTextLength:   50,
			MaxImages:       16,
			MaxImageBytes:   64,
			DefaultLanguage: "en",
		}),
		Workspaces:  manager,
		Pipeline:    runner,
		Cleanup:     scheduler,
		Submissions: submission.NewService(config.SubmissionConfig{MaxTextLength: 50, MaxImageBytes: 64}, store),
	})

	return &testEnv{
		transport:      tr,
		handler:        tr.Handler(),
		scheduler:      scheduler,
		workspaceRoot:  root,
		submissionsDir: subDir,
	}
}

// generateRequest builds a multipart POST /api/generate request. A nil text
// omits the field.
func generateRequest(t *testing.T, text *string, language string, images ...filePart) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if text != nil {
		require.NoError(t, mw.WriteField("text", *text))
	}
	if language != "" {
		require.NoError(t, mw.WriteField("language", language))
	}
	for _, img := range images {
		part, err := mw.CreateFormFile("images", img.name)
		require.NoError(t, err)
		_, err = io.WriteString(part, img.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func ptr(s string) *string { return &s }

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// assertLeasesReleased fails unless every workspace lease has been released.
func (e *testEnv) assertLeasesReleased(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, e.scheduler.Wait(ctx))
}

func (e *testEnv) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.workspaceRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace root should be empty")
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) message.ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body message.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Detail)
	return body
}

func TestGenerate_Success(t *testing.T) {
	runner := &fakeRunner{audio: []byte("RIFF-fake-wave")}
	env := newTestEnv(t, runner)

	rec := env.serve(generateRequest(t, ptr("  Hello world  "), "FR",
		filePart{"face.PNG", "png-bytes"},
		filePart{"side.jpg", "jpg-bytes"},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="face2voice.wav"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "RIFF-fake-wave", rec.Body.String())

	require.Equal(t, 1, runner.callCount())
	obs := runner.calls[0]
	assert.Equal(t, "Hello world", obs.text)
	assert.Equal(t, "fr", obs.language)
	assert.Equal(t, []string{
		filepath.Join(obs.dir, "image_0.png"),
		filepath.Join(obs.dir, "image_1.jpg"),
	}, obs.images)
	assert.Equal(t, []bool{true, true}, obs.imagesOnFS)
	assert.True(t, strings.HasPrefix(filepath.Base(obs.dir), "face2voice-"))

	assert.NoDirExists(t, obs.dir)
	env.assertNoWorkspaces(t)
}

func TestGenerate_DefaultLanguage(t *testing.T) {
	runner := &fakeRunner{}
	env := newTestEnv(t, runner)

	rec := env.serve(generateRequest(t, ptr("hi"), "", filePart{"a.jpeg", "x"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "en", runner.calls[0].language)
}

func TestGenerate_InputErrorsCreateNoWorkspace(t *testing.T) {
	seventeen := make([]filePart, 17)
	for i := range seventeen {
		seventeen[i] = filePart{fmt.Sprintf("f%d.png", i), "x"}
	}

	tests := []struct {
		name   string
		text   *string
		images []filePart
		kind   message.Kind
	}{
		{"missing text field", nil, []filePart{{"a.png", "x"}}, message.KindMissingText},
		{"blank text", ptr(" \n\t "), []filePart{{"a.png", "x"}}, message.KindMissingText},
		{"text too long", ptr(strings.Repeat("a", 51)), []filePart{{"a.png", "x"}}, message.KindTextTooLong},
		{"no images", ptr("hi"), nil, message.KindNoImages},
		{"too many images", ptr("hi"), seventeen, message.KindTooManyImages},
		{"image too large", ptr("hi"), []filePart{{"a.png", strings.Repeat("x", 65)}}, message.KindImageTooLarge},
		{"missing text wins over missing images", nil, nil, message.KindMissingText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			env := newTestEnv(t, runner)

			rec := env.serve(generateRequest(t, tt.text, "", tt.images...))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.kind, decodeError(t, rec).Kind)
			assert.Zero(t, runner.callCount())
			env.assertNoWorkspaces(t)
		})
	}
}

func TestGenerate_TextAtLimitAccepted(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	rec := env.serve(generateRequest(t, ptr(strings.Repeat("é", 50)), "", filePart{"a.png", "x"}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_SixteenImagesAccepted(t *testing.T) {
	runner := &fakeRunner{}
	env := newTestEnv(t, runner)

	images := make([]filePart, 16)
	for i := range images {
		images[i] = filePart{fmt.Sprintf("f%d.jpg", i), "x"}
	}

	rec := env.serve(generateRequest(t, ptr("hi"), "", images...))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, runner.calls[0].images, 16)
	env.assertNoWorkspaces(t)
}

func TestGenerate_UnsupportedFormatCleansUp(t *testing.T) {
	runner := &fakeRunner{}
	env := newTestEnv(t, runner)

	rec := env.serve(generateRequest(t, ptr("hi"), "",
		filePart{"a.png", "x"},
		filePart{"b.gif", "x"},
	))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, message.KindUnsupportedImageFormat, body.Kind)
	assert.Contains(t, body.Detail, "b.gif")
	assert.Zero(t, runner.callCount())
	env.assertNoWorkspaces(t)
}

func TestGenerate_PipelineFailureCleansUp(t *testing.T) {
	runner := &fakeRunner{err: message.Wrap(message.KindInferenceFailed, "inference failed", errors.New("CUDA error"))}
	env := newTestEnv(t, runner)

	rec := env.serve(generateRequest(t, ptr("hi"), "", filePart{"a.png", "x"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, message.KindInferenceFailed, body.Kind)
	assert.Contains(t, body.Detail, "CUDA error")
	assert.NoDirExists(t, runner.calls[0].dir)
	env.assertNoWorkspaces(t)
}

func TestGenerate_OutputMissing(t *testing.T) {
	runner := &fakeRunner{skipWrite: true}
	env := newTestEnv(t, runner)

	rec := env.serve(generateRequest(t, ptr("hi"), "", filePart{"a.png", "x"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, message.KindOutputMissing, decodeError(t, rec).Kind)
	env.assertNoWorkspaces(t)
}

func TestGenerate_ImageWriteFailureCleansUp(t *testing.T) {
	runner := &fakeRunner{}
	env := newTestEnv(t, runner)
	env.transport.images = func(form *multipart.Form, field string) []message.Image {
		images := formImages(form, field)
		for i := range images {
			images[i].Open = func() (io.ReadCloser, error) {
				return io.NopCloser(iotest.ErrReader(errors.New("no space left on device"))), nil
			}
		}
		return images
	}

	rec := env.serve(generateRequest(t, ptr("hi"), "",
		filePart{"a.png", "x"},
		filePart{"b.jpg", "x"},
	))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, message.KindWorkspaceWriteFailed, body.Kind)
	assert.Contains(t, body.Detail, "no space left on device")
	assert.Zero(t, runner.callCount())
	env.assertLeasesReleased(t)
	env.assertNoWorkspaces(t)
}

func TestGenerate_RunnerPanicCleansUp(t *testing.T) {
	runner := &fakeRunner{panics: true}
	env := newTestEnv(t, runner)

	rec := env.serve(generateRequest(t, ptr("hi"), "", filePart{"a.png", "x"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, runner.callCount())
	assert.NoDirExists(t, runner.calls[0].dir)
	// The lease is never deferred on this path, so a drained scheduler
	// means it was released immediately.
	env.assertLeasesReleased(t)
	env.assertNoWorkspaces(t)
}

func TestGenerate_NotInitialized(t *testing.T) {
	env := newTestEnv(t, pipeline.New(0))

	rec := env.serve(generateRequest(t, ptr("hi"), "", filePart{"a.png", "x"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, message.KindNotInitialized, decodeError(t, rec).Kind)
	env.assertNoWorkspaces(t)
}

func TestGenerate_NotMultipart(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.serve(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, message.KindInvalidForm, decodeError(t, rec).Kind)
	env.assertNoWorkspaces(t)
}

func TestGenerate_ConcurrentRequestsUseDistinctWorkspaces(t *testing.T) {
	runner := &fakeRunner{}
	env := newTestEnv(t, runner)

	const n = 12
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.serve(generateRequest(t, ptr("hi"), "", filePart{"a.png", "x"})).Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	dirs := make(map[string]struct{})
	for _, obs := range runner.calls {
		dirs[obs.dir] = struct{}{}
	}
	assert.Len(t, dirs, n)
	env.assertNoWorkspaces(t)
}

func TestGenerate_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	req := httptest.NewRequest(http.MethodOptions, "/api/generate", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := env.serve(req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("text", "bonjour"))

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="image"; filename="face.png"`}
	hdr["Content-Type"] = []string{"image/png"}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, _ = io.WriteString(part, "png-bytes")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.serve(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp message.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.FileExists(t, filepath.Join(env.submissionsDir, "images", resp.ID+".png"))
	assert.FileExists(t, filepath.Join(env.submissionsDir, "texts", resp.ID+".txt"))
}

func TestSubmit_RejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("text", "bonjour"))
	part, err := mw.CreateFormFile("image", "face.gif")
	require.NoError(t, err)
	_, _ = io.WriteString(part, "gif")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.serve(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, message.KindUnsupportedImageFormat, decodeError(t, rec).Kind)
}
