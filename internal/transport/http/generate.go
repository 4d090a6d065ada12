package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/workspace"
)

// audioFilename is the download name of every generated clip.
const audioFilename = "face2voice.wav"

// handleGenerate processes a POST /api/generate request.
//
// @Summary     Generate speech in a voice matched to a face
// @Description Accepts text and one or more face images as multipart/form-data. The images are stored in a
// @Description private per-request workspace, the first one is used as the voice reference, and the
// @Description synthesized speech is returned as a WAV attachment. The workspace is removed after the response.
// @Tags        generate
// @Accept      multipart/form-data
// @Produce     audio/wav
// @Produce     json
// @Param       text      formData  string  true   "Text to speak"
// @Param       images    formData  file    true   "Face image (.jpg, .jpeg or .png); repeat the field for several images"
// @Param       language  formData  string  false  "ISO-639-1 language code"  default(en)
// @Success     200  {file}    file                   "WAV audio (face2voice.wav)"
// @Failure     400  {object}  message.ErrorResponse  "Invalid input"
// @Failure     429  {string}  string                 "Rate limit exceeded"
// @Failure     500  {object}  message.ErrorResponse  "Pipeline or workspace failure"
// @Router      /api/generate [post]
func (t *Transport) handleGenerate(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("request_id", middleware.GetReqID(r.Context()))

	if err := t.parseForm(w, r); err != nil {
		writeError(w, logger, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := t.deps.Validator.Validate(r.FormValue("text"), r.FormValue("language"), t.images(r.MultipartForm, "images"))
	if err != nil {
		writeError(w, logger, err)
		return
	}

	ws, err := t.deps.Workspaces.Create()
	if err != nil {
		writeError(w, logger, err)
		return
	}
	lease := t.deps.Cleanup.Track(ws, "workspace", ws.Dir, "request_id", middleware.GetReqID(r.Context()))

	defer func() {
		if rec := recover(); rec != nil {
			lease.Now()
			panic(rec)
		}
	}()

	logger = logger.With("workspace", ws.Dir)
	logger.Debug("generate request accepted", "images", len(req.Images), "language", req.Language, "text_length", utf8.RuneCountInString(req.Text))

	for i, img := range req.Images {
		if err := writeImage(ws, i, img); err != nil {
			lease.Now()
			writeError(w, logger, err)
			return
		}
	}

	out, err := t.deps.Pipeline.Run(r.Context(), ws, req.Text, req.Language)
	if err != nil {
		lease.Now()
		writeError(w, logger, err)
		return
	}

	lease.Deferred(r)
	serveAudio(w, r, out)
}

// parseForm limits the body size and parses the multipart form. Parts
// beyond the configured memory size spill to temporary files that the
// caller must remove.
func (t *Transport) parseForm(w http.ResponseWriter, r *http.Request) error {
	if t.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, t.cfg.MaxBodyBytes)
	}

	if err := r.ParseMultipartForm(t.cfg.MaxMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return message.Errorf(message.KindImageTooLarge, "request body is too large (max %d bytes)", tooLarge.Limit)
		}
		return message.Wrap(message.KindInvalidForm, "invalid multipart form", err)
	}
	return nil
}

// formImages returns the file parts of field in upload order.
func formImages(form *multipart.Form, field string) []message.Image {
	headers := form.File[field]
	images := make([]message.Image, 0, len(headers))
	for _, fh := range headers {
		images = append(images, message.Image{
			Filename: fh.Filename,
			Size:     fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return images
}

func writeImage(ws *workspace.Workspace, index int, img message.Image) error {
	rc, err := img.Open()
	if err != nil {
		return message.Wrap(message.KindWorkspaceWriteFailed, fmt.Sprintf("reading upload %q", img.Filename), err)
	}
	defer rc.Close()

	_, err = ws.WriteImage(index, img.Filename, rc)
	return err
}

// serveAudio streams the WAV at path as an attachment.
func serveAudio(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, slog.Default(), message.Wrap(message.KindOutputMissing, "opening output audio", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, slog.Default(), message.Wrap(message.KindOutputMissing, "opening output audio", err))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audioFilename))
	http.ServeContent(w, r, audioFilename, info.ModTime(), f)
}
