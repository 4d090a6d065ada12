package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nadzzz/face2voice/internal/message"
)

// handleSubmit processes a POST /submit request.
//
// @Summary     Store a text and image pair
// @Description Persists the text and a single JPG or PNG image under a new random id for later processing.
// @Tags        submit
// @Accept      multipart/form-data
// @Produce     json
// @Param       text   formData  string  true  "Text"
// @Param       image  formData  file    true  "Image (image/jpeg or image/png, max 25 MB)"
// @Success     200  {object}  message.SubmitResponse
// @Failure     400  {object}  message.ErrorResponse  "Invalid input"
// @Failure     500  {object}  message.ErrorResponse  "Storage failure"
// @Router      /submit [post]
func (t *Transport) handleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("request_id", middleware.GetReqID(r.Context()))

	if err := t.parseForm(w, r); err != nil {
		writeError(w, logger, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, fh, err := r.FormFile("image")
	if err != nil {
		writeError(w, logger, message.Errorf(message.KindInvalidForm, "image is required"))
		return
	}
	defer f.Close()

	resp, err := t.deps.Submissions.Submit(r.Context(), r.FormValue("text"), fh.Header.Get("Content-Type"), f)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
