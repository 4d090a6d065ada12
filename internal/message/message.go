// Package message defines the core data types flowing through the face2voice pipeline.
package message

import (
	"io"
)

// Image is one uploaded image part, in upload order.
type Image struct {
	// Filename is the client-declared name. It is only used to derive the
	// file extension; the bytes are never stored under this name.
	Filename string

	// Size is the declared part size in bytes.
	Size int64

	// Open returns a reader over the part content.
	Open func() (io.ReadCloser, error)
}

// GenerationRequest is a validated POST /api/generate request.
// It only lives for the duration of one HTTP call.
type GenerationRequest struct {
	// Text is the trimmed text to speak.
	Text string

	// Language is the ISO-639-1 code passed to the synthesis pipeline.
	Language string

	// Images holds between one and the configured maximum images.
	Images []Image
}

// Job is the single call made to the external synthesis pipeline.
type Job struct {
	// ImagePath is the reference face image inside the request workspace.
	ImagePath string

	// IntermediateAudioPath is a scratch path the pipeline may write the
	// base speaker audio to before tone conversion.
	IntermediateAudioPath string

	// OutputAudioPath is where the pipeline must leave the final WAV.
	OutputAudioPath string

	// Text is the text to synthesize.
	Text string

	// Language is the ISO-639-1 code (e.g., "en", "fr").
	Language string
}

// Submission is a raw text + image pair accepted by POST /submit.
type Submission struct {
	ID          string
	Text        string
	Image       []byte
	ContentType string
}

// SubmitResponse is the JSON body returned by POST /submit.
type SubmitResponse struct {
	Status  string `json:"status" example:"ok"`
	ID      string `json:"id" example:"3f2b9c4e0d8a4f1f9a1c2b3d4e5f6a7b"`
	Message string `json:"message" example:"submission stored"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Detail string `json:"detail" example:"text is required"`
	Kind   Kind   `json:"kind,omitempty" example:"missing_text"`
}
