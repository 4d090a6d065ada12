// Package replicate implements a synth backend that runs the pipeline as a
// hosted Replicate model.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/replicate/replicate-go"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/synth"
)

var (
	_ synth.Synthesizer = (*Synthesizer)(nil)
	_ synth.Initializer = (*Synthesizer)(nil)
)

// Synthesizer uploads the reference image to Replicate and runs the
// configured model on it.
type Synthesizer struct {
	model      string
	imageInput string
	textInput  string
	langInput  string
	client     *replicate.Client
}

// New creates a new Replicate synthesizer from config.
func New(cfg config.ReplicateConfig, httpClient *http.Client) (*Synthesizer, error) {
	options := []replicate.ClientOption{replicate.WithToken(cfg.Token)}
	if httpClient != nil {
		options = append(options, replicate.WithHTTPClient(httpClient))
	}

	client, err := replicate.NewClient(options...)
	if err != nil {
		return nil, fmt.Errorf("creating replicate client: %w", err)
	}

	return &Synthesizer{
		model:      cfg.Model,
		imageInput: cfg.ImageInput,
		textInput:  cfg.TextInput,
		langInput:  cfg.LangInput,
		client:     client,
	}, nil
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "replicate" }

// Init validates the model identifier.
func (s *Synthesizer) Init(_ context.Context) error {
	if s.model == "" {
		return errors.New("no replicate model configured")
	}
	if s.imageInput == "" || s.textInput == "" {
		return errors.New("replicate image and text input keys are required")
	}
	return nil
}

// Synthesize runs one prediction and writes its audio output to
// job.OutputAudioPath. The uploaded image is deleted afterwards.
func (s *Synthesizer) Synthesize(ctx context.Context, job message.Job) error {
	image, err := os.ReadFile(job.ImagePath)
	if err != nil {
		return fmt.Errorf("reading reference image: %w", err)
	}

	file, err := s.client.CreateFileFromBytes(ctx, image, &replicate.CreateFileOptions{
		Filename:    filepath.Base(job.ImagePath),
		ContentType: mime.TypeByExtension(filepath.Ext(job.ImagePath)),
	})
	if err != nil {
		return fmt.Errorf("uploading reference image: %w", err)
	}

	fileID := file.ID
	defer func() {
		if err := s.client.DeleteFile(context.Background(), fileID); err != nil {
			slog.Warn("deleting replicate file failed", "file_id", fileID, "error", err)
		}
	}()

	input := s.convertInput(file.URLs["get"], job)

	slog.Debug("replicate prediction", "model", s.model, "text_length", utf8.RuneCountInString(job.Text), "language", job.Language)

	output, err := s.client.RunWithOptions(ctx, s.model, input, nil, replicate.WithBlockUntilDone(), replicate.WithFileOutput())
	if err != nil {
		return fmt.Errorf("replicate prediction: %w", err)
	}

	audio, err := audioOutput(output)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(job.OutputAudioPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating output audio: %w", err)
	}
	_, err = io.Copy(out, audio)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(job.OutputAudioPath)
		return fmt.Errorf("writing output audio: %w", err)
	}
	return nil
}

// Close is a no-op; the client holds no long-lived resources.
func (s *Synthesizer) Close() error { return nil }

func (s *Synthesizer) convertInput(imageURL string, job message.Job) replicate.PredictionInput {
	input := replicate.PredictionInput{
		s.imageInput: imageURL,
		s.textInput:  job.Text,
	}
	if s.langInput != "" && job.Language != "" {
		input[s.langInput] = job.Language
	}
	return input
}

// audioOutput picks the audio file out of a prediction output, which is
// either a single file or a list whose first element is the file.
func audioOutput(output replicate.PredictionOutput) (io.Reader, error) {
	switch v := output.(type) {
	case *replicate.FileOutput:
		return v, nil
	case []any:
		if len(v) > 0 {
			if f, ok := v[0].(*replicate.FileOutput); ok {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("unsupported replicate output %T", output)
}
