// Package remote implements a synth backend that posts each job to a
// pipeline HTTP server.
//
// The server receives multipart/form-data with an "image" file plus "text"
// and "language" fields, and answers 200 with the WAV bytes as the body.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/synth"
)

var (
	_ synth.Synthesizer = (*Synthesizer)(nil)
	_ synth.Initializer = (*Synthesizer)(nil)
)

// Synthesizer forwards jobs to a remote pipeline server.
type Synthesizer struct {
	endpoint string
	token    string
	client   *http.Client
}

// New creates a new remote synthesizer from config.
func New(cfg config.RemoteConfig, transport http.RoundTripper) *Synthesizer {
	return &Synthesizer{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "remote" }

// Init checks that the endpoint is configured and reachable.
func (s *Synthesizer) Init(ctx context.Context) error {
	if s.endpoint == "" {
		return fmt.Errorf("no pipeline endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing pipeline server: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("pipeline server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// Synthesize uploads the reference image and text, and writes the returned
// audio to job.OutputAudioPath.
func (s *Synthesizer) Synthesize(ctx context.Context, job message.Job) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	img, err := os.Open(job.ImagePath)
	if err != nil {
		return fmt.Errorf("opening reference image: %w", err)
	}
	defer img.Close()

	part, err := writer.CreateFormFile("image", filepath.Base(job.ImagePath))
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, img); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	_ = writer.WriteField("text", job.Text)
	_ = writer.WriteField("language", job.Language)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "audio/wav")
	s.authorize(req)

	slog.Debug("remote pipeline request", "url", s.endpoint, "text_length", utf8.RuneCountInString(job.Text), "language", job.Language)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("pipeline failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	out, err := os.OpenFile(job.OutputAudioPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating output audio: %w", err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(job.OutputAudioPath)
		return fmt.Errorf("writing output audio: %w", err)
	}
	if n == 0 {
		_ = os.Remove(job.OutputAudioPath)
		return fmt.Errorf("pipeline returned no audio")
	}

	slog.Debug("remote pipeline complete", "audio_bytes", n)
	return nil
}

// Close releases idle connections.
func (s *Synthesizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Synthesizer) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
