// Package piper implements a text-only synth backend on top of a Piper
// Wyoming protocol server.
//
// Piper has no notion of a reference face: the image path of the job is
// ignored and the voice is selected by language. It is meant for running the
// service without the full face-conditioned pipeline.
//
// Wyoming protocol format (per event):
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package piper

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
	"github.com/nadzzz/face2voice/internal/synth"
)

// defaultVoices maps ISO-639-1 language codes to Piper voice model names.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-mls_10246-low",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"pt": "pt_BR-faber-medium",
	"ru": "ru_RU-ruslan-medium",
	"ja": "ja_JP-amitaro-medium",
	"ko": "ko_KR-kss-x_low",
	"zh": "zh_CN-huayan-medium",
}

var (
	_ synth.Synthesizer = (*Synthesizer)(nil)
	_ synth.Initializer = (*Synthesizer)(nil)
)

// Synthesizer implements synth.Synthesizer using the Wyoming protocol.
type Synthesizer struct {
	endpoint  string            // default host:port of the Piper Wyoming server
	endpoints map[string]string // language -> host:port for per-language Piper instances
	voices    map[string]string // language -> voice name overrides
	dialer    net.Dialer
}

// New creates a new Piper synthesizer from config.
func New(cfg config.PiperConfig) *Synthesizer {
	voices := make(map[string]string, len(defaultVoices))
	for k, v := range defaultVoices {
		voices[k] = v
	}
	for k, v := range cfg.Voices {
		voices[k] = v
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = cleanEndpoint(ep)
	}

	return &Synthesizer{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		dialer:    net.Dialer{Timeout: 10 * time.Second},
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	return strings.TrimPrefix(ep, "http://")
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "piper" }

// Init checks that the default Piper server answers a describe event.
func (s *Synthesizer) Init(ctx context.Context) error {
	if s.endpoint == "" {
		if len(s.endpoints) == 0 {
			return fmt.Errorf("no piper endpoint configured")
		}
		return nil
	}

	conn, err := s.dial(ctx, s.endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeEvent(conn, wyomingEvent{Type: "describe"}, nil); err != nil {
		return fmt.Errorf("sending describe event: %w", err)
	}
	evt, _, err := readEvent(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("reading piper info: %w", err)
	}
	if evt.Type != "info" {
		return fmt.Errorf("unexpected piper event %q in reply to describe", evt.Type)
	}
	return nil
}

// Synthesize sends the job text to Piper and writes the audio as WAV to
// job.OutputAudioPath.
func (s *Synthesizer) Synthesize(ctx context.Context, job message.Job) error {
	if job.Text == "" {
		return fmt.Errorf("empty text for synthesis")
	}

	voice := s.voices[job.Language]
	if voice == "" {
		voice = s.voices["en"]
	}

	endpoint := s.endpoints[job.Language]
	if endpoint == "" {
		endpoint = s.endpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no piper endpoint configured for language %q", job.Language)
	}

	slog.Debug("piper synthesize", "text_length", utf8.RuneCountInString(job.Text), "voice", voice, "language", job.Language, "endpoint", endpoint)

	conn, err := s.dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	synthEvent := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text": job.Text,
			"voice": map[string]any{
				"name": voice,
			},
		},
	}
	if err := writeEvent(conn, synthEvent, nil); err != nil {
		return fmt.Errorf("sending synthesize event: %w", err)
	}

	format, pcm, err := readAudio(bufio.NewReader(conn))
	if err != nil {
		return err
	}

	slog.Debug("piper audio-stop", "pcm_bytes", len(pcm), "rate", format.rate)
	if err := writeWAV(job.OutputAudioPath, format, pcm); err != nil {
		return fmt.Errorf("writing piper audio: %w", err)
	}
	return nil
}

// Close is a no-op; connections are per-request.
func (s *Synthesizer) Close() error { return nil }

func (s *Synthesizer) dial(ctx context.Context, endpoint string) (net.Conn, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(60 * time.Second))
	}
	return conn, nil
}

// audioFormat describes the PCM stream announced by audio-start.
type audioFormat struct {
	rate     int
	width    int
	channels int
}

// readAudio consumes events until audio-stop: audio-start, audio-chunk*, audio-stop.
func readAudio(r *bufio.Reader) (audioFormat, []byte, error) {
	format := audioFormat{rate: 22050, width: 2, channels: 1}
	var pcm []byte

	for {
		evt, payload, err := readEvent(r)
		if err != nil {
			return format, nil, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if v, ok := evt.Data["rate"].(float64); ok {
				format.rate = int(v)
			}
			if v, ok := evt.Data["width"].(float64); ok {
				format.width = int(v)
			}
			if v, ok := evt.Data["channels"].(float64); ok {
				format.channels = int(v)
			}

		case "audio-chunk":
			pcm = append(pcm, payload...)

		case "audio-stop":
			if len(pcm) == 0 {
				return format, nil, fmt.Errorf("piper returned no audio")
			}
			return format, pcm, nil

		case "error":
			msg := "unknown error"
			if text, ok := evt.Data["text"].(string); ok {
				msg = text
			}
			return format, nil, fmt.Errorf("piper error: %s", msg)

		default:
			slog.Debug("piper unknown event", "type", evt.Type)
		}
	}
}

// --- Wyoming protocol helpers ---

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// writeEvent sends a Wyoming event over the connection.
func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	jsonBytes, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", len(jsonBytes), len(payload))
	bw.Write(jsonBytes)
	bw.WriteByte('\n')
	bw.Write(payload)
	return bw.Flush()
}

// readEvent reads one Wyoming event and its payload.
func readEvent(r *bufio.Reader) (*wyomingEvent, []byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	parts := strings.Fields(header)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", header)
	}
	jsonLen, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json_length: %w", err)
	}
	payloadLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload_length: %w", err)
	}

	jsonBuf := make([]byte, jsonLen+1) // +1 for the \n
	if _, err := io.ReadFull(r, jsonBuf); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}

	var evt wyomingEvent
	if err := json.Unmarshal(jsonBuf[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}

	return &evt, payload, nil
}

// writeWAV writes pcm to path wrapped in a 44-byte RIFF/WAVE header.
func writeWAV(path string, f audioFormat, pcm []byte) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(out)
	le := binary.LittleEndian
	byteRate := f.rate * f.channels * f.width
	blockAlign := f.channels * f.width

	bw.WriteString("RIFF")
	binary.Write(bw, le, uint32(36+len(pcm)))
	bw.WriteString("WAVE")
	bw.WriteString("fmt ")
	binary.Write(bw, le, uint32(16)) // fmt chunk size
	binary.Write(bw, le, uint16(1))  // PCM
	binary.Write(bw, le, uint16(f.channels))
	binary.Write(bw, le, uint32(f.rate))
	binary.Write(bw, le, uint32(byteRate))
	binary.Write(bw, le, uint16(blockAlign))
	binary.Write(bw, le, uint16(f.width*8))
	bw.WriteString("data")
	binary.Write(bw, le, uint32(len(pcm)))
	bw.Write(pcm)

	if err := bw.Flush(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
