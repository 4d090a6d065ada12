// Package config handles loading and validating the face2voice configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for the face2voice server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Generation GenerationConfig `mapstructure:"generation"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC health transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP API transport.
type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	MaxMemoryBytes int64         `mapstructure:"max_memory_bytes"` // multipart parts above this spill to disk
	RateLimit      int           `mapstructure:"rate_limit"`       // generate requests per IP per window, 0 disables
	RateWindow     time.Duration `mapstructure:"rate_window"`
}

// GenerationConfig holds the input limits for POST /api/generate.
type GenerationConfig struct {
	MaxTextLength   int    `mapstructure:"max_text_length"`
	MaxImages       int    `mapstructure:"max_images"`
	MaxImageBytes   int64  `mapstructure:"max_image_bytes"`
	DefaultLanguage string `mapstructure:"default_language"`
}

// WorkspaceConfig controls where per-request workspaces live and how
// abandoned ones are reclaimed.
type WorkspaceConfig struct {
	Root          string        `mapstructure:"root"` // empty means os.TempDir()
	Prefix        string        `mapstructure:"prefix"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 0 disables the sweeper
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// PipelineConfig selects and configures the synthesis backend.
type PipelineConfig struct {
	Backend       string          `mapstructure:"backend"` // "exec", "remote", "replicate" or "piper"
	Checkpoints   []string        `mapstructure:"checkpoints"`
	MaxConcurrent int64           `mapstructure:"max_concurrent"` // 0 means unlimited
	Exec          ExecConfig      `mapstructure:"exec"`
	Remote        RemoteConfig    `mapstructure:"remote"`
	Replicate     ReplicateConfig `mapstructure:"replicate"`
	Piper         PiperConfig     `mapstructure:"piper"`
}

// ExecConfig runs the pipeline as a local command.
//
// Args may reference {image}, {intermediate}, {output}, {text} and
// {language}; each placeholder is replaced per request.
type ExecConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Dir     string   `mapstructure:"dir"`
}

// RemoteConfig posts the job to a pipeline HTTP server.
type RemoteConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"` // 0 means no client timeout
}

// ReplicateConfig runs the pipeline as a Replicate model.
type ReplicateConfig struct {
	Token      string `mapstructure:"token"`
	Model      string `mapstructure:"model"`       // owner/name or owner/name:version
	ImageInput string `mapstructure:"image_input"` // input key for the reference image
	TextInput  string `mapstructure:"text_input"`
	LangInput  string `mapstructure:"language_input"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints. Endpoints takes precedence and Endpoint
// is the fallback.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
}

// SubmissionConfig configures where POST /submit persists raw submissions.
type SubmissionConfig struct {
	Backend       string   `mapstructure:"backend"` // "local" or "s3"
	Dir           string   `mapstructure:"dir"`
	MaxTextLength int      `mapstructure:"max_text_length"`
	MaxImageBytes int64    `mapstructure:"max_image_bytes"`
	S3            S3Config `mapstructure:"s3"`
}

// S3Config holds the object store settings for the s3 submission backend.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
}

// TelemetryConfig toggles OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./face2voice.yaml, ./configs/face2voice.yaml, /etc/face2voice/face2voice.yaml.
// A .env file in the working directory is loaded into the environment first.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.port", 8000)
	v.SetDefault("transports.http.allowed_origins", []string{"*"})
	v.SetDefault("transports.http.max_body_bytes", int64(420<<20))
	v.SetDefault("transports.http.max_memory_bytes", int64(32<<20))
	v.SetDefault("transports.http.rate_limit", 0)
	v.SetDefault("transports.http.rate_window", time.Minute)
	v.SetDefault("generation.max_text_length", 5000)
	v.SetDefault("generation.max_images", 16)
	v.SetDefault("generation.max_image_bytes", int64(25<<20))
	v.SetDefault("generation.default_language", "en")
	v.SetDefault("workspace.root", "")
	v.SetDefault("workspace.prefix", "face2voice-")
	v.SetDefault("workspace.sweep_interval", 5*time.Minute)
	v.SetDefault("workspace.max_age", time.Hour)
	v.SetDefault("pipeline.backend", "exec")
	v.SetDefault("pipeline.max_concurrent", 0)
	v.SetDefault("pipeline.exec.command", "python3")
	v.SetDefault("pipeline.exec.args", []string{
		"-m", "face2voice.synthesize",
		"--image", "{image}",
		"--intermediate", "{intermediate}",
		"--output", "{output}",
		"--language", "{language}",
		"--text", "{text}",
	})
	v.SetDefault("pipeline.remote.endpoint", "http://localhost:9000/synthesize")
	v.SetDefault("pipeline.replicate.image_input", "image")
	v.SetDefault("pipeline.replicate.text_input", "text")
	v.SetDefault("pipeline.replicate.language_input", "language")
	v.SetDefault("pipeline.piper.endpoint", "localhost:10200")
	v.SetDefault("submission.backend", "local")
	v.SetDefault("submission.dir", "storage")
	v.SetDefault("submission.max_text_length", 5000)
	v.SetDefault("submission.max_image_bytes", int64(25<<20))
	v.SetDefault("submission.s3.secure", true)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "face2voice")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("face2voice")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/face2voice")
	}

	// Environment variables: FACE2VOICE_SERVER_HEALTH_PORT, FACE2VOICE_PIPELINE_BACKEND, etc.
	v.SetEnvPrefix("FACE2VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${REPLICATE_API_TOKEN}")
	cfg.Pipeline.Remote.Token = resolveEnvRef(cfg.Pipeline.Remote.Token)
	cfg.Pipeline.Replicate.Token = resolveEnvRef(cfg.Pipeline.Replicate.Token)
	cfg.Submission.S3.AccessKey = resolveEnvRef(cfg.Submission.S3.AccessKey)
	cfg.Submission.S3.SecretKey = resolveEnvRef(cfg.Submission.S3.SecretKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Generation.MaxTextLength <= 0 {
		return fmt.Errorf("generation.max_text_length must be positive")
	}
	if c.Generation.MaxImages <= 0 {
		return fmt.Errorf("generation.max_images must be positive")
	}
	if c.Pipeline.MaxConcurrent < 0 {
		return fmt.Errorf("pipeline.max_concurrent must not be negative")
	}
	switch c.Pipeline.Backend {
	case "exec", "remote", "replicate", "piper":
	default:
		return fmt.Errorf("unknown pipeline backend %q", c.Pipeline.Backend)
	}
	switch c.Submission.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown submission backend %q", c.Submission.Backend)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
