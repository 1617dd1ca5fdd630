package config

import (
	"fmt"
	"strings"
	"time"
)

// Retry policies understood by the resolver.
const (
	RetryPolicyStrict = "strict"
	RetryPolicyAll    = "all"
)

const minChunkSize = 1024

// Settings is the process-wide configuration. It is built once at startup and
// treated as read-only afterwards.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Resolver  ResolverSettings  `json:"resolver"`
	Streaming StreamingSettings `json:"streaming"`
	Media     MediaSettings     `json:"media"`
	Logging   LoggingSettings   `json:"logging"`
}

// ServerSettings controls the HTTP listener.
type ServerSettings struct {
	ListenAddr        string        `json:"listenAddr" env:"LISTEN_ADDR"`
	ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// ResolverSettings configures the external resolution provider and the retry loop around it.
type ResolverSettings struct {
	ProviderURL string        `json:"providerUrl" env:"PROVIDER_URL"`
	APIKey      string        `json:"apiKey" env:"PROVIDER_API_KEY"`
	Timeout     time.Duration `json:"timeout" env:"RESOLVE_TIMEOUT"`
	MaxAttempts uint          `json:"maxAttempts" env:"RESOLVE_MAX_ATTEMPTS"`
	BackoffBase time.Duration `json:"backoffBase" env:"RESOLVE_BACKOFF_BASE"`
	RetryPolicy string        `json:"retryPolicy" env:"RESOLVE_RETRY_POLICY"`
}

// StreamingSettings configures the upstream relay.
type StreamingSettings struct {
	// Timeout is the upstream idle limit: the wait for response headers and
	// for each chunk read. A steadily flowing transfer may run longer.
	Timeout   time.Duration `json:"timeout" env:"STREAM_TIMEOUT"`
	ChunkSize int           `json:"chunkSize" env:"STREAM_CHUNK_SIZE"`
	UserAgent string        `json:"userAgent" env:"STREAM_USER_AGENT"`
}

// MediaSettings describes how identifiers are extracted and turned back into URLs.
type MediaSettings struct {
	AllowedDomains       []string `json:"allowedDomains" env:"ALLOWED_DOMAINS" envSeparator:","`
	CanonicalURLTemplate string   `json:"canonicalUrlTemplate" env:"CANONICAL_URL_TEMPLATE"`
	FilenamePrefix       string   `json:"filenamePrefix" env:"FILENAME_PREFIX"`
}

// LoggingSettings controls slog output and optional file rotation.
type LoggingSettings struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	File       string `json:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `json:"maxSizeMb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `json:"maxBackups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"maxAgeDays" env:"LOG_MAX_AGE_DAYS"`
}

// DefaultSettings returns the baseline configuration used before any file or
// environment overrides are applied.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			ListenAddr:        ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Resolver: ResolverSettings{
			ProviderURL: "http://127.0.0.1:8090/resolve",
			Timeout:     20 * time.Second,
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			RetryPolicy: RetryPolicyStrict,
		},
		Streaming: StreamingSettings{
			Timeout:   300 * time.Second,
			ChunkSize: 64 * 1024,
			UserAgent: "Mozilla/5.0",
		},
		Media: MediaSettings{
			AllowedDomains:       []string{"instagram.com"},
			CanonicalURLTemplate: "https://www.instagram.com/reel/%s/",
			FilenamePrefix:       "instagram_reel",
		},
		Logging: LoggingSettings{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Validate reports the first setting that would make the service misbehave.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server.ListenAddr) == "" {
		return fmt.Errorf("server listen address is required")
	}
	if strings.TrimSpace(s.Resolver.ProviderURL) == "" {
		return fmt.Errorf("resolver provider url is required")
	}
	if s.Resolver.MaxAttempts < 1 {
		return fmt.Errorf("resolver max attempts must be at least 1, got %d", s.Resolver.MaxAttempts)
	}
	if s.Resolver.Timeout <= 0 {
		return fmt.Errorf("resolver timeout must be positive")
	}
	if s.Resolver.BackoffBase < 0 {
		return fmt.Errorf("resolver backoff base must not be negative")
	}
	switch s.Resolver.RetryPolicy {
	case RetryPolicyStrict, RetryPolicyAll:
	default:
		return fmt.Errorf("unknown retry policy %q", s.Resolver.RetryPolicy)
	}
	if s.Streaming.Timeout <= 0 {
		return fmt.Errorf("streaming timeout must be positive")
	}
	if s.Streaming.ChunkSize < minChunkSize {
		return fmt.Errorf("streaming chunk size must be at least %d bytes, got %d", minChunkSize, s.Streaming.ChunkSize)
	}
	if len(s.Media.AllowedDomains) == 0 {
		return fmt.Errorf("at least one allowed domain is required")
	}
	if strings.Count(s.Media.CanonicalURLTemplate, "%s") != 1 {
		return fmt.Errorf("canonical url template must contain exactly one %%s")
	}
	return nil
}
