// Package config loads the client configuration from an optional YAML file
// and NOTARY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	LogLevel string         `json:"log_level,omitempty" yaml:"logLevel,omitempty"`
	API      *APIConfig     `json:"api,omitempty" yaml:"api,omitempty"`
	Chat     *ChatConfig    `json:"chat,omitempty" yaml:"chat,omitempty"`
	Session  *SessionConfig `json:"session,omitempty" yaml:"session,omitempty"`
}

type APIConfig struct {
	BaseURL              string        `json:"base_url,omitempty" yaml:"baseURL,omitempty"`
	RequestTimeout       time.Duration `json:"request_timeout,omitempty" yaml:"requestTimeout,omitempty"`
	StreamConnectTimeout time.Duration `json:"stream_connect_timeout,omitempty" yaml:"streamConnectTimeout,omitempty"`
	StreamIdleTimeout    time.Duration `json:"stream_idle_timeout,omitempty" yaml:"streamIdleTimeout,omitempty"`
	StreamChunkSize      int           `json:"stream_chunk_size,omitempty" yaml:"streamChunkSize,omitempty"`
	StreamSentinel       string        `json:"stream_sentinel,omitempty" yaml:"streamSentinel,omitempty"`
}

type ChatConfig struct {
	// Streaming selects POST /chat/streaming over POST /chat for plain sends.
	Streaming        bool   `json:"streaming" yaml:"streaming"`
	PlaceholderTitle string `json:"placeholder_title,omitempty" yaml:"placeholderTitle,omitempty"`
	WelcomeMessage   string `json:"welcome_message,omitempty" yaml:"welcomeMessage,omitempty"`
	ErrorReply       string `json:"error_reply,omitempty" yaml:"errorReply,omitempty"`
	TitleLength      int    `json:"title_length,omitempty" yaml:"titleLength,omitempty"`
}

type SessionConfig struct {
	Backend          string `json:"backend,omitempty" yaml:"backend,omitempty"`
	BoltPath         string `json:"bolt_path,omitempty" yaml:"boltPath,omitempty"`
	Table            string `json:"table,omitempty" yaml:"table,omitempty"`
	Profile          string `json:"profile,omitempty" yaml:"profile,omitempty"`
	CredentialsParam string `json:"credentials_param,omitempty" yaml:"credentialsParam,omitempty"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		API: &APIConfig{
			BaseURL:              "http://127.0.0.1:5000",
			RequestTimeout:       10 * time.Second,
			StreamConnectTimeout: 10 * time.Second,
			StreamIdleTimeout:    60 * time.Second,
			StreamChunkSize:      4096,
			StreamSentinel:       "__contexto_actualizado__",
		},
		Chat: &ChatConfig{
			Streaming:        true,
			PlaceholderTitle: "Nuevo Contrato",
			WelcomeMessage:   "Bienvenido al asistente notarial de IA. ¿Qué tipo de contrato necesita generar hoy?",
			ErrorReply:       "Lo siento, ocurrió un error al procesar tu mensaje. Por favor, inténtalo de nuevo.",
			TitleLength:      30,
		},
		Session: &SessionConfig{
			Backend: BackendBolt,
			Profile: "default",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.fillMissing()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillMissing restores sections a file set to null.
func (c *Config) fillMissing() {
	def := Default()
	if c.API == nil {
		c.API = def.API
	}
	if c.Chat == nil {
		c.Chat = def.Chat
	}
	if c.Session == nil {
		c.Session = def.Session
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("NOTARY_API_BASE_URL"); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup("NOTARY_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("NOTARY_SESSION_BACKEND"); ok && v != "" {
		c.Session.Backend = v
	}
	if v, ok := lookup("NOTARY_SESSION_TABLE"); ok && v != "" {
		c.Session.Table = v
	}
	if v, ok := lookup("NOTARY_STREAM_IDLE_TIMEOUT_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: NOTARY_STREAM_IDLE_TIMEOUT_SECONDS: %w", err)
		}
		c.API.StreamIdleTimeout = time.Duration(n) * time.Second
	}
	if v, ok := lookup("NOTARY_STREAMING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: NOTARY_STREAMING: %w", err)
		}
		c.Chat.Streaming = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level: %s, expect to be one of info, debug, error, warn", c.LogLevel)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid api.baseURL %q", c.API.BaseURL)
	}
	if c.API.RequestTimeout <= 0 {
		return errors.New("config: api.requestTimeout must be positive")
	}
	if c.API.StreamConnectTimeout < 0 {
		return errors.New("config: api.streamConnectTimeout must not be negative")
	}
	if c.API.StreamIdleTimeout < 0 {
		return errors.New("config: api.streamIdleTimeout must not be negative")
	}
	if c.API.StreamChunkSize <= 0 {
		return errors.New("config: api.streamChunkSize must be positive")
	}
	if c.Chat.TitleLength <= 0 {
		return errors.New("config: chat.titleLength must be positive")
	}

	switch c.Session.Backend {
	case BackendBolt, BackendMemory:
	case BackendDynamoDB:
		if strings.TrimSpace(c.Session.Table) == "" {
			return errors.New("config: session.table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("config: invalid session.backend %q, expect one of bolt, dynamodb, memory", c.Session.Backend)
	}
	return nil
}
