// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (LEDGERCHAT_* runtime override)
//  2. Config file (~/.ledgerchat/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model selection, embedder model
//   - Storage: PostgreSQL connection (see storage.go)
//   - Agents: routing, RAG, details-agent and web-search settings
//   - External services: document ingestion API, prompt template service
//   - Server: bind address, CORS, rate limits
//
// Security: sensitive values (passwords, tokens) are masked in MarshalJSON.
// Validation lives in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingIngestToken indicates the document ingestion API token is not set.
	ErrMissingIngestToken = errors.New("missing ingestion API token")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidRAGTopK indicates the RAG top-K value is out of range.
	ErrInvalidRAGTopK = errors.New("invalid RAG top-k")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is missing or weak.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

const (
	// DefaultModelName is the default chat model.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultVisionModelName is the default model for document page classification.
	DefaultVisionModelName = "googleai/gemini-2.5-flash"

	// DefaultEmbedderModel is the default embedder. gemini-embedding-001
	// supports truncation to 768 dimensions, matching the doc_chunks schema.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultHistoryWindow is the number of prior messages loaded per turn.
	DefaultHistoryWindow = 20

	// MaxHistoryWindow caps history loading to prevent OOM on long threads.
	MaxHistoryWindow = 500
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider        string `mapstructure:"provider" json:"provider"` // "googleai" (default) or "openai"
	ModelName       string `mapstructure:"model_name" json:"model_name"`
	VisionModelName string `mapstructure:"vision_model_name" json:"vision_model_name"`
	EmbedderModel   string `mapstructure:"embedder_model" json:"embedder_model"`

	// Conversation settings
	HistoryWindow int `mapstructure:"history_window" json:"history_window"`

	// RAG settings
	RAGTopK           int `mapstructure:"rag_top_k" json:"rag_top_k"`
	ContextTokens     int `mapstructure:"context_tokens" json:"context_tokens"`
	SessionTTLMinutes int `mapstructure:"session_ttl_minutes" json:"session_ttl_minutes"`

	// Details agents
	MaxResultRows int `mapstructure:"max_result_rows" json:"max_result_rows"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Web search service (SearXNG-compatible JSON API)
	SearchBaseURL    string `mapstructure:"search_base_url" json:"search_base_url"`
	SearchMaxResults int    `mapstructure:"search_max_results" json:"search_max_results"`

	// Document ingestion API
	IngestBaseURL string `mapstructure:"ingest_base_url" json:"ingest_base_url"`
	IngestToken   string `mapstructure:"ingest_token" json:"ingest_token"` // SENSITIVE: masked in MarshalJSON

	// Prompt template service (empty = built-in templates only)
	PromptServiceURL string `mapstructure:"prompt_service_url" json:"prompt_service_url"`

	// Server configuration
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability (OTLP trace export to a local agent)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// MarshalJSON masks sensitive fields when the config is serialized,
// e.g. for debug logging.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	if masked.IngestToken != "" {
		masked.IngestToken = "********"
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGERCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".ledgerchat"))
	}
	v.AddConfigPath(".")

	// Config file is optional; env and defaults suffice
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("vision_model_name", DefaultVisionModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("history_window", DefaultHistoryWindow)

	v.SetDefault("rag_top_k", 5)
	v.SetDefault("context_tokens", 6000)
	v.SetDefault("session_ttl_minutes", 60)

	v.SetDefault("max_result_rows", 50)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ledgerchat")
	v.SetDefault("postgres_db_name", "ledgerchat")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("search_max_results", 5)

	v.SetDefault("server_addr", ":8080")
	v.SetDefault("rate_burst", 60)

	v.SetDefault("service_name", "ledgerchat")
	v.SetDefault("environment", "development")
}
