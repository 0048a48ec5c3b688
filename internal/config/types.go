package config

import "time"

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
)

// Config is the top-level fingraph configuration, corresponding to .fingraph.yml.
type Config struct {
	Provider    ProviderType   `yaml:"provider" koanf:"provider" validate:"required,oneof=anthropic openai ollama"`
	Model       string         `yaml:"model" koanf:"model" validate:"required"`
	LLM         LLMConfig      `yaml:"llm" koanf:"llm"`
	Graph       GraphConfig    `yaml:"graph" koanf:"graph"`
	Pipeline    PipelineConfig `yaml:"pipeline" koanf:"pipeline"`
	SchemaFile  string         `yaml:"schema_file,omitempty" koanf:"schema_file"`
	DataDir     string         `yaml:"data_dir" koanf:"data_dir" validate:"required"`
	Transcripts bool           `yaml:"transcripts" koanf:"transcripts"`
	Log         LogConfig      `yaml:"log" koanf:"log"`
	Tracing     TracingConfig  `yaml:"tracing" koanf:"tracing"`
	Server      ServerConfig   `yaml:"server" koanf:"server"`
}

// LLMConfig tunes model calls.
type LLMConfig struct {
	// RPM caps requests per minute across all purposes; 0 disables limiting.
	RPM               int           `yaml:"rpm" koanf:"rpm" validate:"gte=0"`
	ClassifyTimeout   time.Duration `yaml:"classify_timeout" koanf:"classify_timeout" validate:"gt=0"`
	GenerateTimeout   time.Duration `yaml:"generate_timeout" koanf:"generate_timeout" validate:"gt=0"`
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout" koanf:"synthesize_timeout" validate:"gt=0"`
	MaxTokens         int           `yaml:"max_tokens" koanf:"max_tokens" validate:"gt=0"`
}

// GraphConfig locates the Neo4j store and sizes its pool.
type GraphConfig struct {
	URI                   string        `yaml:"uri" koanf:"uri" validate:"required"`
	Username              string        `yaml:"username" koanf:"username"`
	Password              string        `yaml:"password,omitempty" koanf:"password"`
	Database              string        `yaml:"database,omitempty" koanf:"database"`
	MaxPoolSize           int           `yaml:"max_pool_size" koanf:"max_pool_size" validate:"gt=0"`
	AcquisitionTimeout    time.Duration `yaml:"acquisition_timeout" koanf:"acquisition_timeout" validate:"gt=0"`
	QueryTimeout          time.Duration `yaml:"query_timeout" koanf:"query_timeout" validate:"gt=0"`
	MaxConnectionLifetime time.Duration `yaml:"max_connection_lifetime" koanf:"max_connection_lifetime" validate:"gte=0"`
}

// PipelineConfig bounds turns and the in-memory caches.
type PipelineConfig struct {
	TurnTimeout      time.Duration `yaml:"turn_timeout" koanf:"turn_timeout" validate:"gt=0"`
	HistoryTurns     int           `yaml:"history_turns" koanf:"history_turns" validate:"gt=0"`
	QueryCacheSize   int           `yaml:"query_cache_size" koanf:"query_cache_size" validate:"gt=0"`
	ConversationTTL  time.Duration `yaml:"conversation_ttl" koanf:"conversation_ttl" validate:"gt=0"`
	MaxConversations int           `yaml:"max_conversations" koanf:"max_conversations" validate:"gt=0"`
	FastPath         bool          `yaml:"fast_path" koanf:"fast_path"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" koanf:"format" validate:"oneof=text logfmt json"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter" koanf:"exporter" validate:"oneof=none stdout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port" validate:"min=1,max=65535"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}
