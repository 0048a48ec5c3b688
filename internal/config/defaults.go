package config

import "time"

// defaultModels is the model used for each provider when none is chosen.
var defaultModels = map[ProviderType]string{
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderOllama:    "llama3",
}

// DefaultModel returns the default model for provider, falling back to the
// Anthropic default.
func DefaultModel(provider ProviderType) string {
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels[ProviderAnthropic]
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Model:    DefaultModel(ProviderOpenAI),
		LLM: LLMConfig{
			RPM:               60,
			ClassifyTimeout:   10 * time.Second,
			GenerateTimeout:   30 * time.Second,
			SynthesizeTimeout: 20 * time.Second,
			MaxTokens:         500,
		},
		Graph: GraphConfig{
			URI:                   "neo4j://localhost:7687",
			Username:              "neo4j",
			Database:              "neo4j",
			MaxPoolSize:           10,
			AcquisitionTimeout:    5 * time.Second,
			QueryTimeout:          15 * time.Second,
			MaxConnectionLifetime: time.Hour,
		},
		Pipeline: PipelineConfig{
			TurnTimeout:      45 * time.Second,
			HistoryTurns:     10,
			QueryCacheSize:   100,
			ConversationTTL:  time.Hour,
			MaxConversations: 10000,
			FastPath:         true,
		},
		DataDir:     ".fingraph",
		Transcripts: true,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}
