package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// FileName is the default configuration file.
const FileName = ".fingraph.yml"

// EnvPrefix prefixes environment overrides. A double underscore marks
// nesting: FINGRAPH_GRAPH__PASSWORD sets graph.password.
const EnvPrefix = "FINGRAPH_"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (FINGRAPH_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKey maps FINGRAPH_PIPELINE__TURN_TIMEOUT to pipeline.turn_timeout.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Save writes the configuration to the given YAML file path. The graph
// password is never written.
func (c *Config) Save(path string) error {
	out := *c
	out.Graph.Password = ""
	data, err := yamlv3.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Graph.QueryTimeout > c.Pipeline.TurnTimeout {
		return fmt.Errorf("invalid config: graph.query_timeout (%s) exceeds pipeline.turn_timeout (%s)", c.Graph.QueryTimeout, c.Pipeline.TurnTimeout)
	}
	if !strings.Contains(c.Graph.URI, "://") {
		return fmt.Errorf("invalid config: graph.uri %q has no scheme (expected neo4j:// or bolt://)", c.Graph.URI)
	}
	return nil
}

// describe renders a field error with the YAML key path.
func describe(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")[1:]
	for i, p := range parts {
		parts[i] = yamlName(p)
	}
	key := strings.Join(parts, ".")
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s, got %q", key, strings.ReplaceAll(fe.Param(), " ", ", "), fmt.Sprint(fe.Value()))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", key, fe.Param())
	case "gte":
		return key + " must be non-negative"
	}
	return fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param())
}

// yamlName converts a Go field name to its snake_case key.
func yamlName(field string) string {
	switch field {
	case "LLM":
		return "llm"
	case "RPM":
		return "rpm"
	case "URI":
		return "uri"
	case "DataDir":
		return "data_dir"
	}
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// DBPath is the sqlite database holding transcripts.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "fingraph.db")
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
