package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .fingraph.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to fingraph! Let's configure the assistant.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"openai", "anthropic", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)

	// 2. Model.
	modelPrompt := promptui.Prompt{
		Label:   "Model",
		Default: DefaultModel(cfg.Provider),
	}
	if cfg.Model, err = modelPrompt.Run(); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	// 3. Graph store.
	uriPrompt := promptui.Prompt{
		Label:    "Neo4j URI",
		Default:  cfg.Graph.URI,
		Validate: validateGraphURI,
	}
	if cfg.Graph.URI, err = uriPrompt.Run(); err != nil {
		return nil, fmt.Errorf("graph uri: %w", err)
	}

	userPrompt := promptui.Prompt{
		Label:   "Neo4j username",
		Default: cfg.Graph.Username,
	}
	if cfg.Graph.Username, err = userPrompt.Run(); err != nil {
		return nil, fmt.Errorf("graph username: %w", err)
	}

	dbPrompt := promptui.Prompt{
		Label:   "Neo4j database",
		Default: cfg.Graph.Database,
	}
	if cfg.Graph.Database, err = dbPrompt.Run(); err != nil {
		return nil, fmt.Errorf("graph database: %w", err)
	}

	// 4. HTTP port.
	portPrompt := promptui.Prompt{
		Label:    "HTTP port for the chat server",
		Default:  strconv.Itoa(cfg.Server.Port),
		Validate: validatePort,
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("server port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running fingraph.\n", envVar)
	}
	fmt.Printf("Note: The Neo4j password is read from %sGRAPH__PASSWORD and is never saved.\n", EnvPrefix)

	if err := cfg.Save(FileName); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", FileName)
	return cfg, nil
}

func validateGraphURI(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc":
		return nil
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}
