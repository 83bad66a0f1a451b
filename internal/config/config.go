// Package config handles Scribe configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/scribe/config.yaml, /etc/scribe/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "scribe", "config.yaml"))
	}

	paths = append(paths, "/etc/scribe/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Scribe configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Memory     MemoryConfig     `yaml:"memory"`
	RAG        RAGConfig        `yaml:"rag"`
	Agent      AgentConfig      `yaml:"agent"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	GitHub     GitHubConfig     `yaml:"github"`
	Fetch      FetchConfig      `yaml:"fetch"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the chat model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openai, ollama
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// MemoryConfig defines the layered memory store settings.
type MemoryConfig struct {
	// MaxTurns bounds the per-conversation session ring.
	MaxTurns int `yaml:"max_turns"`
	// RecentTurns is the number of session turns always included in recall.
	RecentTurns int `yaml:"recent_turns"`
	// RecallBudget is the token budget for one assembled context.
	RecallBudget int `yaml:"recall_budget"`
}

// RAGConfig defines the retrieval index settings.
type RAGConfig struct {
	Enabled            bool `yaml:"enabled"`
	MessagesPerChannel int  `yaml:"messages_per_channel"`
	MinMessageLength   int  `yaml:"min_message_length"`
	IndexIntervalSec   int  `yaml:"index_interval_sec"`
	TopK               int  `yaml:"top_k"`
}

// AgentConfig defines the reasoning/tool loop settings.
type AgentConfig struct {
	// MaxRounds caps reasoning/tool round-trips per request.
	MaxRounds int `yaml:"max_rounds"`
	// RequestTimeoutSec is the overall per-request deadline.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// AssembleTimeoutSec is the hard cap on context assembly fan-out.
	AssembleTimeoutSec int `yaml:"assemble_timeout_sec"`
	// ToolTimeoutSec bounds a single tool execution.
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// SchedulerConfig defines the background scheduler settings.
type SchedulerConfig struct {
	TickSec int `yaml:"tick_sec"`
}

// GitHubConfig defines the issue tracker tool settings.
type GitHubConfig struct {
	Token       string `yaml:"token"`
	DefaultRepo string `yaml:"default_repo"` // owner/repo for unqualified issue creation
}

// FetchConfig defines the URL fetch tool settings.
type FetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "qwen3:4b",
		},
		Embeddings: EmbeddingsConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Memory: MemoryConfig{
			MaxTurns:     50,
			RecentTurns:  10,
			RecallBudget: 2000,
		},
		RAG: RAGConfig{
			MessagesPerChannel: 200,
			MinMessageLength:   20,
			IndexIntervalSec:   300,
			TopK:               5,
		},
		Agent: AgentConfig{
			MaxRounds:          8,
			RequestTimeoutSec:  120,
			AssembleTimeoutSec: 10,
			ToolTimeoutSec:     60,
		},
		Scheduler: SchedulerConfig{TickSec: 30},
		Fetch:     FetchConfig{Enabled: true, MaxChars: 50000},
		DataDir:   "data",
	}
}
