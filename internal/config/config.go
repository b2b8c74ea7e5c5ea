package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// DataConfig describes where complaint records come from and which columns
// carry the text to embed.
type DataConfig struct {
	Sources         []string `yaml:"sources"`
	NarrativeFields []string `yaml:"narrative_fields"`
	SummaryFields   []string `yaml:"summary_fields"`
}

// RemoteEmbedderConfig holds configuration for an OpenAI-compatible or Ollama
// embeddings endpoint.
type RemoteEmbedderConfig struct {
	// API is "openai" ({base_url}/embeddings) or "ollama" ({base_url}/api/embed).
	API               string  `yaml:"api"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GeminiConfig selects a Vertex AI Gemini project.
type GeminiConfig struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	Dimension   int                   `yaml:"dimension"`
	BatchSize   int                   `yaml:"batch_size"`
	Concurrency int                   `yaml:"concurrency"`
	Remote      *RemoteEmbedderConfig `yaml:"remote,omitempty"`
	Gemini      *GeminiConfig         `yaml:"gemini,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string        `yaml:"type"`
	Path       string        `yaml:"path"`
	Collection string        `yaml:"collection"`
	Qdrant     *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Addr        string `yaml:"addr"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OllamaGeneratorConfig configures text generation through Ollama.
type OllamaGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Temperature float64 `yaml:"temperature"`
}

// GeneratorConfig selects the text-generation model and bounds its use.
type GeneratorConfig struct {
	Type            string                 `yaml:"type"`
	MaxOutputTokens int                    `yaml:"max_output_tokens"`
	MaxPromptChars  int                    `yaml:"max_prompt_chars"`
	Ollama          *OllamaGeneratorConfig `yaml:"ollama,omitempty"`
	Gemini          *GeminiConfig          `yaml:"gemini,omitempty"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	DefaultTopK int     `yaml:"default_top_k"`
	MinScore    float64 `yaml:"min_score"`
}

// ServerConfig configures the HTTP query interface.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Search      SearchConfig      `yaml:"search"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid config", goerr.V("path", path))
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/trustvoice/config.yaml.
// If neither exists, it writes defaults to ~/.config/trustvoice/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create config dir", goerr.V("path", path))
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write config", goerr.V("path", path))
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, ".config", "trustvoice", "config.yaml"), nil
}

// Default returns the built-in configuration: offline hashing embeddings,
// a SQLite index under ./vector_store and Ollama for generation.
func Default() *AppConfig {
	cfg := &AppConfig{
		Data: DataConfig{
			Sources: []string{"data/raw/cfpb_complaints.csv"},
		},
		Embedder:    EmbedderConfig{Type: "hashing"},
		VectorStore: VectorStoreConfig{Type: "sqlite"},
		Generator:   GeneratorConfig{Type: "ollama"},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if len(cfg.Data.NarrativeFields) == 0 {
		cfg.Data.NarrativeFields = []string{"consumer_complaint_narrative", "Consumer complaint narrative", "narrative"}
	}
	if len(cfg.Data.SummaryFields) == 0 {
		cfg.Data.SummaryFields = []string{"company", "product", "issue"}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Concurrency == 0 {
		cfg.Embedder.Concurrency = 4
	}
	if cfg.Embedder.Type == "remote" {
		if cfg.Embedder.Remote == nil {
			cfg.Embedder.Remote = &RemoteEmbedderConfig{}
		}
		r := cfg.Embedder.Remote
		if r.API == "" {
			r.API = "openai"
		}
		if r.BaseURL == "" {
			r.BaseURL = "http://localhost:11434/v1"
			if r.API == "ollama" {
				r.BaseURL = "http://localhost:11434"
			}
		}
		if r.Model == "" {
			r.Model = "all-minilm"
		}
		if r.TimeoutSecs == 0 {
			r.TimeoutSecs = 30
		}
		if r.MaxRetries == 0 {
			r.MaxRetries = 5
		}
	}
	if cfg.Embedder.Type == "gemini" && cfg.Embedder.Gemini == nil {
		cfg.Embedder.Gemini = &GeminiConfig{}
	}
	if cfg.Embedder.Gemini != nil && cfg.Embedder.Gemini.Location == "" {
		cfg.Embedder.Gemini.Location = "us-central1"
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "sqlite"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = filepath.Join("vector_store", "complaints.db")
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "financial_complaints"
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.Addr == "" {
			cfg.VectorStore.Qdrant.Addr = "localhost:6334"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "ollama"
	}
	if cfg.Generator.MaxOutputTokens == 0 {
		cfg.Generator.MaxOutputTokens = 256
	}
	if cfg.Generator.MaxPromptChars == 0 {
		cfg.Generator.MaxPromptChars = 6000
	}
	if cfg.Generator.Type == "ollama" {
		if cfg.Generator.Ollama == nil {
			cfg.Generator.Ollama = &OllamaGeneratorConfig{}
		}
		o := cfg.Generator.Ollama
		if o.BaseURL == "" {
			o.BaseURL = "http://localhost:11434"
		}
		if o.Model == "" {
			o.Model = "llama3"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 120
		}
	}
	if cfg.Generator.Type == "gemini" && cfg.Generator.Gemini == nil {
		cfg.Generator.Gemini = &GeminiConfig{}
	}
	if cfg.Generator.Gemini != nil && cfg.Generator.Gemini.Location == "" {
		cfg.Generator.Gemini.Location = "us-central1"
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8501"
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate checks value ranges and type names.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "hashing", "remote", "gemini":
	default:
		return goerr.New("unknown embedder", goerr.V("type", c.Embedder.Type))
	}
	if r := c.Embedder.Remote; c.Embedder.Type == "remote" && r != nil {
		switch r.API {
		case "openai", "ollama":
		default:
			return goerr.New("unknown remote embeddings api", goerr.V("api", r.API))
		}
	}
	if c.Embedder.Dimension < 1 {
		return goerr.New("embedding dimension must be positive", goerr.V("dimension", c.Embedder.Dimension))
	}
	if c.Embedder.BatchSize < 1 || c.Embedder.Concurrency < 1 {
		return goerr.New("embedder batch_size and concurrency must be positive",
			goerr.V("batch_size", c.Embedder.BatchSize), goerr.V("concurrency", c.Embedder.Concurrency))
	}

	switch c.VectorStore.Type {
	case "sqlite", "memory", "qdrant":
	default:
		return goerr.New("unknown vector store", goerr.V("type", c.VectorStore.Type))
	}

	switch c.Generator.Type {
	case "ollama", "gemini", "none":
	default:
		return goerr.New("unknown generator", goerr.V("type", c.Generator.Type))
	}
	if c.Generator.MaxPromptChars < 200 {
		return goerr.New("max_prompt_chars is too small", goerr.V("max_prompt_chars", c.Generator.MaxPromptChars))
	}

	if c.Search.DefaultTopK < 1 {
		return goerr.New("default_top_k must be at least 1", goerr.V("default_top_k", c.Search.DefaultTopK))
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return goerr.New("min_score must be within [0,1]", goerr.V("min_score", c.Search.MinScore))
	}
	return nil
}
