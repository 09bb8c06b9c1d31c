package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"document-rag/internal/apperr"
)

const (
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Documents DocumentsConfig `yaml:"documents"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	EmbedLLM  LLMConfig       `yaml:"embedding"`
	ChatLLM   LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// IndexConfig locates the persisted vector index.
type IndexConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=chromem pgvector"`
	Path       string `yaml:"path" validate:"required_if=Backend chromem"`
	Collection string `yaml:"collection" validate:"required"`
	Compress   bool   `yaml:"compress"`
}

type DocumentsConfig struct {
	Glob string `yaml:"glob" validate:"required"`
}

type ChunkingConfig struct {
	Strategy string `yaml:"strategy" validate:"oneof=window recursive"`
	Size     int    `yaml:"size" validate:"gt=0"`
	Overlap  int    `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

// LLMConfig describes one upstream model, either the embedder or the generator.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=ollama openai"`
	Model       string  `yaml:"model" validate:"required"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

type RAGConfig struct {
	TopK int `yaml:"top_k" validate:"gt=0"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the settings used when no file or environment overrides them.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Backend:    BackendChromem,
			Path:       "chroma_db",
			Collection: "documents",
		},
		Documents: DocumentsConfig{Glob: "**/*.pdf"},
		Chunking: ChunkingConfig{
			Strategy: StrategyWindow,
			Size:     1000,
			Overlap:  100,
		},
		EmbedLLM: LLMConfig{
			Provider: ProviderOllama,
			Model:    "all-minilm",
			BaseURL:  "http://localhost:11434",
		},
		ChatLLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: 0,
		},
		RAG: RAGConfig{TopK: 4},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// LoadOptions says where configuration comes from. Empty fields are skipped.
type LoadOptions struct {
	// ConfigFile is a YAML file. A missing file is an error only when Required is set.
	ConfigFile string
	Required   bool
	// EnvFile is a dotenv file read without touching the process environment.
	EnvFile string
	// Environ overrides os.Environ, for tests.
	Environ []string
}

// LoadConfig reads a YAML file over the defaults, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path, Required: true})
}

func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperr.Config("load config", fmt.Errorf("parse %s: %w", opts.ConfigFile, err))
			}
		case errors.Is(err, os.ErrNotExist) && !opts.Required:
		default:
			return nil, apperr.Config("load config", err)
		}
	}

	env, err := environment(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment merges the dotenv file under the process environment; the process wins.
func environment(opts LoadOptions) (map[string]string, error) {
	env := map[string]string{}
	if opts.EnvFile != "" {
		fileEnv, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Config("load env file", err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && v != "" {
			env[k] = v
		}
	}
	return env, nil
}

func (c *Config) applyEnv(env map[string]string) error {
	strs := map[string]*string{
		"RAG_INDEX_BACKEND":      &c.Index.Backend,
		"RAG_INDEX_PATH":         &c.Index.Path,
		"RAG_INDEX_COLLECTION":   &c.Index.Collection,
		"RAG_DOCUMENTS_GLOB":     &c.Documents.Glob,
		"RAG_CHUNKING_STRATEGY":  &c.Chunking.Strategy,
		"RAG_EMBEDDING_PROVIDER": &c.EmbedLLM.Provider,
		"RAG_EMBEDDING_MODEL":    &c.EmbedLLM.Model,
		"RAG_EMBEDDING_BASE_URL": &c.EmbedLLM.BaseURL,
		"RAG_EMBEDDING_API_KEY":  &c.EmbedLLM.Key,
		"RAG_LLM_PROVIDER":       &c.ChatLLM.Provider,
		"RAG_LLM_MODEL":          &c.ChatLLM.Model,
		"RAG_LLM_BASE_URL":       &c.ChatLLM.BaseURL,
		"RAG_LLM_API_KEY":        &c.ChatLLM.Key,
		"RAG_DATABASE_DSN":       &c.Database.DSN,
		"RAG_DATABASE_PASSWORD":  &c.Database.Password,
		"RAG_LOG_LEVEL":          &c.Log.Level,
		"RAG_LOG_FORMAT":         &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := env[key]; ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RAG_CHUNKING_SIZE":    &c.Chunking.Size,
		"RAG_CHUNKING_OVERLAP": &c.Chunking.Overlap,
		"RAG_TOP_K":            &c.RAG.TopK,
	}
	for key, dst := range ints {
		v, ok := env[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperr.Config("load env", fmt.Errorf("%s must be an integer: %w", key, err))
		}
		*dst = n
	}

	if v, ok := env["RAG_LLM_TEMPERATURE"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return apperr.Config("load env", fmt.Errorf("RAG_LLM_TEMPERATURE must be a number: %w", err))
		}
		c.ChatLLM.Temperature = f
	}

	// OPENAI_API_KEY is the conventional fallback for both openai clients.
	if key := env["OPENAI_API_KEY"]; key != "" {
		if c.ChatLLM.Provider == ProviderOpenAI && c.ChatLLM.Key == "" {
			c.ChatLLM.Key = key
		}
		if c.EmbedLLM.Provider == ProviderOpenAI && c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = key
		}
	}
	return nil
}

// Validate checks field constraints and provider credentials.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperr.Config("validate config", err)
	}
	if c.EmbedLLM.Provider == ProviderOpenAI && c.EmbedLLM.Key == "" {
		return apperr.Config("validate config", fmt.Errorf("embedding: %w: api_key or OPENAI_API_KEY", apperr.ErrMissingCredentials))
	}
	if c.ChatLLM.Provider == ProviderOpenAI && c.ChatLLM.Key == "" {
		return apperr.Config("validate config", fmt.Errorf("llm: %w: api_key or OPENAI_API_KEY", apperr.ErrMissingCredentials))
	}
	if c.Index.Backend == BackendPGVector && c.Database.DSN == "" {
		return apperr.Config("validate config", errors.New("database.dsn is required for the pgvector backend"))
	}
	return nil
}
