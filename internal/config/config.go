// Package config loads the engine's storage and provider configuration
// from a YAML file plus environment-variable overrides, in the
// teacher's own env-first-then-yaml style (godotenv.Load, os.Getenv
// fallbacks, a struct unmarshaled with gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// HybridTier names one tier descriptor inside a hybrid/tiered backend
// configuration: its own adapter type and connection details, reusing
// the same shape as the top-level Store config.
type HybridTier struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
	BasePath         string `yaml:"basePath,omitempty"`
}

// HybridConfig groups the three tier descriptors a tiered backend
// routes aggregates across.
type HybridConfig struct {
	ShortTerm HybridTier `yaml:"shortTerm"`
	MidTerm   HybridTier `yaml:"midTerm"`
	LongTerm  HybridTier `yaml:"longTerm"`
}

// StoreConfig mirrors the configuration knobs table: adapter selection,
// connection details, and the env-var fallback keys a document backend
// can use instead of inlining secrets into the YAML file.
type StoreConfig struct {
	Type             string       `yaml:"type"`
	ConnectionString string       `yaml:"connectionString,omitempty"`
	BasePath         string       `yaml:"basePath,omitempty"`
	Hybrid           HybridConfig `yaml:"hybrid,omitempty"`

	DBName           string `yaml:"dbName,omitempty"`
	CollectionPrefix string `yaml:"collectionPrefix,omitempty"`
	ModuleName       string `yaml:"moduleName,omitempty"`
	ModuleLoader     string `yaml:"moduleLoader,omitempty"`

	ConnectionEnvKey      string `yaml:"connectionEnvKey,omitempty"`
	DBNameEnvKey          string `yaml:"dbNameEnvKey,omitempty"`
	CollectionPrefixEnvKey string `yaml:"collectionPrefixEnvKey,omitempty"`
}

// ResolvedConnectionString returns ConnectionString, or the value of
// the environment variable named by ConnectionEnvKey when set and
// ConnectionString is empty.
func (s StoreConfig) ResolvedConnectionString() string {
	return resolveOr(s.ConnectionString, s.ConnectionEnvKey)
}

// ResolvedDBName is ResolvedConnectionString's counterpart for DBName.
func (s StoreConfig) ResolvedDBName() string {
	return resolveOr(s.DBName, s.DBNameEnvKey)
}

// ResolvedCollectionPrefix is ResolvedConnectionString's counterpart for
// CollectionPrefix.
func (s StoreConfig) ResolvedCollectionPrefix() string {
	return resolveOr(s.CollectionPrefix, s.CollectionPrefixEnvKey)
}

func resolveOr(value, envKey string) string {
	if value != "" {
		return value
	}
	if envKey == "" {
		return ""
	}
	return os.Getenv(envKey)
}

// S3Config mirrors objectstore.S3Config for YAML/env configuration
// purposes; callers translate it into an objectstore.S3Config when
// constructing the long-term tier.
type S3Config struct {
	Bucket                string `yaml:"bucket"`
	Region                string `yaml:"region"`
	Endpoint              string `yaml:"endpoint,omitempty"`
	Prefix                string `yaml:"prefix,omitempty"`
	AccessKeyEnvKey       string `yaml:"accessKeyEnvKey,omitempty"`
	SecretKeyEnvKey       string `yaml:"secretKeyEnvKey,omitempty"`
	UsePathStyle          bool   `yaml:"usePathStyle,omitempty"`
	TLSInsecureSkipVerify bool   `yaml:"tlsInsecureSkipVerify,omitempty"`
}

// CompactionConfig surfaces the engine's trigger-ratio/keepLastN knobs
// for YAML configuration.
type CompactionConfig struct {
	MaxTokens       int     `yaml:"maxTokens,omitempty"`
	MaxOutputTokens int     `yaml:"maxOutputTokens,omitempty"`
	TriggerRatio    float64 `yaml:"triggerRatio,omitempty"`
	KeepLastN       int     `yaml:"keepLastN,omitempty"`
	Model           string  `yaml:"model,omitempty"`
	Provider        string  `yaml:"provider,omitempty"` // anthropic | openai | google
}

// LLMConfig selects and configures the default provider used outside
// of compaction (e.g. the demo host in cmd/memoryd).
type LLMConfig struct {
	Provider     string `yaml:"provider,omitempty"`
	Model        string `yaml:"model,omitempty"`
	APIKeyEnvKey string `yaml:"apiKeyEnvKey,omitempty"`
	BaseURL      string `yaml:"baseUrl,omitempty"`
}

// Config is the engine's top-level configuration document.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	S3         S3Config         `yaml:"s3,omitempty"`
	Compaction CompactionConfig `yaml:"compaction,omitempty"`
	LLM        LLMConfig        `yaml:"llm,omitempty"`
	LogPath    string           `yaml:"logPath,omitempty"`
	LogLevel   string           `yaml:"logLevel,omitempty"`
}

func defaults() Config {
	return Config{
		Store: StoreConfig{Type: "file", BasePath: "./data"},
		Compaction: CompactionConfig{
			MaxTokens:       200_000,
			MaxOutputTokens: 8_192,
			TriggerRatio:    0.8,
			KeepLastN:       20,
		},
		LogLevel: "info",
	}
}

// Load reads environment variables from .env (falling back to
// example.env), then merges path's YAML document over the built-in
// defaults. path may be empty, in which case only environment-derived
// defaults apply. Environment variables referenced by *EnvKey fields
// are resolved lazily by the Resolved* accessors, not during Load.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn().Str("path", path).Msg("config: file not found, using defaults")
				return &cfg, nil
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}

	if v := os.Getenv("MEMORY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEMORY_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := os.Getenv("MEMORY_STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}

	return &cfg, nil
}
