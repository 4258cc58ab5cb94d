// Package config loads daemon configuration from defaults, an optional JSON
// file at $XDG_CONFIG_HOME/loom-oracle/config.json, and ORACLE_* environment
// variables, in that order of precedence (later wins).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Embedding EmbeddingConfig `json:"embedding"`
	Corpus    CorpusConfig    `json:"corpus"`
	Remote    RemoteConfig    `json:"remote"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Storage   StorageConfig   `json:"storage"`
	Log       LogConfig       `json:"log"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

type EmbeddingConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// CorpusConfig locates the embeddings artifact: a local path or an
// http(s) URL.
type CorpusConfig struct {
	Source string `json:"source"`
}

type RemoteConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Enabled bool   `json:"enabled"`
}

type RetrievalConfig struct {
	TopK           int     `json:"top_k"`
	MinScore       float64 `json:"min_score"`
	SemanticWeight float64 `json:"semantic_weight"`
	LexicalWeight  float64 `json:"lexical_weight"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			SemanticWeight: 0.7,
			LexicalWeight:  0.3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "oracle-data"
		}
	}
	return filepath.Join(dir, "loom-oracle")
}

// ConfigFilePath returns the expected location of the JSON config file.
func ConfigFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "loom-oracle", "config.json")
}

// Load reads configuration from the default file path and the environment.
// A missing config file is not an error.
func Load() (Config, error) {
	return LoadFrom(ConfigFilePath())
}

// LoadFrom reads configuration from the given file path, then applies
// ORACLE_* environment overrides.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env are a complete configuration.
	case err != nil:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setInt("ORACLE_PORT", &cfg.Server.Port)
	setString("ORACLE_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	setString("ORACLE_EMBEDDING_MODEL", &cfg.Embedding.Model)
	setString("ORACLE_CORPUS_SOURCE", &cfg.Corpus.Source)
	setString("ORACLE_REMOTE_BASE_URL", &cfg.Remote.BaseURL)
	setString("ORACLE_REMOTE_API_KEY", &cfg.Remote.APIKey)
	setBool("ORACLE_REMOTE_ENABLED", &cfg.Remote.Enabled)
	setInt("ORACLE_RETRIEVAL_TOP_K", &cfg.Retrieval.TopK)
	setFloat("ORACLE_RETRIEVAL_MIN_SCORE", &cfg.Retrieval.MinScore)
	setFloat("ORACLE_RETRIEVAL_SEMANTIC_WEIGHT", &cfg.Retrieval.SemanticWeight)
	setFloat("ORACLE_RETRIEVAL_LEXICAL_WEIGHT", &cfg.Retrieval.LexicalWeight)
	setString("ORACLE_DATA_DIR", &cfg.Storage.DataDir)
	setString("ORACLE_LOG_LEVEL", &cfg.Log.Level)
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Remote.Enabled && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote backend enabled but no base URL configured")
	}
	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.LexicalWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	return nil
}
