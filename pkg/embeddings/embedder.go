// Package embeddings turns text into vectors by calling an external
// embedding provider.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

var (
	// ErrNoEmbedding is returned when the provider answers without a vector.
	ErrNoEmbedding = errors.New("no embedding returned")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// StatusError is a non-200 answer from a provider.
type StatusError struct {
	Provider string
	Code     int
	Status   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status: %s", e.Provider, e.Status)
}

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "ollama" or "openai".
	Provider string        `yaml:"provider" json:"provider"`
	URL      string        `yaml:"url" json:"url"`
	Model    string        `yaml:"model" json:"model"`
	APIKey   string        `yaml:"api_key" json:"api_key"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	// CacheSize is the number of texts whose vectors are memoized; 0 disables the cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// DefaultConfig targets a local Ollama instance.
func DefaultConfig() Config {
	return Config{
		Provider:  "ollama",
		URL:       "http://localhost:11434/api/embeddings",
		Model:     "nomic-embed-text",
		Timeout:   60 * time.Second,
		CacheSize: 1024,
	}
}

// New builds the embedder described by cfg, wrapped in a cache when
// cfg.CacheSize is positive.
func New(cfg Config) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "", "ollama":
		e = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Timeout)
	case "openai":
		e = NewOpenAIEmbedder(cfg.URL, cfg.Model, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
