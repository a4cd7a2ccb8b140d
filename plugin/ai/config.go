package ai

import (
	"errors"

	"github.com/hrygo/clinote/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	Embedding  EmbeddingConfig
	Reranker   RerankerConfig
	LLM        LLMConfig // note generation and answer synthesis
	Judge      LLMConfig // independent note validator
	Generation GenerationConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider    string // siliconflow, openai, ollama
	Model       string // nomic-embed-text
	Dimensions  int    // 768
	Normalize   bool
	APIKey      string
	BaseURL     string
	BatchSize   int
	MaxParallel int
}

// RerankerConfig represents reranker configuration.
type RerankerConfig struct {
	Enabled  bool
	Provider string // siliconflow, cohere
	Model    string // BAAI/bge-reranker-v2-m3
	APIKey   string
	BaseURL  string
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // deepseek, openai, ollama
	Model       string // deepseek-chat
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.3
	JSONMode    bool
}

// GenerationConfig bounds the generate/validate loop.
type GenerationConfig struct {
	MaxRegenerations int
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.AIEnabled,
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:    p.AIEmbeddingProvider,
		Model:       p.AIEmbeddingModel,
		Dimensions:  p.AIEmbeddingDimensions,
		Normalize:   p.AIEmbeddingNormalize,
		BatchSize:   p.AIEmbedBatchSize,
		MaxParallel: p.AIEmbedMaxParallel,
	}
	cfg.Embedding.APIKey, cfg.Embedding.BaseURL = providerCredentials(p, p.AIEmbeddingProvider)

	cfg.Reranker = RerankerConfig{
		Enabled:  p.AISiliconFlowAPIKey != "",
		Provider: "siliconflow",
		Model:    p.AIRerankModel,
		APIKey:   p.AISiliconFlowAPIKey,
		BaseURL:  p.AISiliconFlowBaseURL,
	}

	cfg.LLM = LLMConfig{
		Provider:    p.AILLMProvider,
		Model:       p.AILLMModel,
		MaxTokens:   2048,
		Temperature: 0.3,
	}
	cfg.LLM.APIKey, cfg.LLM.BaseURL = providerCredentials(p, p.AILLMProvider)

	// The judge must be a separate model call; by default it reuses the generation
	// provider with deterministic sampling.
	cfg.Judge = LLMConfig{
		Provider:    p.AIJudgeProvider,
		Model:       p.AIJudgeModel,
		MaxTokens:   1024,
		Temperature: 0,
		JSONMode:    true,
	}
	if cfg.Judge.Provider == "" {
		cfg.Judge.Provider = cfg.LLM.Provider
	}
	if cfg.Judge.Model == "" {
		cfg.Judge.Model = cfg.LLM.Model
	}
	cfg.Judge.APIKey, cfg.Judge.BaseURL = providerCredentials(p, cfg.Judge.Provider)

	cfg.Generation = GenerationConfig{
		MaxRegenerations: p.AIMaxRegenerations,
	}

	return cfg
}

func providerCredentials(p *profile.Profile, provider string) (apiKey, baseURL string) {
	switch provider {
	case "siliconflow":
		return p.AISiliconFlowAPIKey, p.AISiliconFlowBaseURL
	case "deepseek":
		return p.AIDeepSeekAPIKey, p.AIDeepSeekBaseURL
	case "openai":
		return p.AIOpenAIAPIKey, p.AIOpenAIBaseURL
	case "ollama":
		return "", p.AIOllamaBaseURL
	}
	return "", ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}

	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return errors.New("LLM API key is required")
	}

	if c.Judge.Provider != "ollama" && c.Judge.APIKey == "" {
		return errors.New("judge API key is required")
	}

	if c.Generation.MaxRegenerations < 0 {
		return errors.New("max regenerations must not be negative")
	}

	return nil
}
