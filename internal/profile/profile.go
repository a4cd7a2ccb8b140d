package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where clinote stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// API request limits, per client IP.
	RateLimitRPS   float64 // CLINOTE_RATE_LIMIT_RPS (default: 5)
	RateLimitBurst int     // CLINOTE_RATE_LIMIT_BURST (default: 10)

	// AI Configuration
	AIEnabled             bool   // CLINOTE_AI_ENABLED
	AIEmbeddingProvider   string // CLINOTE_AI_EMBEDDING_PROVIDER (default: siliconflow)
	AILLMProvider         string // CLINOTE_AI_LLM_PROVIDER (default: deepseek)
	AIJudgeProvider       string // CLINOTE_AI_JUDGE_PROVIDER (default: LLM provider)
	AISiliconFlowAPIKey   string // CLINOTE_AI_SILICONFLOW_API_KEY
	AISiliconFlowBaseURL  string // CLINOTE_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIDeepSeekAPIKey      string // CLINOTE_AI_DEEPSEEK_API_KEY
	AIDeepSeekBaseURL     string // CLINOTE_AI_DEEPSEEK_BASE_URL (default: https://api.deepseek.com)
	AIOpenAIAPIKey        string // CLINOTE_AI_OPENAI_API_KEY
	AIOpenAIBaseURL       string // CLINOTE_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AIOllamaBaseURL       string // CLINOTE_AI_OLLAMA_BASE_URL (default: http://localhost:11434)
	AIEmbeddingModel      string // CLINOTE_AI_EMBEDDING_MODEL (default: BAAI/bge-m3)
	AIEmbeddingDimensions int    // CLINOTE_AI_EMBEDDING_DIMENSIONS (default: 768)
	AIEmbeddingNormalize  bool   // CLINOTE_AI_EMBEDDING_NORMALIZE (default: true)
	AIEmbedBatchSize      int    // CLINOTE_AI_EMBED_BATCH_SIZE (default: 8)
	AIEmbedMaxParallel    int    // CLINOTE_AI_EMBED_MAX_PARALLEL (default: 4)
	AIRerankModel         string // CLINOTE_AI_RERANK_MODEL (default: BAAI/bge-reranker-v2-m3)
	AILLMModel            string // CLINOTE_AI_LLM_MODEL (default: deepseek-chat)
	AIJudgeModel          string // CLINOTE_AI_JUDGE_MODEL (default: LLM model)
	AIMaxRegenerations    int    // CLINOTE_AI_MAX_REGENERATIONS (default: 3)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and at least one API key or base URL is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AISiliconFlowAPIKey != "" || p.AIOpenAIAPIKey != "" || p.AIOllamaBaseURL != "" || p.AIDeepSeekAPIKey != "")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer env value", slog.String("key", key), slog.String("value", value))
		return defaultValue
	}
	return n
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// FromEnv loads AI and limit configuration from CLINOTE_* environment variables.
func (p *Profile) FromEnv() {
	p.AIEnabled = getBoolEnvOrDefault("CLINOTE_AI_ENABLED", false)
	p.AIEmbeddingProvider = getEnvOrDefault("CLINOTE_AI_EMBEDDING_PROVIDER", "siliconflow")
	p.AILLMProvider = getEnvOrDefault("CLINOTE_AI_LLM_PROVIDER", "deepseek")
	p.AIJudgeProvider = os.Getenv("CLINOTE_AI_JUDGE_PROVIDER")
	p.AISiliconFlowAPIKey = os.Getenv("CLINOTE_AI_SILICONFLOW_API_KEY")
	p.AISiliconFlowBaseURL = getEnvOrDefault("CLINOTE_AI_SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIDeepSeekAPIKey = os.Getenv("CLINOTE_AI_DEEPSEEK_API_KEY")
	p.AIDeepSeekBaseURL = getEnvOrDefault("CLINOTE_AI_DEEPSEEK_BASE_URL", "https://api.deepseek.com")
	p.AIOpenAIAPIKey = os.Getenv("CLINOTE_AI_OPENAI_API_KEY")
	p.AIOpenAIBaseURL = getEnvOrDefault("CLINOTE_AI_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.AIOllamaBaseURL = getEnvOrDefault("CLINOTE_AI_OLLAMA_BASE_URL", "http://localhost:11434")
	p.AIEmbeddingModel = getEnvOrDefault("CLINOTE_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AIEmbeddingDimensions = getIntEnvOrDefault("CLINOTE_AI_EMBEDDING_DIMENSIONS", 768)
	p.AIEmbeddingNormalize = getBoolEnvOrDefault("CLINOTE_AI_EMBEDDING_NORMALIZE", true)
	p.AIEmbedBatchSize = getIntEnvOrDefault("CLINOTE_AI_EMBED_BATCH_SIZE", 8)
	p.AIEmbedMaxParallel = getIntEnvOrDefault("CLINOTE_AI_EMBED_MAX_PARALLEL", 4)
	p.AIRerankModel = getEnvOrDefault("CLINOTE_AI_RERANK_MODEL", "BAAI/bge-reranker-v2-m3")
	p.AILLMModel = getEnvOrDefault("CLINOTE_AI_LLM_MODEL", "deepseek-chat")
	p.AIJudgeModel = os.Getenv("CLINOTE_AI_JUDGE_MODEL")
	p.AIMaxRegenerations = getIntEnvOrDefault("CLINOTE_AI_MAX_REGENERATIONS", 3)

	if v := os.Getenv("CLINOTE_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			p.RateLimitRPS = rps
		}
	}
	if p.RateLimitRPS <= 0 {
		p.RateLimitRPS = 5
	}
	p.RateLimitBurst = getIntEnvOrDefault("CLINOTE_RATE_LIMIT_BURST", 10)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	if p.AIEmbeddingDimensions <= 0 {
		return errors.Errorf("embedding dimensions must be positive, got %d", p.AIEmbeddingDimensions)
	}
	if p.AIEmbedBatchSize <= 0 || p.AIEmbedMaxParallel <= 0 {
		return errors.New("embedding batch size and parallelism must be positive")
	}
	if p.AIMaxRegenerations < 0 {
		return errors.Errorf("max regenerations must not be negative, got %d", p.AIMaxRegenerations)
	}

	if p.Driver != "sqlite" || p.DSN != "" {
		return nil
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "clinote")
		} else {
			p.Data = "/var/opt/clinote"
		}
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	p.DSN = filepath.Join(dataDir, fmt.Sprintf("clinote_%s.db", p.Mode))
	return nil
}
