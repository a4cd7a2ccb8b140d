// Package ai assembles the model-backed components (generation loop, embedders,
// reranker and query engine) from the server profile.
package ai

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/clinote/internal/profile"
	aiplugin "github.com/hrygo/clinote/plugin/ai"
	"github.com/hrygo/clinote/plugin/ai/cache"
	"github.com/hrygo/clinote/plugin/ai/note"
	"github.com/hrygo/clinote/plugin/ai/rag"
	"github.com/hrygo/clinote/plugin/ai/vector"
	"github.com/hrygo/clinote/server/internal/observability"
	"github.com/hrygo/clinote/store"
)

// ErrDisabled is returned when AI is switched off in the profile.
var ErrDisabled = errors.New("AI is not enabled")

const (
	queryCacheCapacity = 1024
	embedMaxRetries    = 3
)

// Provider holds the wired AI components.
type Provider struct {
	Config *aiplugin.Config

	LLM   aiplugin.LLMService
	Judge aiplugin.LLMService

	// NoteEmbedder embeds approved notes. It never reads from the cache so a forced
	// re-embed always reaches the model.
	NoteEmbedder *vector.Embedder
	// QueryEmbedder embeds questions through an LRU cache.
	QueryEmbedder *vector.Embedder
	QueryCache    *cache.EmbeddingService

	Reranker   rag.Reranker
	Controller *note.Controller
	Engine     *rag.Engine
}

// NewProvider builds every AI component from p. metrics may be nil.
func NewProvider(p *profile.Profile, st *store.Store, metrics *observability.Metrics) (*Provider, error) {
	cfg := aiplugin.NewConfigFromProfile(p)
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI config: %w", err)
	}

	llm, err := aiplugin.NewLLMService(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create LLM service: %w", err)
	}
	judge, err := aiplugin.NewLLMService(&cfg.Judge)
	if err != nil {
		return nil, fmt.Errorf("create judge service: %w", err)
	}
	embeddings, err := aiplugin.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding service: %w", err)
	}

	return assemble(cfg, llm, judge, embeddings, aiplugin.NewRerankerService(&cfg.Reranker), st, metrics), nil
}

func assemble(cfg *aiplugin.Config, llm, judge aiplugin.LLMService, embeddings aiplugin.EmbeddingService, reranker aiplugin.RerankerService, st rag.VectorSearcher, metrics *observability.Metrics) *Provider {
	retrying := NewRetryingEmbeddingService(embeddings, embedMaxRetries, time.Second)
	queryCache := cache.NewEmbeddingService(retrying, queryCacheCapacity, cache.DefaultEmbeddingTTL)

	pr := &Provider{
		Config:        cfg,
		LLM:           llm,
		Judge:         judge,
		NoteEmbedder:  vector.NewEmbedder(retrying, cfg.Embedding.Normalize, cfg.Embedding.BatchSize, cfg.Embedding.MaxParallel),
		QueryEmbedder: vector.NewEmbedder(queryCache, cfg.Embedding.Normalize, cfg.Embedding.BatchSize, cfg.Embedding.MaxParallel),
		QueryCache:    queryCache,
	}

	if reranker != nil && reranker.IsEnabled() {
		pr.Reranker = rag.NewCrossEncoderReranker(reranker, slog.Default())
	} else {
		pr.Reranker = rag.PositionalReranker{}
	}

	controllerOpts := []note.ControllerOption{note.WithMaxRegenerations(cfg.Generation.MaxRegenerations)}
	engineOpts := []rag.EngineOption{}
	if metrics != nil {
		controllerOpts = append(controllerOpts, note.WithObserver(metrics))
		engineOpts = append(engineOpts, rag.WithObserver(metrics))
	}

	pr.Controller = note.NewController(note.NewLLMGenerator(llm), note.NewLLMValidator(judge), controllerOpts...)
	pr.Engine = rag.NewEngine(
		pr.QueryEmbedder,
		rag.NewRetriever(st, embeddings.Model()),
		pr.Reranker,
		rag.NewSynthesizer(llm),
		engineOpts...,
	)

	slog.Info("AI components ready",
		"llm", llm.Model(),
		"judge", judge.Model(),
		"embedding_model", embeddings.Model(),
		"dimensions", embeddings.Dimensions(),
		"cross_encoder", reranker != nil && reranker.IsEnabled(),
		"max_regenerations", cfg.Generation.MaxRegenerations,
	)
	return pr
}
