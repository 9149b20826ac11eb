// Package bootstrap 按配置装配管线依赖：嵌入器、生成器、会话存储。
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"ragchat/internal/adapter/llm/ollama"
	"ragchat/internal/adapter/llm/openai"
	redisdb "ragchat/internal/db/redis"
	"ragchat/internal/domain/rag"
	"ragchat/internal/domain/session"
	"ragchat/internal/platform/config"
	applog "ragchat/internal/platform/log"
	"ragchat/internal/provider"
	"ragchat/internal/vectorstore/memory"
)

// NewEmbedder 按配置创建嵌入器
func NewEmbedder(cfg *config.AppConfig) (rag.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return rag.NewOllamaEmbedder(rag.OllamaEmbedderConfig{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Embedding.Model,
			Dims:    cfg.Embedding.Dims,
			Timeout: time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
		}), nil
	case "openai":
		return rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.Embedding.Model,
			Dims:    cfg.Embedding.Dims,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// NewGenerator 按配置创建文本生成器并注册。
// Ollama 路径会在此阻塞确认模型可用。
func NewGenerator(ctx context.Context, cfg *config.AppConfig) (provider.Generator, error) {
	var (
		gen provider.Generator
		err error
	)
	switch cfg.Model.Provider {
	case "ollama":
		gen, err = ollama.New(ctx, ollama.Config{
			BaseURL:   cfg.Ollama.BaseURL,
			Model:     cfg.Model.Name,
			KeepAlive: cfg.Ollama.KeepAlive,
			Timeout:   time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
		})
	case "openai":
		gen, err = openai.New(openai.Config{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.Model.Name,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
	if err != nil {
		return nil, err
	}

	provider.Register(gen)
	applog.Info("✅ generator ready", "provider", gen.Name(), "model", gen.Model())
	return gen, nil
}

// NewSessionStore 创建会话存储：配置了 REDIS_URL 用 Redis，
// 连接失败降级为内存实现。
func NewSessionStore(ctx context.Context, cfg *config.AppConfig) session.Store {
	ttl := time.Duration(cfg.Session.TTLSeconds) * time.Second

	if cfg.Session.RedisURL != "" {
		client, err := redisdb.NewClient(ctx, cfg.Session.RedisURL)
		if err != nil {
			applog.Warn("⚠️ redis unavailable, using in-memory sessions", "error", err)
			return session.NewMemoryStore(ttl)
		}
		applog.Info("✅ redis session store ready")
		return redisdb.NewSessionStore(redisdb.SessionStoreConfig{Client: client, TTL: ttl})
	}
	return session.NewMemoryStore(ttl)
}

// PipelineConfig 将应用配置映射为管线配置
func PipelineConfig(cfg *config.AppConfig) rag.Config {
	return rag.Config{
		DocumentsPath:   cfg.RAG.DocumentsPath,
		VectorStorePath: cfg.RAG.VectorStorePath,
		ChunkSize:       cfg.RAG.ChunkSize,
		ChunkOverlap:    cfg.RAG.ChunkOverlap,
		RetrievalK:      cfg.RAG.RetrievalK,
		MaxNewTokens:    cfg.RAG.MaxNewTokens,
		Temperature:     cfg.RAG.Temperature,
		TopP:            cfg.RAG.TopP,
		SystemPrompt:    cfg.Model.SystemPrompt,
		KeepAlive:       cfg.Ollama.KeepAlive,
		UseHistory:      cfg.RAG.UseHistory,
		MaxHistoryTurns: cfg.RAG.MaxHistoryTurns,
	}
}

// NewPipeline 装配完整管线
func NewPipeline(ctx context.Context, cfg *config.AppConfig) (*rag.Pipeline, error) {
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	generator, err := NewGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return rag.New(ctx, PipelineConfig(cfg), rag.Deps{
		Loader:    rag.NewLoader(nil),
		Embedder:  embedder,
		Generator: generator,
		NewStore: func() rag.VectorStore {
			return memory.New(cfg.Embedding.Model, cfg.Embedding.Dims)
		},
	})
}
