package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string          `json:"log_level"`
	LogFormat string          `json:"log_format"`
	Server    ServerConfig    `json:"server"`
	Model     ModelConfig     `json:"model"`
	Embedding EmbeddingConfig `json:"embedding"`
	Ollama    OllamaConfig    `json:"ollama"`
	OpenAI    OpenAIConfig    `json:"openai"`
	RAG       RAGConfig       `json:"rag"`
	Session   SessionConfig   `json:"session"`
	DebugMode bool            `json:"debug_mode"`
	Device    string          `json:"device"` // 仅作诊断信息透出，推理由后端进程决定
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// ModelConfig 生成模型配置
type ModelConfig struct {
	Provider     string `json:"provider"` // ollama | openai
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	ModelPath    string `json:"model_path"` // 模型缓存目录
}

// EmbeddingConfig 向量化模型配置
type EmbeddingConfig struct {
	Provider string `json:"provider"` // ollama | openai
	Model    string `json:"model"`
	Dims     int    `json:"dims"`
}

// OllamaConfig Ollama 守护进程连接配置
type OllamaConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	KeepAlive      string `json:"keep_alive"` // 模型驻留时长，如 "5m"
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// RAGConfig 检索增强生成管线配置
type RAGConfig struct {
	DocumentsPath   string  `json:"documents_path"`
	VectorStorePath string  `json:"vector_store_path"`
	ChunkSize       int     `json:"chunk_size"`
	ChunkOverlap    int     `json:"chunk_overlap"`
	RetrievalK      int     `json:"retrieval_k"`
	MaxNewTokens    int     `json:"max_new_tokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	UseHistory      bool    `json:"use_history"`
	MaxHistoryTurns int     `json:"max_history_turns"`
}

// SessionConfig 会话历史存储配置（Redis 可选，未配置时用内存实现）
type SessionConfig struct {
	RedisURL   string `json:"redis_url"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                7860,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 600,
		},
		Model: ModelConfig{
			Provider:     "ollama",
			Name:         "qwen3:8b",
			SystemPrompt: "You are a helpful AI assistant. Use the provided context to answer questions accurately and concisely. If the context doesn't contain relevant information, say so clearly.",
			ModelPath:    "models",
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			Dims:     768,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			TimeoutSeconds: 120,
			KeepAlive:      "5m",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		RAG: RAGConfig{
			DocumentsPath:   "data/documents",
			VectorStorePath: "data/vector_store",
			ChunkSize:       800,
			ChunkOverlap:    100,
			RetrievalK:      4,
			MaxNewTokens:    512,
			Temperature:     0.3,
			TopP:            0.9,
			UseHistory:      true,
			MaxHistoryTurns: 3,
		},
		Session: SessionConfig{
			TTLSeconds: 86400,
		},
		Device: "cpu",
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("MODEL_PROVIDER", &c.Model.Provider)
	applyString("MODEL_NAME", &c.Model.Name)
	applyString("SYSTEM_PROMPT", &c.Model.SystemPrompt)
	applyString("MODEL_PATH", &c.Model.ModelPath)

	applyString("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	applyString("EMBEDDING_MODEL", &c.Embedding.Model)
	applyInt("EMBEDDING_DIMS", &c.Embedding.Dims)

	applyString("OLLAMA_BASE_URL", &c.Ollama.BaseURL)
	applyInt("OLLAMA_TIMEOUT", &c.Ollama.TimeoutSeconds)
	applyString("OLLAMA_KEEP_ALIVE", &c.Ollama.KeepAlive)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("DOCUMENTS_PATH", &c.RAG.DocumentsPath)
	applyString("VECTOR_STORE_PATH", &c.RAG.VectorStorePath)
	applyInt("CHUNK_SIZE", &c.RAG.ChunkSize)
	applyInt("CHUNK_OVERLAP", &c.RAG.ChunkOverlap)
	applyInt("RETRIEVAL_K", &c.RAG.RetrievalK)
	applyInt("MAX_NEW_TOKENS", &c.RAG.MaxNewTokens)
	applyFloat64("TEMPERATURE", &c.RAG.Temperature)
	applyFloat64("TOP_P", &c.RAG.TopP)
	applyBool("USE_CONVERSATION_HISTORY", &c.RAG.UseHistory)
	applyInt("MAX_HISTORY_TURNS", &c.RAG.MaxHistoryTurns)

	applyString("REDIS_URL", &c.Session.RedisURL)
	applyInt("SESSION_TTL", &c.Session.TTLSeconds)

	applyBool("DEBUG_MODE", &c.DebugMode)
	applyString("DEVICE", &c.Device)
}

func (c *AppConfig) normalize() {
	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = c.Model.Provider
	}
	c.Ollama.BaseURL = strings.TrimRight(strings.TrimSpace(c.Ollama.BaseURL), "/")
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.DebugMode && c.LogLevel == "info" {
		c.LogLevel = "debug"
	}
}

func (c *AppConfig) validate() error {
	switch c.Model.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("MODEL_PROVIDER must be 'ollama' or 'openai', got %q", c.Model.Provider)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be 'ollama' or 'openai', got %q", c.Embedding.Provider)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.RetrievalK <= 0 {
		return fmt.Errorf("RETRIEVAL_K must be positive, got %d", c.RAG.RetrievalK)
	}
	if c.RAG.MaxNewTokens <= 0 {
		return fmt.Errorf("MAX_NEW_TOKENS must be positive, got %d", c.RAG.MaxNewTokens)
	}
	if c.RAG.Temperature < 0 || c.RAG.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be in [0, 2], got %g", c.RAG.Temperature)
	}
	if c.RAG.TopP <= 0 || c.RAG.TopP > 1 {
		return fmt.Errorf("TOP_P must be in (0, 1], got %g", c.RAG.TopP)
	}
	return nil
}

// EnsureDirs 创建文档/向量库/模型缓存目录（不存在时）。
func (c *AppConfig) EnsureDirs() error {
	for _, dir := range []string{c.RAG.DocumentsPath, c.RAG.VectorStorePath, c.Model.ModelPath} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
