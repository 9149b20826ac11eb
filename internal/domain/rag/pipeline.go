package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	applog "ragchat/internal/platform/log"
	"ragchat/internal/provider"
)

// Config RAG 管线配置
type Config struct {
	DocumentsPath   string
	VectorStorePath string
	ChunkSize       int
	ChunkOverlap    int
	RetrievalK      int
	MaxNewTokens    int
	Temperature     float64
	TopP            float64
	SystemPrompt    string
	KeepAlive       string
	UseHistory      bool
	MaxHistoryTurns int
}

// Deps 管线依赖。NewStore 在重建索引时提供空库。
type Deps struct {
	Loader    *Loader
	Embedder  Embedder
	Generator provider.Generator
	NewStore  func() VectorStore
}

// Pipeline RAG 问答管线：检索 -> 组装提示词 -> 生成 -> 引用标注。
// 初始化失败是致命错误；运行期的检索/生成失败降级为道歉文本，
// 保证接口层总能拿到可渲染的回复。
type Pipeline struct {
	cfg  Config
	deps Deps

	mu    sync.RWMutex
	store VectorStore

	chunker *Chunker
	readyAt time.Time
}

const (
	// answerTemplate 生成提示词模板
	answerTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s

Question: %s
Answer:`

	// placeholderText 空知识库占位块，保证检索路径始终可用
	placeholderText   = "No documents have been loaded yet. Please add documents to the data/documents folder and restart the application."
	placeholderSource = "system"

	emptyQueryReply = "Please enter a question or message."
)

// New 创建管线并准备索引：优先从磁盘恢复，恢复不了就重建。
// 嵌入服务不可用等初始化错误直接返回，由调用方决定退出。
func New(ctx context.Context, cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Loader == nil || deps.Embedder == nil || deps.Generator == nil || deps.NewStore == nil {
		return nil, newError(KindInit, "pipeline.New", fmt.Errorf("missing dependency"))
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 4
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
	}

	store := deps.NewStore()
	loaded, err := store.Load(cfg.VectorStorePath)
	if err != nil {
		applog.Warn("⚠️ stored index unusable, rebuilding", "error", err)
		loaded = false
		store = deps.NewStore()
	}

	if !loaded || store.Count() == 0 {
		store, err = p.buildIndex(ctx)
		if err != nil {
			return nil, err
		}
	}

	p.store = store
	p.readyAt = time.Now()
	applog.Info("✅ RAG pipeline ready", "chunks", store.Count(), "model", deps.Generator.Model())
	return p, nil
}

// buildIndex 从文档目录重建索引并持久化。
// 文档目录为空时写入占位块，持久化失败只告警。
func (p *Pipeline) buildIndex(ctx context.Context) (VectorStore, error) {
	docs, err := p.deps.Loader.Load(p.cfg.DocumentsPath)
	if err != nil {
		return nil, newError(KindInit, "load documents", err)
	}

	chunks := p.chunker.Split(docs)
	if len(chunks) == 0 {
		applog.Warn("⚠️ no documents found, indexing placeholder")
		chunks = []DocumentChunk{{Text: placeholderText, Source: placeholderSource}}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, newError(KindInit, "embed chunks", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	store := p.deps.NewStore()
	if err := store.Add(chunks); err != nil {
		return nil, newError(KindInit, "index chunks", err)
	}
	if err := store.Save(p.cfg.VectorStorePath); err != nil {
		applog.Warn("⚠️ failed to persist index", "error", newError(KindPersistence, "save index", err))
	}

	applog.Info("✅ index built", "documents", len(docs), "chunks", len(chunks))
	return store, nil
}

// Reload 重新加载文档目录并原子替换索引
func (p *Pipeline) Reload(ctx context.Context) error {
	store, err := p.buildIndex(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.store = store
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) currentStore() VectorStore {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store
}

// ── 问答 ─────────────────────────────────────────────────

// GenerateResponse 处理一次用户提问，返回带引用的回复文本。
// 检索或生成失败不向上抛错，降级为道歉文本。
func (p *Pipeline) GenerateResponse(ctx context.Context, query string, history []Turn) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return emptyQueryReply
	}

	applog.Info("🔍 processing query", "query", truncate(query, 100))

	retrieved, err := p.retrieve(ctx, query)
	if err != nil {
		applog.Error("❌ retrieval failed", "error", err)
		return apology(err)
	}

	prompt := p.buildPrompt(query, history, retrieved)
	answer, err := p.deps.Generator.Generate(ctx, prompt, p.generationOptions())
	if err != nil {
		genErr := newError(KindGeneration, "generate answer", err)
		applog.Error("❌ generation failed", "error", genErr)
		return apology(genErr)
	}

	applog.Info("✅ response generated", "chars", len(answer))
	return formatWithSources(answer, retrieved)
}

// StreamResponse 流式问答。回复片段依次送出，生成结束后补一条
// 引用块片段，channel 随后关闭。检索失败时送出单条道歉文本。
func (p *Pipeline) StreamResponse(ctx context.Context, query string, history []Turn) <-chan string {
	out := make(chan string, 32)

	query = strings.TrimSpace(query)
	if query == "" {
		out <- emptyQueryReply
		close(out)
		return out
	}

	go func() {
		defer close(out)

		retrieved, err := p.retrieve(ctx, query)
		if err != nil {
			applog.Error("❌ retrieval failed", "error", err)
			out <- apology(err)
			return
		}

		prompt := p.buildPrompt(query, history, retrieved)
		textCh, errCh := p.deps.Generator.Stream(ctx, prompt, p.generationOptions())

		streamed := false
		for piece := range textCh {
			streamed = true
			select {
			case out <- piece:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errCh; err != nil {
			genErr := newError(KindGeneration, "stream answer", err)
			applog.Error("❌ generation failed", "error", genErr)
			if !streamed {
				out <- apology(genErr)
				return
			}
		}

		if block := sourcesBlock(retrieved); block != "" {
			out <- block
		}
	}()

	return out
}

// retrieve 查询向量化 + 相似度检索
func (p *Pipeline) retrieve(ctx context.Context, query string) ([]RetrievedChunk, error) {
	vector, err := p.deps.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, newError(KindRetrieval, "embed query", err)
	}
	retrieved, err := p.currentStore().Search(vector, p.cfg.RetrievalK)
	if err != nil {
		return nil, newError(KindRetrieval, "search index", err)
	}
	return retrieved, nil
}

// SimilarDocuments 裸检索接口（调试/检索 API 用），不触发生成
func (p *Pipeline) SimilarDocuments(ctx context.Context, query string, k int) ([]RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newError(KindInput, "similar documents", fmt.Errorf("query is empty"))
	}
	if k <= 0 {
		k = p.cfg.RetrievalK
	}
	vector, err := p.deps.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, newError(KindRetrieval, "embed query", err)
	}
	return p.currentStore().Search(vector, k)
}

// buildPrompt 组装提示词：可选的历史前导 + 上下文 + 当前问题
func (p *Pipeline) buildPrompt(query string, history []Turn, retrieved []RetrievedChunk) string {
	question := query
	if p.cfg.UseHistory && len(history) > 0 {
		recent := history
		if p.cfg.MaxHistoryTurns > 0 && len(recent) > p.cfg.MaxHistoryTurns {
			recent = recent[len(recent)-p.cfg.MaxHistoryTurns:]
		}
		lines := make([]string, 0, len(recent))
		for _, turn := range recent {
			lines = append(lines, fmt.Sprintf("Previous Q: %s\nPrevious A: %s", turn.Question, turn.Answer))
		}
		question = fmt.Sprintf("Conversation History:\n%s\n\nCurrent Question: %s", strings.Join(lines, "\n"), query)
		applog.Info("📝 including conversation history", "turns", len(recent))
	}

	contexts := make([]string, 0, len(retrieved))
	for _, hit := range retrieved {
		contexts = append(contexts, hit.Chunk.Text)
	}
	return fmt.Sprintf(answerTemplate, strings.Join(contexts, "\n\n"), question)
}

func (p *Pipeline) generationOptions() *provider.Options {
	return &provider.Options{
		Temperature:  p.cfg.Temperature,
		TopP:         p.cfg.TopP,
		MaxTokens:    p.cfg.MaxNewTokens,
		SystemPrompt: p.cfg.SystemPrompt,
		KeepAlive:    p.cfg.KeepAlive,
	}
}

// ── 回复格式化 ───────────────────────────────────────────

// formatWithSources 在回复末尾追加引用块
func formatWithSources(answer string, retrieved []RetrievedChunk) string {
	return strings.TrimSpace(answer) + sourcesBlock(retrieved)
}

// sourcesBlock 构造引用块：按检索顺序去重后取前 3 个来源，
// 连续编号，展示文件名。
func sourcesBlock(retrieved []RetrievedChunk) string {
	if len(retrieved) == 0 {
		return ""
	}

	seen := make(map[string]bool)
	var names []string
	for _, hit := range retrieved {
		source := hit.Chunk.Source
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true

		name := filepath.Base(source)
		if source == placeholderSource {
			name = "System"
		}
		names = append(names, name)
		if len(names) == 3 {
			break
		}
	}
	if len(names) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n📚 **Sources:**\n")
	for i, name := range names {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, name)
	}
	return sb.String()
}

// apology 运行期失败的降级回复
func apology(err error) string {
	cause := err
	var pe *PipelineError
	if errors.As(err, &pe) {
		cause = pe.Err
	}
	return fmt.Sprintf("I apologize, but I encountered an error while processing your question: %v", cause)
}

// ── 诊断信息 ─────────────────────────────────────────────

// Info 返回管线运行状态（/api/info 与调试工具用）
func (p *Pipeline) Info() map[string]any {
	return map[string]any{
		"provider":          p.deps.Generator.Name(),
		"model":             p.deps.Generator.Model(),
		"embedding_dims":    p.deps.Embedder.Dims(),
		"chunks":            p.currentStore().Count(),
		"retrieval_k":       p.cfg.RetrievalK,
		"chunk_size":        p.cfg.ChunkSize,
		"chunk_overlap":     p.cfg.ChunkOverlap,
		"max_new_tokens":    p.cfg.MaxNewTokens,
		"temperature":       p.cfg.Temperature,
		"top_p":             p.cfg.TopP,
		"use_history":       p.cfg.UseHistory,
		"max_history_turns": p.cfg.MaxHistoryTurns,
		"ready_since":       p.readyAt.UTC().Format(time.RFC3339),
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
