// ragdebug 管线诊断工具：检查文档目录、嵌入服务、持久化索引，
// 或走一次完整问答链路。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ragchat/internal/app/bootstrap"
	"ragchat/internal/domain/rag"
	"ragchat/internal/platform/config"
	applog "ragchat/internal/platform/log"
	"ragchat/internal/vectorstore/memory"
)

func main() {
	var (
		checkDocs  = flag.Bool("docs", false, "inspect the documents directory")
		embedProbe = flag.String("embed", "", "embed the given text and print vector stats")
		checkStore = flag.Bool("store", false, "inspect the persisted vector index")
		query      = flag.String("query", "", "run one question through the full pipeline")
		topK       = flag.Int("k", 0, "retrieval k for -query (0 = configured default)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	applog.Init(applog.Config{Level: "warn", Format: cfg.LogFormat})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch {
	case *checkDocs:
		runDocsCheck(cfg)
	case *embedProbe != "":
		runEmbedProbe(ctx, cfg, *embedProbe)
	case *checkStore:
		runStoreCheck(cfg)
	case *query != "":
		runQuery(ctx, cfg, *query, *topK)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runDocsCheck(cfg *config.AppConfig) {
	docs, err := rag.NewLoader(nil).Load(cfg.RAG.DocumentsPath)
	if err != nil {
		fail("load documents: %v", err)
	}

	fmt.Printf("documents dir: %s\n", cfg.RAG.DocumentsPath)
	fmt.Printf("documents:     %d\n", len(docs))

	chunker := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	totalChunks := 0
	for _, doc := range docs {
		n := len(chunker.SplitText(doc.Content))
		totalChunks += n
		fmt.Printf("  %-50s %8d chars %5d chunks\n", doc.Source, len(doc.Content), n)
	}
	fmt.Printf("total chunks:  %d (size=%d overlap=%d)\n", totalChunks, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
}

func runEmbedProbe(ctx context.Context, cfg *config.AppConfig, text string) {
	embedder, err := bootstrap.NewEmbedder(cfg)
	if err != nil {
		fail("create embedder: %v", err)
	}

	start := time.Now()
	vec, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		fail("embed: %v", err)
	}

	fmt.Printf("provider:   %s\n", cfg.Embedding.Provider)
	fmt.Printf("model:      %s\n", cfg.Embedding.Model)
	fmt.Printf("dims:       %d (configured %d)\n", len(vec), cfg.Embedding.Dims)
	fmt.Printf("elapsed:    %s\n", time.Since(start).Round(time.Millisecond))
	if len(vec) >= 4 {
		fmt.Printf("head:       [%.4f %.4f %.4f %.4f ...]\n", vec[0], vec[1], vec[2], vec[3])
	}
}

func runStoreCheck(cfg *config.AppConfig) {
	store := memory.New(cfg.Embedding.Model, cfg.Embedding.Dims)
	ok, err := store.Load(cfg.RAG.VectorStorePath)
	if err != nil {
		fail("load index: %v", err)
	}
	if !ok {
		fmt.Printf("no index found in %s\n", cfg.RAG.VectorStorePath)
		return
	}
	fmt.Printf("index dir: %s\n", cfg.RAG.VectorStorePath)
	fmt.Printf("chunks:    %d\n", store.Count())
	fmt.Printf("model:     %s (%d dims)\n", cfg.Embedding.Model, cfg.Embedding.Dims)
}

func runQuery(ctx context.Context, cfg *config.AppConfig, query string, k int) {
	pipeline, err := bootstrap.NewPipeline(ctx, cfg)
	if err != nil {
		fail("pipeline init: %v", err)
	}

	hits, err := pipeline.SimilarDocuments(ctx, query, k)
	if err != nil {
		fail("retrieval: %v", err)
	}
	fmt.Printf("retrieved %d chunks:\n", len(hits))
	for i, hit := range hits {
		fmt.Printf("  %d. score=%.4f source=%s\n", i+1, hit.Score, hit.Chunk.Source)
	}

	start := time.Now()
	answer := pipeline.GenerateResponse(ctx, query, nil)
	fmt.Printf("\n--- answer (%s) ---\n%s\n", time.Since(start).Round(time.Millisecond), answer)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
