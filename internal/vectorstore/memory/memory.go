package memory

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"ragchat/internal/domain/rag"
	applog "ragchat/internal/platform/log"
)

const (
	vectorsFile = "index.gob"
	metaFile    = "meta.json"
)

// Store 内存向量库：暴力余弦检索，适用于万级以下块数。
// 向量与块元数据分开持久化（index.gob / meta.json），
// 两个文件须同时存在才算有效索引。
type Store struct {
	mu      sync.RWMutex
	model   string
	dims    int
	vectors [][]float32
	norms   []float64
	chunks  []rag.DocumentChunk
}

// New 创建空库。model/dims 记录入持久化元数据，
// 加载时与当前配置不符则视为索引失效。
func New(model string, dims int) *Store {
	return &Store{model: model, dims: dims}
}

// Count 返回库内块数
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Add 批量入库。向量维度不符或缺失时整批拒绝。
func (s *Store) Add(chunks []rag.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, ch := range chunks {
		if len(ch.Embedding) != s.dims {
			return fmt.Errorf("chunk %d: embedding has %d dims, store expects %d", i, len(ch.Embedding), s.dims)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		vec := ch.Embedding
		// 块元数据与向量分开保存，避免检索结果把向量带回给调用方
		ch.Embedding = nil
		s.vectors = append(s.vectors, vec)
		s.norms = append(s.norms, norm(vec))
		s.chunks = append(s.chunks, ch)
	}
	return nil
}

// Search 余弦相似度检索，降序返回前 k 条，同分保持入库顺序
func (s *Store) Search(query []float32, k int) ([]rag.RetrievedChunk, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("query has %d dims, store expects %d", len(query), s.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return nil, nil
	}

	qn := norm(query)
	hits := make([]rag.RetrievedChunk, 0, len(s.chunks))
	for i, vec := range s.vectors {
		hits = append(hits, rag.RetrievedChunk{
			Chunk: s.chunks[i],
			Score: cosine(query, qn, vec, s.norms[i]),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// ── 持久化 ───────────────────────────────────────────────

// storeMeta 持久化元数据（块内容 + 模型标识）
type storeMeta struct {
	Model  string              `json:"model"`
	Dims   int                 `json:"dims"`
	Chunks []rag.DocumentChunk `json:"chunks"`
}

// Save 将索引写入目录：向量 gob 编码，元数据 JSON 编码
func (s *Store) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	vf, err := os.Create(filepath.Join(dir, vectorsFile))
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	defer vf.Close()
	if err := gob.NewEncoder(vf).Encode(s.vectors); err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}

	meta := storeMeta{Model: s.model, Dims: s.dims, Chunks: s.chunks}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("write meta file: %w", err)
	}

	applog.Info("vector store saved", "dir", dir, "chunks", len(s.chunks))
	return nil
}

// Load 从目录恢复索引。任一文件缺失返回 (false, nil)；
// 文件损坏或模型/维度与当前配置不符返回错误，由调用方决定重建。
func (s *Store) Load(dir string) (bool, error) {
	vPath := filepath.Join(dir, vectorsFile)
	mPath := filepath.Join(dir, metaFile)
	if !fileExists(vPath) || !fileExists(mPath) {
		return false, nil
	}

	vf, err := os.Open(vPath)
	if err != nil {
		return false, fmt.Errorf("open vectors file: %w", err)
	}
	defer vf.Close()

	var vectors [][]float32
	if err := gob.NewDecoder(vf).Decode(&vectors); err != nil {
		return false, fmt.Errorf("decode vectors: %w", err)
	}

	data, err := os.ReadFile(mPath)
	if err != nil {
		return false, fmt.Errorf("read meta file: %w", err)
	}
	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return false, fmt.Errorf("parse meta file: %w", err)
	}

	if len(vectors) != len(meta.Chunks) {
		return false, fmt.Errorf("index mismatch: %d vectors, %d chunks", len(vectors), len(meta.Chunks))
	}
	if meta.Model != s.model || meta.Dims != s.dims {
		return false, fmt.Errorf("index built with model %s (%d dims), current config wants %s (%d dims)",
			meta.Model, meta.Dims, s.model, s.dims)
	}

	norms := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != s.dims {
			return false, fmt.Errorf("vector %d has %d dims, expected %d", i, len(vec), s.dims)
		}
		norms[i] = norm(vec)
	}

	s.mu.Lock()
	s.vectors = vectors
	s.norms = norms
	s.chunks = meta.Chunks
	s.mu.Unlock()

	applog.Info("vector store loaded", "dir", dir, "chunks", len(meta.Chunks), "model", meta.Model)
	return true, nil
}

// ── 内部函数 ─────────────────────────────────────────────

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine 余弦相似度，零向量返回 0
func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
