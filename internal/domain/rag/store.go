package rag

// VectorStore 向量索引抽象。实现须保证并发安全：
// Search 可与其他 Search 并发，Add/Load 与一切操作互斥。
type VectorStore interface {
	// Add 批量入库（chunk 须已带 Embedding）
	Add(chunks []DocumentChunk) error
	// Search 返回与 query 余弦相似度最高的 k 条，按相似度降序，
	// 同分按入库顺序。k 超过库内数量时返回全部。
	Search(query []float32, k int) ([]RetrievedChunk, error)
	// Save 持久化索引到目录
	Save(dir string) error
	// Load 从目录恢复索引。文件不存在返回 (false, nil)。
	Load(dir string) (bool, error)
	// Count 返回库内块数
	Count() int
}
