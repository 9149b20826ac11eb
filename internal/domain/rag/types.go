package rag

// Document 加载后的原始文档（分块前）
type Document struct {
	Source   string            `json:"source"` // 来源文件路径
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DocumentChunk 文档分块后的数据结构，入库与检索的基本单位。
// 创建后不可变。
type DocumentChunk struct {
	DocID      string            `json:"doc_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
}

// RetrievedChunk 单条检索结果（相似度降序排列）
type RetrievedChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}

// Turn 一轮问答对
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
