package rag

import "fmt"

// Kind 管线错误分类。处理策略只在管线边界统一决定：
// 初始化错误直接向上传播（无法服务任何请求）；检索/生成错误降级为
// 面向用户的道歉文本；输入错误短路返回提示；持久化错误回退到重建索引。
type Kind int

const (
	KindInit Kind = iota + 1
	KindRetrieval
	KindGeneration
	KindInput
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindRetrieval:
		return "retrieval"
	case KindGeneration:
		return "generation"
	case KindInput:
		return "input"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// PipelineError 带分类的管线错误
type PipelineError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}
