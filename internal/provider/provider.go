package provider

import "context"

// Options 单次生成调用的参数。每次调用显式传入，
// 生成器自身不持有可变的采样状态。
type Options struct {
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Stop         []string `json:"stop,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	KeepAlive    string   `json:"keep_alive,omitempty"` // ollama 专用：模型驻留时长
}

// Generator 文本生成后端接口
type Generator interface {
	// Name 返回后端名称（ollama / openai）
	Name() string

	// Model 返回生成模型标识
	Model() string

	// Generate 非流式生成，返回完整文本
	Generate(ctx context.Context, prompt string, opts *Options) (string, error)

	// Stream 流式生成。文本片段从第一个 channel 依次返回，
	// 两个 channel 都会在生成结束后关闭；传输中断时以一条
	// 错误说明文本收尾而不是裸错误，保证调用方总能渲染出内容。
	Stream(ctx context.Context, prompt string, opts *Options) (<-chan string, <-chan error)

	// ModelInfo 返回后端报告的模型属性（诊断用）
	ModelInfo(ctx context.Context) (map[string]any, error)
}
