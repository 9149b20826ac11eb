package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	applog "ragchat/internal/platform/log"
	"ragchat/internal/provider"
)

// Config Ollama 守护进程配置
type Config struct {
	BaseURL   string `json:"base_url"` // 默认 http://localhost:11434
	Model     string `json:"model"`
	KeepAlive string `json:"keep_alive"` // 如 "5m"，空值由守护进程决定
	Timeout   time.Duration
}

// Generator 基于本地 Ollama 守护进程的文本生成器
type Generator struct {
	config Config
	client *http.Client
}

// New 创建 Ollama 生成器并确保模型可用：
// 守护进程不可达直接报错；模型不在本地目录时阻塞拉取。
func New(ctx context.Context, config Config) (*Generator, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	g := &Generator{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}

	if err := g.ensureModel(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Generator) Name() string  { return "ollama" }
func (g *Generator) Model() string { return g.config.Model }

// ── 内部 API 请求/响应结构 ─────────────────────────────────

type generateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
	Error     string `json:"error"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ── 模型就绪检查 ─────────────────────────────────────────

// ensureModel 检查模型是否已在本地，不在则阻塞拉取
func (g *Generator) ensureModel(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", g.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create tags request: %w", err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama daemon unreachable at %s: %w", g.config.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama tags error (%d): %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags response: %w", err)
	}

	for _, m := range tags.Models {
		if m.Name == g.config.Model || strings.TrimSuffix(m.Name, ":latest") == g.config.Model {
			applog.Info("ollama model ready", "model", g.config.Model)
			return nil
		}
	}

	applog.Warn("ollama model not found locally, pulling", "model", g.config.Model)
	return g.pullModel(ctx)
}

// pullModel 阻塞式拉取模型（可能耗时数分钟，不受 client 超时限制）
func (g *Generator) pullModel(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"name": g.config.Model, "stream": false})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.config.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	pullClient := &http.Client{} // 拉取不设超时，由 ctx 控制
	resp, err := pullClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("pull model %s: %w", g.config.Model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull model %s failed (%d): %s", g.config.Model, resp.StatusCode, string(respBody))
	}

	var status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode pull response: %w", err)
	}
	if status.Error != "" {
		return fmt.Errorf("pull model %s: %s", g.config.Model, status.Error)
	}

	applog.Info("ollama model pulled", "model", g.config.Model, "status", status.Status)
	return nil
}

// ── 生成 ─────────────────────────────────────────────────

// Generate 非流式生成
func (g *Generator) Generate(ctx context.Context, prompt string, opts *provider.Options) (string, error) {
	start := time.Now()

	resp, err := g.doGenerate(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if genResp.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", genResp.Error)
	}

	applog.Debug("[Ollama] Generate done",
		"model", g.config.Model,
		"eval_count", genResp.EvalCount,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return genResp.Response, nil
}

// Stream 流式生成。NDJSON 逐行推送；传输中断时推送一条错误说明
// 文本作为收尾片段，channel 正常关闭。
func (g *Generator) Stream(ctx context.Context, prompt string, opts *provider.Options) (<-chan string, <-chan error) {
	textCh := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		resp, err := g.doGenerate(ctx, prompt, opts, true)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var part generateResponse
			if err := json.Unmarshal(line, &part); err != nil {
				continue
			}
			if part.Error != "" {
				select {
				case textCh <- fmt.Sprintf("\n[generation interrupted: %s]", part.Error):
				case <-ctx.Done():
				}
				return
			}
			if part.Response != "" {
				select {
				case textCh <- part.Response:
				case <-ctx.Done():
					return
				}
			}
			if part.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case textCh <- fmt.Sprintf("\n[generation interrupted: %v]", err):
			case <-ctx.Done():
			}
		}
	}()

	return textCh, errCh
}

func (g *Generator) doGenerate(ctx context.Context, prompt string, opts *provider.Options, stream bool) (*http.Response, error) {
	if opts == nil {
		opts = &provider.Options{}
	}

	req := generateRequest{
		Model:     g.config.Model,
		Prompt:    prompt,
		System:    opts.SystemPrompt,
		Stream:    stream,
		KeepAlive: opts.KeepAlive,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			TopK:        opts.TopK,
			NumPredict:  opts.MaxTokens,
			Stop:        opts.Stop,
		},
	}
	if req.KeepAlive == "" {
		req.KeepAlive = g.config.KeepAlive
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama generate request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama generate error (%d): %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// ModelInfo 通过 /api/show 返回模型属性
func (g *Generator) ModelInfo(ctx context.Context) (map[string]any, error) {
	body, err := json.Marshal(map[string]string{"name": g.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal show request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.config.BaseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create show request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama show request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama show error (%d): %s", resp.StatusCode, string(respBody))
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode show response: %w", err)
	}
	return info, nil
}
