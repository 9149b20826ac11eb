package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ragchat/internal/provider"
)

// Config OpenAI 兼容 API 配置。
// 适用于 OpenAI 官方及任何兼容服务（vLLM、llama.cpp server、LM Studio 等），
// 本地推理运行时走这条路径。
type Config struct {
	APIKey                     string `json:"api_key"`
	BaseURL                    string `json:"base_url"` // 默认 https://api.openai.com/v1
	Model                      string `json:"model"`
	ConnectTimeoutSeconds      int    `json:"connect_timeout_seconds"`
	TLSHandshakeTimeoutSeconds int    `json:"tls_handshake_timeout_seconds"`
}

// Generator OpenAI 兼容的文本生成器
type Generator struct {
	config Config
	client *http.Client
}

// New 创建 OpenAI 兼容生成器
func New(config Config) (*Generator, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	connectTimeout := time.Duration(config.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	tlsHandshakeTimeout := time.Duration(config.TLSHandshakeTimeoutSeconds) * time.Second
	if tlsHandshakeTimeout <= 0 {
		tlsHandshakeTimeout = 30 * time.Second
	}

	// Go 默认 Transport 的 TLS 握手超时为 10s，弱网下容易触发 handshake timeout。
	// 这里改为可配置，并保留通过 ctx 控制请求生命周期。
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = tlsHandshakeTimeout

	return &Generator{
		config: config,
		client: &http.Client{Transport: transport},
	}, nil
}

func (g *Generator) Name() string  { return "openai" }
func (g *Generator) Model() string { return g.config.Model }

// ── 内部 API 请求/响应结构 ─────────────────────────────────

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
	Stream      bool         `json:"stream"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Choices []apiChoice `json:"choices"`
	Model   string      `json:"model"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
	Delta        apiMessage `json:"delta"`
}

// Generate 非流式生成
func (g *Generator) Generate(ctx context.Context, prompt string, opts *provider.Options) (string, error) {
	body, err := json.Marshal(g.buildAPIRequest(prompt, opts, false))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Stream 流式生成（SSE）。传输中断时推送一条错误说明文本收尾。
func (g *Generator) Stream(ctx context.Context, prompt string, opts *provider.Options) (<-chan string, <-chan error) {
	textCh := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		body, err := json.Marshal(g.buildAPIRequest(prompt, opts, true))
		if err != nil {
			errCh <- fmt.Errorf("marshal request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", g.config.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errCh <- fmt.Errorf("create request: %w", err)
			return
		}
		g.setHeaders(httpReq)

		resp, err := g.client.Do(httpReq)
		if err != nil {
			errCh <- fmt.Errorf("completion request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errCh <- fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
			return
		}

		// 解析 SSE 流
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var streamResp apiResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				continue
			}
			if len(streamResp.Choices) > 0 && streamResp.Choices[0].Delta.Content != "" {
				select {
				case textCh <- streamResp.Choices[0].Delta.Content:
				case <-ctx.Done():
					return
				}
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

// ModelInfo 通过 /models/{id} 返回模型属性
func (g *Generator) ModelInfo(ctx context.Context) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", g.config.BaseURL+"/models/"+g.config.Model, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("models request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return info, nil
}

func (g *Generator) buildAPIRequest(prompt string, opts *provider.Options, stream bool) apiRequest {
	if opts == nil {
		opts = &provider.Options{}
	}

	var messages []apiMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, apiMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, apiMessage{Role: "user", Content: prompt})

	apiReq := apiRequest{
		Model:    g.config.Model,
		Messages: messages,
		Stream:   stream,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		apiReq.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		m := opts.MaxTokens
		apiReq.MaxTokens = &m
	}
	if opts.TopP > 0 {
		tp := opts.TopP
		apiReq.TopP = &tp
	}
	if len(opts.Stop) > 0 {
		apiReq.Stop = opts.Stop
	}
	return apiReq
}

func (g *Generator) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}
}
