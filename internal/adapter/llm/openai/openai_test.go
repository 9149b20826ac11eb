package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ragchat/internal/provider"
)

func TestGenerate(t *testing.T) {
	var gotReq apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "the answer"}, "finish_reason": "stop"},
			},
			"model": gotReq.Model,
		})
	}))
	defer srv.Close()

	g, err := New(Config{BaseURL: srv.URL, Model: "gpt-test", APIKey: "sk"})
	if err != nil {
		t.Fatal(err)
	}

	out, err := g.Generate(context.Background(), "a question", &provider.Options{
		Temperature:  0.3,
		TopP:         0.9,
		MaxTokens:    128,
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "the answer" {
		t.Errorf("unexpected output %q", out)
	}

	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Content != "a question" {
		t.Errorf("unexpected messages %+v", gotReq.Messages)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.3 {
		t.Errorf("temperature not forwarded: %+v", gotReq.Temperature)
	}
	if gotReq.MaxTokens == nil || *gotReq.MaxTokens != 128 {
		t.Errorf("max_tokens not forwarded: %+v", gotReq.MaxTokens)
	}
	if gotReq.Stream {
		t.Error("non-streaming call must set stream=false")
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g, err := New(Config{BaseURL: srv.URL, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), "q", nil); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"str", "eam", "ed"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g, err := New(Config{BaseURL: srv.URL, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	textCh, errCh := g.Stream(context.Background(), "q", nil)
	var sb strings.Builder
	for piece := range textCh {
		sb.WriteString(piece)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if sb.String() != "streamed" {
		t.Errorf("unexpected stream output %q", sb.String())
	}
}

func TestStreamStopsWhenConsumerCancels(t *testing.T) {
	// 消费方取消后，即使发送缓冲已满，流式协程也要退出
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 100; i++ {
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g, err := New(Config{BaseURL: srv.URL, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	textCh, errCh := g.Stream(ctx, "q", nil)
	<-textCh
	cancel()

	select {
	case <-errCh:
		// 协程退出时关闭 errCh
	case <-time.After(2 * time.Second):
		t.Fatal("stream goroutine did not stop after cancel")
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}
