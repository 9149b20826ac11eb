package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ragchat/internal/domain/rag"
	"ragchat/internal/domain/session"
	"ragchat/internal/provider"
	"ragchat/internal/vectorstore/memory"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) Dims() int { return 2 }

type stubGenerator struct {
	lastPrompt string
}

func (g *stubGenerator) Name() string  { return "stub" }
func (g *stubGenerator) Model() string { return "stub-model" }

func (g *stubGenerator) Generate(ctx context.Context, prompt string, opts *provider.Options) (string, error) {
	g.lastPrompt = prompt
	return "stub answer", nil
}

func (g *stubGenerator) Stream(ctx context.Context, prompt string, opts *provider.Options) (<-chan string, <-chan error) {
	g.lastPrompt = prompt
	textCh := make(chan string, 2)
	errCh := make(chan error)
	textCh <- "stub "
	textCh <- "answer"
	close(textCh)
	close(errCh)
	return textCh, errCh
}

func (g *stubGenerator) ModelInfo(ctx context.Context) (map[string]any, error) {
	return map[string]any{"name": "stub-model"}, nil
}

func newTestServer(t *testing.T) (*Server, *stubGenerator) {
	t.Helper()

	docs := t.TempDir()
	if err := os.WriteFile(filepath.Join(docs, "note.txt"), []byte("The capital of France is Paris."), 0o644); err != nil {
		t.Fatal(err)
	}

	gen := &stubGenerator{}
	pipeline, err := rag.New(context.Background(), rag.Config{
		DocumentsPath:   docs,
		VectorStorePath: t.TempDir(),
		ChunkSize:       200,
		ChunkOverlap:    20,
		RetrievalK:      2,
		UseHistory:      true,
		MaxHistoryTurns: 3,
	}, rag.Deps{
		Loader:    rag.NewLoader(nil),
		Embedder:  stubEmbedder{},
		Generator: gen,
		NewStore:  func() rag.VectorStore { return memory.New("stub-embed", 2) },
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(DefaultServerConfig(), pipeline, session.NewMemoryStore(time.Hour))
	return srv, gen
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/chat", `{"query":"where is paris"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data chatResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Data.Response, "stub answer") {
		t.Errorf("unexpected response %q", resp.Data.Response)
	}
	if !strings.Contains(resp.Data.Response, "1. note.txt") {
		t.Errorf("response must cite sources: %q", resp.Data.Response)
	}
	if resp.Data.SessionID == "" {
		t.Error("expected generated session id")
	}
}

func TestChatCarriesHistory(t *testing.T) {
	srv, gen := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/chat", `{"query":"first question"}`)
	var resp struct {
		Data chatResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	postJSON(t, h, "/api/chat", `{"query":"second question","session_id":"`+resp.Data.SessionID+`"}`)
	if !strings.Contains(gen.lastPrompt, "Previous Q: first question") {
		t.Errorf("second turn must carry history:\n%q", gen.lastPrompt)
	}
}

func TestChatInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/chat", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestChatStream(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/chat/stream", `{"query":"where is paris"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Error("expected session id header")
	}

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"delta":"stub "}`) {
		t.Errorf("missing delta events: %q", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Errorf("missing terminator: %q", body)
	}
	if !strings.Contains(body, "Sources") {
		t.Errorf("stream must include sources fragment: %q", body)
	}
}

func TestSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/search", `{"query":"paris","k":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data struct {
			Hits []searchHit `json:"hits"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data.Hits) != 1 || !strings.Contains(resp.Data.Hits[0].Text, "Paris") {
		t.Errorf("unexpected hits %+v", resp.Data.Hits)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/search", `{"query":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stub-model") {
		t.Errorf("info missing model: %s", rec.Body.String())
	}
}

func TestClearSession(t *testing.T) {
	srv, gen := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/chat", `{"query":"first question","session_id":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}

	del := httptest.NewRecorder()
	h.ServeHTTP(del, httptest.NewRequest("DELETE", "/api/sessions/s1", nil))
	if del.Code != http.StatusOK {
		t.Fatalf("status %d", del.Code)
	}

	postJSON(t, h, "/api/chat", `{"query":"second question","session_id":"s1"}`)
	if strings.Contains(gen.lastPrompt, "Previous Q") {
		t.Errorf("history must be gone after clear:\n%q", gen.lastPrompt)
	}
}

func TestIndexPage(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RAG Chat") {
		t.Error("unexpected index page")
	}
}

func TestReload(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/documents/reload", ``)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}
