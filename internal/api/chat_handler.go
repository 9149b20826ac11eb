package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ragchat/internal/domain/rag"
	"ragchat/internal/domain/session"
	applog "ragchat/internal/platform/log"
	"ragchat/internal/provider"
)

// ChatHandler 问答相关接口
type ChatHandler struct {
	pipeline *rag.Pipeline
	sessions session.Store
}

// NewChatHandler 创建问答 Handler
func NewChatHandler(pipeline *rag.Pipeline, sessions session.Store) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, sessions: sessions}
}

// RegisterRoutes 注册路由
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.handleChat)
	r.Post("/api/chat/stream", h.handleChatStream)
	r.Post("/api/search", h.handleSearch)
	r.Get("/api/info", h.handleInfo)
	r.Post("/api/documents/reload", h.handleReload)
	r.Delete("/api/sessions/{sessionID}", h.handleClearSession)
}

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// handleChat 非流式问答
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID := h.resolveSession(req.SessionID)
	history := h.loadHistory(r, sessionID)

	answer := h.pipeline.GenerateResponse(r.Context(), req.Query, history)

	h.recordTurn(r, sessionID, req.Query, answer)
	writeJSON(w, http.StatusOK, chatResponse{Response: answer, SessionID: sessionID})
}

// handleChatStream 流式问答（SSE）。每个文本片段一条 data 事件，
// 最后发送 [DONE]。
func (h *ChatHandler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := h.resolveSession(req.SessionID)
	history := h.loadHistory(r, sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sessionID)
	w.WriteHeader(http.StatusOK)

	var full strings.Builder
	for piece := range h.pipeline.StreamResponse(r.Context(), req.Query, history) {
		full.WriteString(piece)
		payload, err := json.Marshal(map[string]string{"delta": piece})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	h.recordTurn(r, sessionID, req.Query, full.String())
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type searchHit struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// handleSearch 裸检索接口，不触发生成
func (h *ChatHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	hits, err := h.pipeline.SimilarDocuments(r.Context(), req.Query, req.K)
	if err != nil {
		var pe *rag.PipelineError
		if errors.As(err, &pe) && pe.Kind == rag.KindInput {
			writeError(w, http.StatusBadRequest, pe.Err.Error())
			return
		}
		applog.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := make([]searchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, searchHit{Text: hit.Chunk.Text, Source: hit.Chunk.Source, Score: hit.Score})
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": out})
}

// handleInfo 管线运行状态
func (h *ChatHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := h.pipeline.Info()
	if registered := provider.List(); len(registered) > 0 {
		info["registered_generators"] = registered
	}
	writeJSON(w, http.StatusOK, info)
}

// handleReload 重新加载文档目录并重建索引
func (h *ChatHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reload(r.Context()); err != nil {
		applog.Error("reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Info())
}

// handleClearSession 清空会话历史
func (h *ChatHandler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.Clear(r.Context(), sessionID); err != nil {
		applog.Error("clear session failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "clear session failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// ── 会话辅助 ─────────────────────────────────────────────

func (h *ChatHandler) resolveSession(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.New().String()
}

// loadHistory 读取会话历史，失败降级为无历史
func (h *ChatHandler) loadHistory(r *http.Request, sessionID string) []rag.Turn {
	history, err := h.sessions.History(r.Context(), sessionID)
	if err != nil {
		applog.Warn("load history failed, continuing without it", "session_id", sessionID, "error", err)
		return nil
	}
	return history
}

// recordTurn 记录一轮问答，失败只告警
func (h *ChatHandler) recordTurn(r *http.Request, sessionID, query, answer string) {
	if strings.TrimSpace(query) == "" {
		return
	}
	turn := rag.Turn{Question: strings.TrimSpace(query), Answer: answer}
	if err := h.sessions.Append(r.Context(), sessionID, turn); err != nil {
		applog.Warn("record turn failed", "session_id", sessionID, "error", err)
	}
}
