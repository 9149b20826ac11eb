package api

import (
	"encoding/json"
	"net/http"

	applog "ragchat/internal/platform/log"
)

// APIResponse 所有 HTTP 接口的统一响应包装。code 与 HTTP 状态码
// 保持一致，成功时 message 固定为 "ok"，业务数据放在 data。
type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := APIResponse{Code: status, Message: message, Data: data}
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		applog.Warn("write response failed", "error", err)
	}
}

// writeJSON 成功响应
func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, "ok", data)
}

// writeError 错误响应，message 面向调用方描述失败原因
func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, message, nil)
}
