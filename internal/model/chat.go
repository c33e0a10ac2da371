// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色。会话历史中只存在这两种角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表会话历史中的单条消息。
// 一旦写入历史即不可变：只追加，不修改、不重排。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest 是 POST /api/chat 的请求体。
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse 是 POST /api/chat 的响应体。
// LastPrompt 仅用于外部调试工具查看本轮实际提交给模型的完整提示词。
type ChatResponse struct {
	Response   string `json:"response"`
	SessionID  string `json:"session_id"`
	Timestamp  string `json:"timestamp"`
	LastPrompt string `json:"last_prompt,omitempty"`
}

// HistoryMessage 是历史接口返回的消息视图，不暴露内部时间戳。
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHistory 是 GET /api/history/{session_id} 的响应体。
type ChatHistory struct {
	Messages  []HistoryMessage `json:"messages"`
	SessionID string           `json:"session_id"`
}
