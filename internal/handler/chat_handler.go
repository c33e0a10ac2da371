// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gemma-chat-go/internal/model"
	"gemma-chat-go/internal/service"
	"gemma-chat-go/internal/session"
	"gemma-chat-go/pkg/log"
)

// ChatHandler 处理与聊天会话相关的 API 请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理 POST /api/chat：执行一次问答交换并返回回复。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误"})
		return
	}
	// 空消息在边界拒绝，不进入会话层
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message 不能为空"})
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		log.Errorf("处理聊天请求失败: %v", err)
		// 生成失败：用户消息已在历史中，没有对应回复，客户端可重试
		c.JSON(http.StatusBadGateway, gin.H{"error": "生成回复失败，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, model.ChatResponse{
		Response:   result.Reply,
		SessionID:  result.SessionID,
		Timestamp:  time.Now().Format(time.RFC3339),
		LastPrompt: result.Prompt,
	})
}

// History 处理 GET /api/history/:session_id：返回会话的完整历史。
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Param("session_id")

	turns, err := h.chatService.History(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话历史失败"})
		return
	}

	messages := make([]model.HistoryMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, model.HistoryMessage{Role: t.Role, Content: t.Content})
	}
	c.JSON(http.StatusOK, model.ChatHistory{Messages: messages, SessionID: sessionID})
}

// Clear 处理 POST /api/clear/:session_id：清空会话历史。
func (h *ChatHandler) Clear(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.ClearSession(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空会话失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "会话已清空",
		"session_id": sessionID,
	})
}

// SessionsCount 处理 GET /api/sessions/count：返回活跃会话数（用于监控）。
func (h *ChatHandler) SessionsCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_sessions": h.chatService.ActiveSessions()})
}

// Health 处理 GET /health：存活探测。
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": h.chatService.ActiveSessions(),
	})
}
