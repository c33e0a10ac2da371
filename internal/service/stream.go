package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gemma-chat-go/internal/config"
	"gemma-chat-go/internal/model"
)

// StreamMessage 执行一次流式问答交换：分块实时下发给客户端，
// 流结束后才把完整回复追加为模型回合。流中途失败时不追加回复，
// 与同步路径的失败规则一致。返回实际生效的会话标识。
func (s *chatService) StreamMessage(ctx context.Context, sessionID, message string, ws *websocket.Conn) (string, error) {
	st, effectiveID := s.registry.GetOrCreate(sessionID)

	if timeout := config.Conf.LLM.GenerationTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := st.Exchange(func() error {
		st.AppendTurn(model.RoleUser, message)
		rendered := st.RenderPrompt(s.formatter)

		// 拦截 websocket writer 以捕获完整答案，并把原始分块包装为 JSON
		answerBuilder := &strings.Builder{}
		interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder}

		if err := s.llmClient.StreamCompletion(ctx, rendered, s.generationParams(st), interceptor); err != nil {
			return fmt.Errorf("流式生成失败: %w", err)
		}

		fullAnswer := strings.TrimSpace(answerBuilder.String())
		if len(fullAnswer) > 0 {
			st.AppendTurn(model.RoleAssistant, fullAnswer)
		}
		return nil
	})
	if err != nil {
		return effectiveID, err
	}

	sendCompletion(ws, effectiveID)
	return effectiveID, nil
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn   *websocket.Conn
	writer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.writer.Write(data)
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送本轮流式响应的完成通知。
func sendCompletion(ws *websocket.Conn, sessionID string) {
	notif := map[string]interface{}{
		"type":       "completion",
		"status":     "finished",
		"session_id": sessionID,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
