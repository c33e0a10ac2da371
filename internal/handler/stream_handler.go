package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gemma-chat-go/internal/model"
	"gemma-chat-go/internal/service"
	"gemma-chat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 负责处理 WebSocket 流式聊天连接。
type StreamHandler struct {
	chatService service.ChatService
}

// NewStreamHandler 创建一个新的 StreamHandler。
func NewStreamHandler(chatService service.ChatService) *StreamHandler {
	return &StreamHandler{chatService: chatService}
}

// Handle 处理一个传入的 WebSocket 连接。
// 客户端逐条发送 {"message":"...","session_id":"..."} 帧；
// 服务端对每条消息流式回发 {"chunk":"..."} 帧，最后发送 completion 通知。
// 同一连接上的多条消息默认复用首次交换生效的会话。
func (h *StreamHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	// 连接级的会话粘连：首次交换铸造的标识沿用到后续消息
	var sessionID string

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req model.ChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeStreamError(conn, "请求帧格式错误")
			continue
		}
		if req.SessionID != "" {
			sessionID = req.SessionID
		}
		if strings.TrimSpace(req.Message) == "" {
			writeStreamError(conn, "message 不能为空")
			continue
		}

		effectiveID, err := h.chatService.StreamMessage(c.Request.Context(), sessionID, req.Message, conn)
		sessionID = effectiveID
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeStreamError(conn, "生成回复失败，请稍后重试")
			// 失败时同样发送 completion 通知，客户端据此结束本轮渲染
			notif := map[string]interface{}{
				"type":       "completion",
				"status":     "failed",
				"session_id": effectiveID,
				"timestamp":  time.Now().Format(time.RFC3339),
			}
			b, _ := json.Marshal(notif)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
	}
}

// writeStreamError 向客户端回发统一格式的 JSON 错误帧。
func writeStreamError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
