// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"

	"gemma-chat-go/internal/config"
	"gemma-chat-go/internal/model"
	"gemma-chat-go/internal/prompt"
	"gemma-chat-go/internal/session"
	"gemma-chat-go/pkg/llm"

	"github.com/gorilla/websocket"
)

// SendResult 是一次同步问答交换的结果。
// Prompt 是本轮实际提交给模型的完整提示词，仅供调试展示。
type SendResult struct {
	Reply     string
	SessionID string
	Prompt    string
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// SendMessage 执行一次完整的问答交换并返回回复。
	// sessionID 为空或未知时透明创建新会话。
	SendMessage(ctx context.Context, sessionID, message string) (*SendResult, error)
	// StreamMessage 与 SendMessage 语义一致，但把生成分块流式写入 ws。
	StreamMessage(ctx context.Context, sessionID, message string, ws *websocket.Conn) (string, error)
	// History 返回指定会话的完整历史。
	History(sessionID string) ([]model.ChatMessage, error)
	// ClearSession 清空指定会话的历史。
	ClearSession(sessionID string) error
	// ActiveSessions 返回当前活跃会话数。
	ActiveSessions() int
}

type chatService struct {
	registry  session.Registry
	formatter *prompt.Formatter
	llmClient llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(registry session.Registry, formatter *prompt.Formatter, llmClient llm.Client) ChatService {
	return &chatService{
		registry:  registry,
		formatter: formatter,
		llmClient: llmClient,
	}
}

// SendMessage 编排一次问答交换：追加用户消息、渲染提示词、调用生成、
// 追加模型回复。整个交换在会话级交换锁内执行，同一会话的并发请求
// 阻塞等待而不会交错历史。
//
// 生成失败时不追加模型回复（不留下半个回合），已追加的用户消息保留在
// 历史中——这是参考实现的既有行为，调用方可据此重试。
func (s *chatService) SendMessage(ctx context.Context, sessionID, message string) (*SendResult, error) {
	st, effectiveID := s.registry.GetOrCreate(sessionID)

	// 生成调用必须有界：超时后会话停留在"已追加用户消息、无模型回复"的状态
	if timeout := config.Conf.LLM.GenerationTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result SendResult
	err := st.Exchange(func() error {
		st.AppendTurn(model.RoleUser, message)
		rendered := st.RenderPrompt(s.formatter)

		reply, err := s.llmClient.Complete(ctx, rendered, s.generationParams(st))
		if err != nil {
			return fmt.Errorf("生成回复失败: %w", err)
		}

		st.AppendTurn(model.RoleAssistant, reply)
		result = SendResult{Reply: reply, SessionID: effectiveID, Prompt: rendered}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// History 返回会话历史。读取不刷新会话的活跃时间。
func (s *chatService) History(sessionID string) ([]model.ChatMessage, error) {
	st, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return st.History(), nil
}

// ClearSession 清空会话历史，保留会话本身。
func (s *chatService) ClearSession(sessionID string) error {
	return s.registry.Clear(sessionID)
}

// ActiveSessions 返回注册表中的会话数量。
func (s *chatService) ActiveSessions() int {
	return s.registry.Count()
}

// generationParams 为会话构造生成参数，并注入回合终止标记作为 stop 序列，
// 避免模型越过本回合继续生成。
func (s *chatService) generationParams(st *session.ChatState) *llm.GenerationParams {
	base := st.GenerationParams()
	var gp llm.GenerationParams
	if base != nil {
		gp = *base
	}
	gp.Stop = append([]string{s.formatter.StopSequence()}, gp.Stop...)
	return &gp
}
