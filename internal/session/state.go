// Package session 实现会话状态与进程内会话注册表。
// 注册表是全进程唯一的共享可变结构，在 main 中创建一次并按引用
// 传递给请求处理和后台清理任务，不使用包级单例。
package session

import (
	"sync"
	"time"

	"gemma-chat-go/internal/model"
	"gemma-chat-go/internal/prompt"
	"gemma-chat-go/pkg/llm"
)

// ChatState 持有单个会话的有序消息历史与模型配置。
//
// 两把锁分工明确：mu 保护历史与活跃时间的读写，访问都很短；
// exchangeMu 串行化同一会话上的完整问答交换（追加用户消息 → 渲染 →
// 调用生成 → 追加回复），生成可能耗时数秒，因此绝不能用 mu 覆盖它，
// 也绝不能在持有注册表锁时申请它。
type ChatState struct {
	id        string
	system    string
	modelName string
	gen       *llm.GenerationParams

	mu           sync.Mutex
	turns        []model.ChatMessage
	lastActivity time.Time

	exchangeMu sync.Mutex
}

// NewChatState 创建一个空历史的会话状态。
func NewChatState(id, system, modelName string, gen *llm.GenerationParams) *ChatState {
	return &ChatState{
		id:           id,
		system:       system,
		modelName:    modelName,
		gen:          gen,
		lastActivity: time.Now(),
	}
}

// ID 返回会话标识。创建后不变。
func (s *ChatState) ID() string {
	return s.id
}

// ModelName 返回会话绑定的模型名称。
func (s *ChatState) ModelName() string {
	return s.modelName
}

// GenerationParams 返回会话的生成参数，可能为 nil。
func (s *ChatState) GenerationParams() *llm.GenerationParams {
	return s.gen
}

// AppendTurn 以当前时间戳追加一条消息并刷新活跃时间。
// 历史只追加，不做内容校验：空消息应在 HTTP 边界被拒绝。
func (s *ChatState) AppendTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, model.ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.lastActivity = time.Now()
}

// History 返回历史的一份拷贝。读取不刷新活跃时间：
// 只有写操作才算"活跃"，查询历史不应让会话免于过期。
func (s *ChatState) History() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatMessage, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len 返回历史消息条数。
func (s *ChatState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// RenderPrompt 用完整历史和系统指令渲染提示词。
func (s *ChatState) RenderPrompt(f *prompt.Formatter) string {
	s.mu.Lock()
	turns := make([]model.ChatMessage, len(s.turns))
	copy(turns, s.turns)
	s.mu.Unlock()
	return f.Render(turns, s.system)
}

// Clear 清空历史并刷新活跃时间，会话标识保持不变。幂等。
func (s *ChatState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.lastActivity = time.Now()
}

// LastActivity 返回最近一次写操作的时间。
func (s *ChatState) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Exchange 在会话级交换锁内执行 fn，保证同一会话上的两次并发问答
// 不会交错各自的消息追加（后到者阻塞等待，而非被拒绝）。
// 不同会话互不阻塞。
func (s *ChatState) Exchange(fn func() error) error {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()
	return fn()
}
