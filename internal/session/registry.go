package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"gemma-chat-go/pkg/llm"
)

// ErrSessionNotFound 表示查询的会话不存在或已被清理。
// 它与"会话存在但历史为空"是不同的情况，后者正常返回空历史。
var ErrSessionNotFound = errors.New("session not found")

// Registry 定义了会话注册表的操作接口。
// 所有实现必须保证：同一标识至多对应一个 ChatState；
// 插入、删除、清理彼此串行；对不同会话的访问互不竞争。
type Registry interface {
	// GetOrCreate 返回标识对应的会话；标识为空或未知时新建会话并
	// 铸造新标识。永不失败：持有已过期标识的客户端会被透明地
	// 重定向到全新会话。返回值包含实际生效的标识。
	GetOrCreate(sessionID string) (*ChatState, string)
	// Get 仅查找，不创建。未知标识返回 ErrSessionNotFound。
	Get(sessionID string) (*ChatState, error)
	// Clear 清空指定会话的历史。未知标识返回 ErrSessionNotFound。
	Clear(sessionID string) error
	// SweepExpired 无条件移除所有 lastActivity 早于 now-timeout 的
	// 会话，返回移除数量。
	SweepExpired(now time.Time, timeout time.Duration) int
	// Count 返回当前活跃会话数。
	Count() int
}

// Options 是新建会话时使用的默认模型配置。
type Options struct {
	SystemPrompt string
	ModelName    string
	Generation   *llm.GenerationParams
}

type inMemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*ChatState
	opts     Options
}

// NewRegistry 创建一个进程内的会话注册表。
// 会话状态不做任何持久化，进程退出即全部丢失（这是刻意的范围约束）。
func NewRegistry(opts Options) Registry {
	return &inMemoryRegistry{
		sessions: make(map[string]*ChatState),
		opts:     opts,
	}
}

func (r *inMemoryRegistry) GetOrCreate(sessionID string) (*ChatState, string) {
	if sessionID != "" {
		r.mu.RLock()
		st, ok := r.sessions[sessionID]
		r.mu.RUnlock()
		if ok {
			return st, sessionID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 双重检查：释放读锁后可能有并发请求已用同一标识完成创建
	if sessionID != "" {
		if st, ok := r.sessions[sessionID]; ok {
			return st, sessionID
		}
	}
	newID := uuid.NewString()
	st := NewChatState(newID, r.opts.SystemPrompt, r.opts.ModelName, r.opts.Generation)
	r.sessions[newID] = st
	return st, newID
}

func (r *inMemoryRegistry) Get(sessionID string) (*ChatState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st, nil
}

func (r *inMemoryRegistry) Clear(sessionID string) error {
	st, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	st.Clear()
	return nil
}

func (r *inMemoryRegistry) SweepExpired(now time.Time, timeout time.Duration) int {
	cutoff := now.Add(-timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, st := range r.sessions {
		if st.LastActivity().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

func (r *inMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
