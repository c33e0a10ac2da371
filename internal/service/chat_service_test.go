package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemma-chat-go/internal/model"
	"gemma-chat-go/internal/prompt"
	"gemma-chat-go/internal/session"
	"gemma-chat-go/pkg/llm"
)

// stubLLM 是确定性的生成桩：按调用次数编号返回回复。
// failOn 非空时，提示词包含该子串的调用失败。
type stubLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	failOn  string
	delay   time.Duration
}

func (s *stubLLM) Complete(ctx context.Context, p string, _ *llm.GenerationParams) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.prompts = append(s.prompts, p)
	failOn := s.failOn
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", llm.ErrInvocation, ctx.Err())
		}
	}
	if failOn != "" && strings.Contains(p, failOn) {
		return "", fmt.Errorf("%w: backend unavailable", llm.ErrInvocation)
	}
	return fmt.Sprintf("reply-%d", n), nil
}

func (s *stubLLM) StreamCompletion(ctx context.Context, p string, gen *llm.GenerationParams, w llm.MessageWriter) error {
	reply, err := s.Complete(ctx, p, gen)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, []byte(reply))
}

func newTestService(stub *stubLLM) (ChatService, session.Registry) {
	registry := session.NewRegistry(session.Options{SystemPrompt: "sys", ModelName: "test-model"})
	return NewChatService(registry, prompt.NewFormatter(), stub), registry
}

func TestSendMessageRoundTrip(t *testing.T) {
	svc, _ := newTestService(&stubLLM{})

	result, err := svc.SendMessage(context.Background(), "", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "reply-1", result.Reply)
	assert.NotEmpty(t, result.SessionID)
	assert.Contains(t, result.Prompt, "Hello")
	assert.True(t, strings.HasSuffix(result.Prompt, "<start_of_turn>model\n"))

	history, err := svc.History(result.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "Hello", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "reply-1", history[1].Content)
}

func TestSecondPromptContainsPriorTurnsInOrder(t *testing.T) {
	svc, _ := newTestService(&stubLLM{})

	first, err := svc.SendMessage(context.Background(), "", "Hello")
	require.NoError(t, err)

	second, err := svc.SendMessage(context.Background(), first.SessionID, "What did I just say?")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	// 第二轮提示词按序包含全部历史回合
	p := second.Prompt
	iHello := strings.Index(p, "Hello")
	iReply := strings.Index(p, "reply-1")
	iAsk := strings.Index(p, "What did I just say?")
	require.True(t, iHello >= 0 && iReply >= 0 && iAsk >= 0)
	assert.Less(t, iHello, iReply)
	assert.Less(t, iReply, iAsk)
}

func TestSendMessageFailureLeavesUserTurnOnly(t *testing.T) {
	svc, _ := newTestService(&stubLLM{failOn: "boom"})

	result, err := svc.SendMessage(context.Background(), "", "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrInvocation)
	assert.Nil(t, result)

	// 失败不追加模型回合；会话本身已创建并保留
	assert.Equal(t, 1, svc.ActiveSessions())
}

func TestSendMessageFailureThenRetrySameSession(t *testing.T) {
	stub := &stubLLM{}
	svc, registry := newTestService(stub)

	st, id := registry.GetOrCreate("")
	stub.failOn = "boom"
	_, err := svc.SendMessage(context.Background(), id, "boom")
	require.ErrorIs(t, err, llm.ErrInvocation)
	require.Len(t, st.History(), 1) // 只有用户消息，没有半个回合

	stub.failOn = ""
	result, err := svc.SendMessage(context.Background(), id, "again")
	require.NoError(t, err)

	history := st.History()
	require.Len(t, history, 3)
	assert.Equal(t, "boom", history[0].Content)
	assert.Equal(t, "again", history[1].Content)
	assert.Equal(t, result.Reply, history[2].Content)
}

func TestConcurrentSendMessagesSameSession(t *testing.T) {
	svc, registry := newTestService(&stubLLM{delay: 10 * time.Millisecond})
	st, id := registry.GetOrCreate("")

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SendMessage(context.Background(), id, fmt.Sprintf("msg-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 历史长度 = 每次完成的交换贡献相邻且有序的一对回合
	history := st.History()
	require.Len(t, history, callers*2)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, model.RoleUser, history[i].Role)
		assert.Equal(t, model.RoleAssistant, history[i+1].Role)
	}
}

func TestFailureIsolationAcrossSessions(t *testing.T) {
	svc, registry := newTestService(&stubLLM{failOn: "boom"})

	okResult, err := svc.SendMessage(context.Background(), "", "fine")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.SendMessage(context.Background(), "", "boom")
		assert.Error(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.SendMessage(context.Background(), okResult.SessionID, "still fine")
		assert.NoError(t, err)
	}()
	wg.Wait()

	// 失败会话不影响其他会话的历史与清理
	history, err := svc.History(okResult.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, 0, registry.SweepExpired(time.Now(), time.Hour))
}

func TestClearSession(t *testing.T) {
	svc, _ := newTestService(&stubLLM{})

	result, err := svc.SendMessage(context.Background(), "", "Hello")
	require.NoError(t, err)

	require.NoError(t, svc.ClearSession(result.SessionID))
	history, err := svc.History(result.SessionID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// 两次清空都成功且历史保持为空
	require.NoError(t, svc.ClearSession(result.SessionID))

	assert.True(t, errors.Is(svc.ClearSession("unknown"), session.ErrSessionNotFound))
}

func TestHistoryUnknownSession(t *testing.T) {
	svc, _ := newTestService(&stubLLM{})
	_, err := svc.History("unknown")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestPromptRenderedFromSessionState(t *testing.T) {
	stub := &stubLLM{}
	svc, _ := newTestService(stub)

	_, err := svc.SendMessage(context.Background(), "", "Hello")
	require.NoError(t, err)

	// 渲染的提示词以未闭合的 model 回合结尾
	require.Len(t, stub.prompts, 1)
	assert.True(t, strings.HasSuffix(stub.prompts[0], "<start_of_turn>model\n"))
	assert.True(t, strings.HasPrefix(stub.prompts[0], "sys\n"))
}
