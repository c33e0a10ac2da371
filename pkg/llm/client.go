// Package llm provides a client for invoking a text-generation backend.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"gemma-chat-go/internal/config"
)

// ErrInvocation 标识一次生成调用失败（后端不可用、超时、上下文溢出等）。
// 调用方用 errors.Is 区分它与会话层错误，以决定如何向客户端报告。
var ErrInvocation = errors.New("llm invocation failed")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client 定义了文本生成后端的调用接口。
// 实现必须支持并发调用：不同会话会同时发起生成请求。
type Client interface {
	// Complete 以模板渲染后的原始提示词调用补全接口，返回生成的文本。
	// 提示词的回合模板由调用方负责渲染，因此这里走 completions 而非 chat 接口。
	Complete(ctx context.Context, prompt string, gen *GenerationParams) (string, error)
	// StreamCompletion 与 Complete 语义一致，但把流式分块逐一写入 writer。
	StreamCompletion(ctx context.Context, prompt string, gen *GenerationParams, writer MessageWriter) error
}

type completionClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient 基于配置创建一个兼容 OpenAI completions 接口的客户端。
func NewClient(cfg config.LLMConfig) Client {
	return &completionClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// GenerationParams 控制生成行为，nil 字段表示使用配置或后端默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
}

// ParamsFromConfig 把配置中的非零生成参数转换为 GenerationParams。
// 全部为零值时返回 nil，表示完全交给后端默认。
func ParamsFromConfig(cfg config.LLMGenerationConfig) *GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Complete 调用补全接口并等待完整结果。
func (c *completionClient) Complete(ctx context.Context, prompt string, gen *GenerationParams) (string, error) {
	resp, err := c.do(ctx, prompt, gen, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrInvocation, err)
	}
	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrInvocation, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", ErrInvocation)
	}
	// 与参考实现一致：去掉生成文本两端的空白
	return strings.TrimSpace(result.Choices[0].Text), nil
}

// StreamCompletion 调用补全接口并把 SSE 分块写入 writer。
func (c *completionClient) StreamCompletion(ctx context.Context, prompt string, gen *GenerationParams, writer MessageWriter) error {
	resp, err := c.do(ctx, prompt, gen, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("%w: read stream: %v", ErrInvocation, err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk.Choices[0].Text)); err != nil {
				return fmt.Errorf("failed to write message to websocket: %w", err)
			}
		}
	}
	return nil
}

// do 构造请求并处理传输层与 HTTP 层的失败。
func (c *completionClient) do(ctx context.Context, prompt string, gen *GenerationParams, stream bool) (*http.Response, error) {
	reqBody := completionRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: stream,
	}
	// 传参优先生效，否则从全局配置注入（若非零值）
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
		reqBody.Stop = gen.Stop
	} else {
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrInvocation, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrInvocation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: backend returned %s, body: %s", ErrInvocation, resp.Status, string(bodyBytes))
	}
	return resp, nil
}
