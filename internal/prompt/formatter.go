// Package prompt 负责把会话历史拼装成模型可用的提示词。
//
// 分隔符遵循 Gemma 系列模型的回合格式约定：
// https://ai.google.dev/gemma/docs/formatting
package prompt

import (
	"strings"

	"gemma-chat-go/internal/model"
)

// Gemma 回合模板的固定标记。
const (
	startTurnUser  = "<start_of_turn>user\n"
	startTurnModel = "<start_of_turn>model\n"
	endTurn        = "<end_of_turn>\n"
)

// Formatter 将有序的角色消息序列渲染为单个提示词字符串。
// 纯函数式组件：无状态、无副作用，相同输入必然产生相同输出。
type Formatter struct {
	startUser  string
	startModel string
	endTurn    string
}

// NewFormatter 创建一个使用 Gemma 回合标记的 Formatter。
func NewFormatter() *Formatter {
	return &Formatter{
		startUser:  startTurnUser,
		startModel: startTurnModel,
		endTurn:    endTurn,
	}
}

// StopSequence 返回模型输出的回合终止标记，可作为生成的 stop 序列。
func (f *Formatter) StopSequence() string {
	return strings.TrimSuffix(f.endTurn, "\n")
}

// Render 把完整历史渲染为提示词：
// 每条消息按序包裹为角色标记块，末尾追加一个未闭合的 model 回合标记，
// 提示后端从该位置继续生成。system 非空时作为首块前置文本拼入
// （Gemma 模板没有独立的 system 角色，与参考实现保持一致）。
//
// 这里不做任何截断：超出模型上下文窗口的情况由调用方在生成边界处理。
func (f *Formatter) Render(turns []model.ChatMessage, system string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n")
	}
	for _, t := range turns {
		switch t.Role {
		case model.RoleAssistant:
			b.WriteString(f.startModel)
		default:
			b.WriteString(f.startUser)
		}
		b.WriteString(t.Content)
		b.WriteString(f.endTurn)
	}
	b.WriteString(f.startModel)
	return b.String()
}
