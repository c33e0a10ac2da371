// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Session SessionConfig `mapstructure:"session"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储文本生成后端相关的配置。
type LLMConfig struct {
	BaseURL        string              `mapstructure:"base_url"`
	APIKey         string              `mapstructure:"api_key"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选，零值表示使用后端默认）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// SessionConfig 存储会话生命周期相关的配置。
type SessionConfig struct {
	TimeoutMinutes       int    `mapstructure:"timeout_minutes"`
	SweepIntervalMinutes int    `mapstructure:"sweep_interval_minutes"`
	SystemPrompt         string `mapstructure:"system_prompt"`
}

// Timeout 返回会话不活跃多久之后过期。
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SweepInterval 返回后台清理任务的执行间隔。
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// GenerationTimeout 返回单次生成调用的超时时长。
func (c LLMConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 未显式配置时的缺省值
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("llm.timeout_seconds", 120)
	viper.SetDefault("session.timeout_minutes", 120)
	viper.SetDefault("session.sweep_interval_minutes", 30)

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
