// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gemma-chat-go/internal/config"
	"gemma-chat-go/internal/handler"
	"gemma-chat-go/internal/middleware"
	"gemma-chat-go/internal/prompt"
	"gemma-chat-go/internal/service"
	"gemma-chat-go/internal/session"
	"gemma-chat-go/pkg/llm"
	"gemma-chat-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化生成客户端与会话注册表（依赖注入，不使用包级单例）
	llmClient := llm.NewClient(cfg.LLM)
	formatter := prompt.NewFormatter()
	registry := session.NewRegistry(session.Options{
		SystemPrompt: cfg.Session.SystemPrompt,
		ModelName:    cfg.LLM.Model,
		Generation:   llm.ParamsFromConfig(cfg.LLM.Generation),
	})

	// 4. 初始化 Service 与 Handler
	chatService := service.NewChatService(registry, formatter, llmClient)
	chatHandler := handler.NewChatHandler(chatService)
	streamHandler := handler.NewStreamHandler(chatService)

	// 5. 启动后台会话清理任务
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	sweeper := session.NewSweeper(registry, cfg.Session.SweepInterval(), cfg.Session.Timeout())
	go sweeper.Run(sweepCtx)
	log.Infof("会话清理任务已启动：间隔 %s，超时 %s", cfg.Session.SweepInterval(), cfg.Session.Timeout())

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	api := r.Group("/api")
	{
		api.POST("/chat", chatHandler.Chat)
		api.GET("/chat/stream", streamHandler.Handle)
		api.GET("/history/:session_id", chatHandler.History)
		api.POST("/clear/:session_id", chatHandler.Clear)
		api.GET("/sessions/count", chatHandler.SessionsCount)
	}
	r.GET("/health", chatHandler.Health)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停掉后台清理任务，再关闭 HTTP 服务器
	cancelSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 会话状态只存在于内存中，停机即全部丢弃
	log.Info("服务已优雅关闭")
}
