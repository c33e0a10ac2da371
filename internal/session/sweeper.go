package session

import (
	"context"
	"time"

	"gemma-chat-go/pkg/log"
)

// Sweeper 周期性清理过期会话的后台任务。
// 与请求路径共用同一个注册表句柄和同一套锁约束，随进程停机取消。
type Sweeper struct {
	registry Registry
	interval time.Duration
	timeout  time.Duration
}

// NewSweeper 创建一个清理任务：每隔 interval 移除一次
// 不活跃时长超过 timeout 的会话。
func NewSweeper(registry Registry, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
	}
}

// Run 阻塞运行清理循环，直到 ctx 被取消。通常以 goroutine 方式启动。
// 被清理的会话不会收到任何通知：客户端下次使用旧标识时
// 会被注册表当作未知标识处理，透明获得新会话。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("会话清理任务已停止")
			return
		case <-ticker.C:
			if removed := s.registry.SweepExpired(time.Now(), s.timeout); removed > 0 {
				log.Infof("已清理 %d 个过期会话，剩余 %d 个", removed, s.registry.Count())
			}
		}
	}
}
