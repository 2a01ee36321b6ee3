package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/mirage-discovery/internal/config"
	"github.com/hewenyu/mirage-discovery/internal/store"
)

// Sweeper 周期性地淘汰心跳超时的服务实例
// 淘汰只看心跳静默时长，与健康探测结果无关：
// 一个被探测为 down 的实例只要心跳未超时就仍然保持注册
type Sweeper struct {
	store    store.Store
	ttl      time.Duration
	interval time.Duration
	logger   config.Logger
}

// NewSweeper 创建一个新的过期清扫器
func NewSweeper(s store.Store, ttl, interval time.Duration, logger config.Logger) *Sweeper {
	return &Sweeper{
		store:    s,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Run 启动清扫循环，收到取消信号后立即退出
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("过期清扫器已启动",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("过期清扫器已停止")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep 执行一轮清扫，零淘汰是正常结果，单轮失败只记录日志
func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("清扫过期服务失败", zap.Error(err))
		}
		return
	}
	if count > 0 {
		s.logger.Info("已清扫过期服务", zap.Int("count", count))
	}
}

// Sweep 删除心跳静默超过TTL的全部实例，返回删除数量
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	return s.store.CleanupStale(ctx, time.Now().Add(-s.ttl))
}
