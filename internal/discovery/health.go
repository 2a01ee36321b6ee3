package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/mirage-discovery/internal/config"
	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
	"github.com/hewenyu/mirage-discovery/internal/store"
)

// HealthCheckConfig 健康检查器的运行参数
type HealthCheckConfig struct {
	// Interval 探测周期
	Interval time.Duration
	// Timeout 单次探测的超时时间
	Timeout time.Duration
	// FailureThreshold 连续失败多少次后将状态置为 down
	FailureThreshold int
	// SuccessThreshold 连续成功多少次后将状态置为 up
	SuccessThreshold int
}

// HealthChecker 周期性地主动探测所有已注册实例的可达性
// 通过连续成功/失败阈值抑制单次抖动引起的状态翻转
// 探测只影响派生状态，永远不刷新心跳TTL时钟
type HealthChecker struct {
	store  store.Store
	client *http.Client
	cfg    HealthCheckConfig
	logger config.Logger

	mutex  sync.Mutex
	states map[string]*model.HealthCheckResult
}

// NewHealthChecker 创建一个新的健康检查器
func NewHealthChecker(s store.Store, cfg HealthCheckConfig, logger config.Logger) *HealthChecker {
	return &HealthChecker{
		store: s,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*model.HealthCheckResult),
	}
}

// Run 启动健康检查循环，收到取消信号后立即退出
func (h *HealthChecker) Run(ctx context.Context) {
	h.logger.Info("健康检查器已启动",
		zap.Duration("interval", h.cfg.Interval),
		zap.Duration("timeout", h.cfg.Timeout),
		zap.Int("failure_threshold", h.cfg.FailureThreshold),
		zap.Int("success_threshold", h.cfg.SuccessThreshold))

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := h.CheckAll(ctx); err != nil && ctx.Err() == nil {
			// 单轮失败只记录日志，循环继续
			h.logger.Error("健康检查周期执行失败", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			h.logger.Info("健康检查器已停止")
			return
		case <-ticker.C:
		}
	}
}

// CheckAll 对存储中的全部实例执行一轮并发探测
// 每个实例的探测相互独立，整轮受探测周期的截止时间约束
func (h *HealthChecker) CheckAll(ctx context.Context) error {
	instances, err := h.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("获取服务实例列表失败: %w", err)
	}

	cycleCtx, cancel := context.WithTimeout(ctx, h.cfg.Interval)
	defer cancel()

	var wg sync.WaitGroup
	for _, instance := range instances {
		wg.Add(1)
		go func(instance *model.ServiceInstance) {
			defer wg.Done()
			h.checkInstance(cycleCtx, instance)
		}(instance)
	}
	wg.Wait()

	// 回收已注销实例的探测状态，迟到的探测结果不会复活这些条目
	h.pruneStates(instances)

	summary := h.Summary()
	h.logger.Info("健康检查周期完成",
		zap.Int("total", summary.Total),
		zap.Int("up", summary.Up),
		zap.Int("down", summary.Down),
		zap.Int("unknown", summary.Unknown))

	return nil
}

// checkInstance 探测单个实例并根据阈值更新存储中的派生状态
func (h *HealthChecker) checkInstance(ctx context.Context, instance *model.ServiceInstance) {
	observed, responseTime, probeErr := h.probe(ctx, instance.HealthURL())

	result := h.recordOutcome(instance, observed, responseTime, probeErr)

	// 只有跨过阈值且状态确实变化时才翻转存储中的状态
	var flipTo model.ServiceStatus
	switch {
	case result.ConsecutiveFailures >= h.cfg.FailureThreshold && instance.Status != model.StatusDown:
		flipTo = model.StatusDown
	case result.ConsecutiveSuccesses >= h.cfg.SuccessThreshold && instance.Status != model.StatusUp:
		flipTo = model.StatusUp
	default:
		return
	}

	if err := h.store.UpdateStatus(ctx, instance.ID, flipTo); err != nil {
		// 实例可能在探测期间被注销，不作为错误处理
		if !errs.IsNotFound(err) {
			h.logger.Error("更新服务状态失败",
				zap.String("id", instance.ID),
				zap.Error(err))
		}
		return
	}

	h.logger.Info("服务状态已翻转",
		zap.String("name", instance.Name),
		zap.String("id", instance.ID),
		zap.String("status", string(flipTo)),
		zap.Int64("response_time_ms", result.ResponseTimeMs))
}

// probe 发起一次带超时的健康检查请求
// 超时内返回2xx为成功，其余一律视为失败
func (h *HealthChecker) probe(ctx context.Context, url string) (model.ServiceStatus, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.StatusDown, 0, fmt.Errorf("构造探测请求失败: %w", err)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return model.StatusDown, elapsed, fmt.Errorf("健康检查请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return model.StatusUp, elapsed, nil
	}
	return model.StatusDown, elapsed, fmt.Errorf("健康检查返回非2xx状态码: %d", resp.StatusCode)
}

// recordOutcome 在探测状态缓存中记录一次探测结果
// 连续成功和连续失败计数互斥，任何一次相反结果都会将另一个计数清零
func (h *HealthChecker) recordOutcome(instance *model.ServiceInstance, observed model.ServiceStatus, responseTime time.Duration, probeErr error) *model.HealthCheckResult {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	result, ok := h.states[instance.ID]
	if !ok {
		result = &model.HealthCheckResult{
			ID:     instance.ID,
			Name:   instance.Name,
			Status: model.StatusUnknown,
		}
		h.states[instance.ID] = result
	}

	result.Status = observed
	result.Timestamp = time.Now()
	result.ResponseTimeMs = responseTime.Milliseconds()

	if probeErr != nil {
		result.Error = probeErr.Error()
		result.ConsecutiveFailures++
		result.ConsecutiveSuccesses = 0
	} else {
		result.Error = ""
		result.ConsecutiveSuccesses++
		result.ConsecutiveFailures = 0
	}

	return result.Clone()
}

// pruneStates 删除已不在存储中的实例的探测状态
func (h *HealthChecker) pruneStates(instances []*model.ServiceInstance) {
	alive := make(map[string]struct{}, len(instances))
	for _, instance := range instances {
		alive[instance.ID] = struct{}{}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id := range h.states {
		if _, ok := alive[id]; !ok {
			delete(h.states, id)
		}
	}
}

// GetServiceHealth 获取单个实例的探测结果，尚未探测过时返回 (nil, false)
func (h *HealthChecker) GetServiceHealth(id string) (*model.HealthCheckResult, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	result, ok := h.states[id]
	if !ok {
		return nil, false
	}
	return result.Clone(), true
}

// GetHealthResults 获取全部实例的探测结果快照
func (h *HealthChecker) GetHealthResults() []*model.HealthCheckResult {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	results := make([]*model.HealthCheckResult, 0, len(h.states))
	for _, result := range h.states {
		results = append(results, result.Clone())
	}
	return results
}

// Summary 统计全部探测结果的健康状态分布
func (h *HealthChecker) Summary() *model.HealthSummary {
	results := h.GetHealthResults()

	summary := &model.HealthSummary{Total: len(results)}
	for _, result := range results {
		switch result.Status {
		case model.StatusUp:
			summary.Up++
		case model.StatusDown:
			summary.Down++
		default:
			summary.Unknown++
		}
	}
	return summary
}
