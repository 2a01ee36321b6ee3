package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
	"github.com/hewenyu/mirage-discovery/internal/store"
)

// Service 提供服务注册发现相关的业务逻辑
type Service interface {
	// Register 注册服务实例
	// 相同 (name, address, port) 的重复注册是幂等覆盖而不是新增
	Register(ctx context.Context, req *model.ServiceRegistrationRequest) (*model.ServiceInstance, error)

	// Heartbeat 更新服务心跳，实例不存在时返回 NotFound，客户端必须重新注册
	Heartbeat(ctx context.Context, id string, req *model.ServiceHeartbeatRequest) (*model.ServiceInstance, error)

	// Deregister 注销服务实例，幂等操作，实例不存在时同样返回成功
	Deregister(ctx context.Context, id string) error

	// GetService 按ID获取服务实例
	GetService(ctx context.Context, id string) (*model.ServiceInstance, error)

	// GetInstances 获取指定名称的全部服务实例，没有任何实例时返回 NotFound
	GetInstances(ctx context.Context, name string) ([]*model.ServiceInstance, error)

	// GetAllServices 获取所有服务实例的快照
	GetAllServices(ctx context.Context) (*model.ServiceRegistry, error)

	// QueryServices 按条件过滤服务实例，零匹配是正常的空结果而不是错误
	QueryServices(ctx context.Context, query *model.ServiceQuery) (*model.ServiceRegistry, error)
}

// discoveryService 实现 Service 接口
type discoveryService struct {
	store store.Store
}

// NewService 创建一个新的服务发现服务
func NewService(s store.Store) Service {
	return &discoveryService{store: s}
}

// validateRegistration 校验服务注册请求
func validateRegistration(req *model.ServiceRegistrationRequest) error {
	if req.Name == "" {
		return errs.NewValidationError("服务名称不能为空")
	}
	if req.Address == "" {
		return errs.NewValidationError("服务地址不能为空")
	}
	if req.Port <= 0 || req.Port > 65535 {
		return errs.NewValidationError(fmt.Sprintf("无效的服务端口: %d", req.Port))
	}
	return nil
}

// Register 注册服务实例
func (s *discoveryService) Register(ctx context.Context, req *model.ServiceRegistrationRequest) (*model.ServiceInstance, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	// 确定性ID保证同一物理端点的重复注册覆盖旧记录
	// 状态重置为 starting，注册时间和心跳时间刷新
	instance := model.NewServiceInstance(req.Name, req.Address, req.Port, req.Metadata, req.HealthCheckURL)

	if err := s.store.Put(ctx, instance); err != nil {
		return nil, fmt.Errorf("注册服务失败: %w", err)
	}
	return instance, nil
}

// Heartbeat 更新服务心跳
// 状态由调用方如实上报，缺失或非法的状态值一律拒绝
func (s *discoveryService) Heartbeat(ctx context.Context, id string, req *model.ServiceHeartbeatRequest) (*model.ServiceInstance, error) {
	if req.Status == "" {
		return nil, errs.NewValidationError("服务状态不能为空")
	}
	if !req.Status.IsValid() {
		return nil, errs.NewValidationError(fmt.Sprintf("无效的服务状态: %s", req.Status))
	}

	instance, err := s.store.UpdateHeartbeat(ctx, id, req.Status, req.Metadata)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("更新服务心跳失败: %w", err)
	}
	return instance, nil
}

// Deregister 注销服务实例
func (s *discoveryService) Deregister(ctx context.Context, id string) error {
	// 重复注销和注销不存在的实例都视为成功，避免关停阶段的竞态
	if _, err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("注销服务失败: %w", err)
	}
	return nil
}

// GetService 按ID获取服务实例
func (s *discoveryService) GetService(ctx context.Context, id string) (*model.ServiceInstance, error) {
	instance, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取服务实例失败: %w", err)
	}
	if instance == nil {
		return nil, errs.NewNotFoundError("服务实例不存在: " + id)
	}
	return instance, nil
}

// GetInstances 获取指定名称的全部服务实例
func (s *discoveryService) GetInstances(ctx context.Context, name string) ([]*model.ServiceInstance, error) {
	instances, err := s.store.GetByName(ctx, name)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("获取服务实例列表失败: %w", err)
	}
	return instances, nil
}

// GetAllServices 获取所有服务实例的快照
func (s *discoveryService) GetAllServices(ctx context.Context) (*model.ServiceRegistry, error) {
	instances, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取服务列表失败: %w", err)
	}
	return newRegistry(instances), nil
}

// QueryServices 按条件过滤服务实例
func (s *discoveryService) QueryServices(ctx context.Context, query *model.ServiceQuery) (*model.ServiceRegistry, error) {
	var (
		candidates []*model.ServiceInstance
		err        error
	)

	// 指定了名称时只扫描该名称下的实例，名称不存在按零匹配处理
	if query != nil && query.Name != "" {
		candidates, err = s.store.GetByName(ctx, query.Name)
		if errs.IsNotFound(err) {
			return newRegistry(nil), nil
		}
	} else {
		candidates, err = s.store.GetAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}

	matched := make([]*model.ServiceInstance, 0, len(candidates))
	for _, instance := range candidates {
		if instance.Matches(query) {
			matched = append(matched, instance)
		}
	}
	return newRegistry(matched), nil
}

// newRegistry 构造查询结果快照
func newRegistry(instances []*model.ServiceInstance) *model.ServiceRegistry {
	if instances == nil {
		instances = make([]*model.ServiceInstance, 0)
	}
	return &model.ServiceRegistry{
		Services:  instances,
		Count:     len(instances),
		Timestamp: time.Now(),
	}
}
