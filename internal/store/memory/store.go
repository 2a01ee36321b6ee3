package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
)

// Store 是基于内存的服务实例存储实现
// 锁只保护内存映射本身，持锁期间不做任何网络IO
type Store struct {
	instances map[string]*model.ServiceInstance
	mutex     sync.RWMutex
}

// NewStore 创建新的内存存储
func NewStore() *Store {
	return &Store{
		instances: make(map[string]*model.ServiceInstance),
	}
}

// Put 插入或按ID整体覆盖服务实例
func (s *Store) Put(ctx context.Context, instance *model.ServiceInstance) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.instances[instance.ID] = instance.Clone()
	return nil
}

// Get 按ID获取服务实例，不存在时返回 (nil, nil)
func (s *Store) Get(ctx context.Context, id string) (*model.ServiceInstance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	return instance.Clone(), nil
}

// GetAll 获取所有服务实例的点时快照
func (s *Store) GetAll(ctx context.Context) ([]*model.ServiceInstance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instances := make([]*model.ServiceInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		instances = append(instances, instance.Clone())
	}
	return instances, nil
}

// GetByName 获取指定名称的全部服务实例，结果集为空时返回 NotFound 错误
func (s *Store) GetByName(ctx context.Context, name string) ([]*model.ServiceInstance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var instances []*model.ServiceInstance
	for _, instance := range s.instances {
		if instance.Name == name {
			instances = append(instances, instance.Clone())
		}
	}

	if len(instances) == 0 {
		return nil, errs.NewNotFoundError("服务不存在: " + name)
	}
	return instances, nil
}

// Delete 按ID删除服务实例，返回记录删除前是否存在
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.instances[id]
	if ok {
		delete(s.instances, id)
	}
	return ok, nil
}

// UpdateHeartbeat 更新服务心跳并按键合并元数据
// 整个读改写在写锁内完成，并发心跳不会丢失互不重叠的元数据键
func (s *Store) UpdateHeartbeat(ctx context.Context, id string, status model.ServiceStatus, metadata map[string]string) (*model.ServiceInstance, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, errs.NewNotFoundError("服务实例不存在: " + id)
	}

	instance.LastHeartbeat = time.Now()
	instance.Status = status
	for k, v := range metadata {
		instance.Metadata[k] = v
	}

	return instance.Clone(), nil
}

// UpdateStatus 更新探测得出的服务状态，不触碰 LastHeartbeat
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.ServiceStatus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return errs.NewNotFoundError("服务实例不存在: " + id)
	}

	instance.Status = status
	return nil
}

// CleanupStale 删除最后心跳早于 olderThan 的全部实例，返回删除数量
func (s *Store) CleanupStale(ctx context.Context, olderThan time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var stale []string
	for id, instance := range s.instances {
		if instance.LastHeartbeat.Before(olderThan) {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		delete(s.instances, id)
	}
	return len(stale), nil
}
