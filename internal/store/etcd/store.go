package etcd

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
)

// Store 是基于etcd的服务实例存储实现
// 实例以JSON形式存储在 <prefix>/instances/<id> 键下，按名称查询通过前缀扫描过滤
type Store struct {
	client    *clientv3.Client
	keyPrefix string
}

// NewStore 创建新的etcd存储
func NewStore(client *clientv3.Client, keyPrefix string) *Store {
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// instanceKey 返回服务实例的存储键
func (s *Store) instanceKey(id string) string {
	return s.keyPrefix + "/instances/" + id
}

// instancesPrefix 返回实例键空间的前缀
func (s *Store) instancesPrefix() string {
	return s.keyPrefix + "/instances/"
}

// unmarshalInstance 反序列化服务实例记录
func unmarshalInstance(data []byte) (*model.ServiceInstance, error) {
	var instance model.ServiceInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, errs.NewInternalError("反序列化服务实例失败: " + err.Error())
	}
	if instance.Metadata == nil {
		instance.Metadata = make(map[string]string)
	}
	return &instance, nil
}

// Put 插入或按ID整体覆盖服务实例
func (s *Store) Put(ctx context.Context, instance *model.ServiceInstance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return errs.NewInternalError("序列化服务实例失败: " + err.Error())
	}

	if _, err := s.client.Put(ctx, s.instanceKey(instance.ID), string(data)); err != nil {
		return errs.NewStoreError("写入服务实例失败: " + err.Error())
	}
	return nil
}

// Get 按ID获取服务实例，不存在时返回 (nil, nil)
func (s *Store) Get(ctx context.Context, id string) (*model.ServiceInstance, error) {
	resp, err := s.client.Get(ctx, s.instanceKey(id))
	if err != nil {
		return nil, errs.NewStoreError("读取服务实例失败: " + err.Error())
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return unmarshalInstance(resp.Kvs[0].Value)
}

// GetAll 获取所有服务实例
func (s *Store) GetAll(ctx context.Context) ([]*model.ServiceInstance, error) {
	resp, err := s.client.Get(ctx, s.instancesPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, errs.NewStoreError("扫描服务实例失败: " + err.Error())
	}

	instances := make([]*model.ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instance, err := unmarshalInstance(kv.Value)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// GetByName 获取指定名称的全部服务实例，结果集为空时返回 NotFound 错误
func (s *Store) GetByName(ctx context.Context, name string) ([]*model.ServiceInstance, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var instances []*model.ServiceInstance
	for _, instance := range all {
		if instance.Name == name {
			instances = append(instances, instance)
		}
	}

	if len(instances) == 0 {
		return nil, errs.NewNotFoundError("服务不存在: " + name)
	}
	return instances, nil
}

// Delete 按ID删除服务实例，返回记录删除前是否存在
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	resp, err := s.client.Delete(ctx, s.instanceKey(id))
	if err != nil {
		return false, errs.NewStoreError("删除服务实例失败: " + err.Error())
	}
	return resp.Deleted > 0, nil
}

// putExisting 以事务方式覆盖已存在的键
// 事务保证键在写入时仍然存在，实例被并发删除后落盘的写入不会复活记录
func (s *Store) putExisting(ctx context.Context, id string, instance *model.ServiceInstance) (bool, error) {
	data, err := json.Marshal(instance)
	if err != nil {
		return false, errs.NewInternalError("序列化服务实例失败: " + err.Error())
	}

	key := s.instanceKey(id)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return false, errs.NewStoreError("更新服务实例失败: " + err.Error())
	}
	return resp.Succeeded, nil
}

// UpdateHeartbeat 更新服务心跳并按键合并元数据
func (s *Store) UpdateHeartbeat(ctx context.Context, id string, status model.ServiceStatus, metadata map[string]string) (*model.ServiceInstance, error) {
	instance, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, errs.NewNotFoundError("服务实例不存在: " + id)
	}

	instance.LastHeartbeat = time.Now()
	instance.Status = status
	for k, v := range metadata {
		instance.Metadata[k] = v
	}

	ok, err := s.putExisting(ctx, id, instance)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 读取和写入之间实例已被删除
		return nil, errs.NewNotFoundError("服务实例不存在: " + id)
	}
	return instance, nil
}

// UpdateStatus 更新探测得出的服务状态，不触碰 LastHeartbeat
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.ServiceStatus) error {
	instance, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if instance == nil {
		return errs.NewNotFoundError("服务实例不存在: " + id)
	}

	instance.Status = status

	ok, err := s.putExisting(ctx, id, instance)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NewNotFoundError("服务实例不存在: " + id)
	}
	return nil
}

// CleanupStale 删除最后心跳早于 olderThan 的全部实例，返回删除数量
func (s *Store) CleanupStale(ctx context.Context, olderThan time.Time) (int, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, instance := range all {
		if instance.LastHeartbeat.Before(olderThan) {
			existed, err := s.Delete(ctx, instance.ID)
			if err != nil {
				return removed, err
			}
			if existed {
				removed++
			}
		}
	}
	return removed, nil
}
