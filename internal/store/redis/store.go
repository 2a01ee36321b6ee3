package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
)

// Store 是基于Redis的服务实例存储实现
//
// 键结构：
//
//	<prefix>:instance:<id>   服务实例JSON，带记录TTL作为兜底过期
//	<prefix>:service:<name>  该服务名下实例ID的集合
//	<prefix>:services        所有已知服务名的集合
//
// 记录TTL是过期清扫器之外的兜底，清扫器仍然是权威的淘汰路径，
// CleanupStale 同时负责回收因兜底过期而残留在索引集合中的悬空ID
type Store struct {
	client    *redis.Client
	keyPrefix string
	recordTTL time.Duration
}

// NewStore 创建新的Redis存储
// recordTTL 为实例记录的兜底过期时间，0表示不设置过期
func NewStore(client *redis.Client, keyPrefix string, recordTTL time.Duration) *Store {
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		recordTTL: recordTTL,
	}
}

// instanceKey 返回服务实例的存储键
func (s *Store) instanceKey(id string) string {
	return fmt.Sprintf("%s:instance:%s", s.keyPrefix, id)
}

// serviceKey 返回服务名称索引的存储键
func (s *Store) serviceKey(name string) string {
	return fmt.Sprintf("%s:service:%s", s.keyPrefix, name)
}

// servicesKey 返回服务名集合的存储键
func (s *Store) servicesKey() string {
	return s.keyPrefix + ":services"
}

// writeInstance 序列化并写入服务实例记录
func (s *Store) writeInstance(ctx context.Context, instance *model.ServiceInstance, ttl time.Duration) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return errs.NewInternalError("序列化服务实例失败: " + err.Error())
	}
	if err := s.client.Set(ctx, s.instanceKey(instance.ID), data, ttl).Err(); err != nil {
		return errs.NewStoreError("写入服务实例失败: " + err.Error())
	}
	return nil
}

// readInstance 读取并反序列化服务实例记录，不存在时返回 (nil, nil)
func (s *Store) readInstance(ctx context.Context, id string) (*model.ServiceInstance, error) {
	data, err := s.client.Get(ctx, s.instanceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewStoreError("读取服务实例失败: " + err.Error())
	}

	var instance model.ServiceInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, errs.NewInternalError("反序列化服务实例失败: " + err.Error())
	}
	if instance.Metadata == nil {
		instance.Metadata = make(map[string]string)
	}
	return &instance, nil
}

// Put 插入或按ID整体覆盖服务实例，并维护名称索引
func (s *Store) Put(ctx context.Context, instance *model.ServiceInstance) error {
	if err := s.writeInstance(ctx, instance, s.recordTTL); err != nil {
		return err
	}

	// 维护名称索引和服务名集合
	if err := s.client.SAdd(ctx, s.serviceKey(instance.Name), instance.ID).Err(); err != nil {
		return errs.NewStoreError("更新服务名称索引失败: " + err.Error())
	}
	if err := s.client.SAdd(ctx, s.servicesKey(), instance.Name).Err(); err != nil {
		return errs.NewStoreError("更新服务名集合失败: " + err.Error())
	}
	return nil
}

// Get 按ID获取服务实例，不存在时返回 (nil, nil)
func (s *Store) Get(ctx context.Context, id string) (*model.ServiceInstance, error) {
	return s.readInstance(ctx, id)
}

// GetAll 获取所有服务实例
func (s *Store) GetAll(ctx context.Context) ([]*model.ServiceInstance, error) {
	names, err := s.client.SMembers(ctx, s.servicesKey()).Result()
	if err != nil {
		return nil, errs.NewStoreError("读取服务名集合失败: " + err.Error())
	}

	var instances []*model.ServiceInstance
	for _, name := range names {
		batch, err := s.instancesByName(ctx, name)
		if err != nil {
			return nil, err
		}
		instances = append(instances, batch...)
	}
	return instances, nil
}

// instancesByName 读取指定名称下的全部实例，跳过索引中残留的悬空ID
func (s *Store) instancesByName(ctx context.Context, name string) ([]*model.ServiceInstance, error) {
	ids, err := s.client.SMembers(ctx, s.serviceKey(name)).Result()
	if err != nil {
		return nil, errs.NewStoreError("读取服务名称索引失败: " + err.Error())
	}

	var instances []*model.ServiceInstance
	for _, id := range ids {
		instance, err := s.readInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if instance != nil {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}

// GetByName 获取指定名称的全部服务实例，结果集为空时返回 NotFound 错误
func (s *Store) GetByName(ctx context.Context, name string) ([]*model.ServiceInstance, error) {
	instances, err := s.instancesByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errs.NewNotFoundError("服务不存在: " + name)
	}
	return instances, nil
}

// Delete 按ID删除服务实例并清理名称索引，返回记录删除前是否存在
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	instance, err := s.readInstance(ctx, id)
	if err != nil {
		return false, err
	}
	if instance == nil {
		return false, nil
	}

	if err := s.client.Del(ctx, s.instanceKey(id)).Err(); err != nil {
		return false, errs.NewStoreError("删除服务实例失败: " + err.Error())
	}
	if err := s.removeFromIndex(ctx, instance.Name, id); err != nil {
		return false, err
	}
	return true, nil
}

// removeFromIndex 从名称索引中移除实例ID，并在索引为空时回收索引键
func (s *Store) removeFromIndex(ctx context.Context, name, id string) error {
	serviceKey := s.serviceKey(name)
	if err := s.client.SRem(ctx, serviceKey, id).Err(); err != nil {
		return errs.NewStoreError("更新服务名称索引失败: " + err.Error())
	}

	count, err := s.client.SCard(ctx, serviceKey).Result()
	if err != nil {
		return errs.NewStoreError("读取服务名称索引失败: " + err.Error())
	}
	if count == 0 {
		if err := s.client.SRem(ctx, s.servicesKey(), name).Err(); err != nil {
			return errs.NewStoreError("更新服务名集合失败: " + err.Error())
		}
		if err := s.client.Del(ctx, serviceKey).Err(); err != nil {
			return errs.NewStoreError("删除服务名称索引失败: " + err.Error())
		}
	}
	return nil
}

// maxTxRetries 乐观事务在并发冲突下的最大重试次数
const maxTxRetries = 16

// updateExisting 在WATCH保护下对已存在的记录执行读改写
// 记录在读取和提交之间被并发修改或删除时事务失败并重试，
// 提交使用 SET XX，已删除的记录绝不会被写回复活
func (s *Store) updateExisting(ctx context.Context, id string, ttl time.Duration, mutate func(*model.ServiceInstance)) (*model.ServiceInstance, error) {
	key := s.instanceKey(id)

	var updated *model.ServiceInstance
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errs.NewNotFoundError("服务实例不存在: " + id)
		}
		if err != nil {
			return errs.NewStoreError("读取服务实例失败: " + err.Error())
		}

		var instance model.ServiceInstance
		if err := json.Unmarshal(data, &instance); err != nil {
			return errs.NewInternalError("反序列化服务实例失败: " + err.Error())
		}
		if instance.Metadata == nil {
			instance.Metadata = make(map[string]string)
		}

		mutate(&instance)

		payload, err := json.Marshal(&instance)
		if err != nil {
			return errs.NewInternalError("序列化服务实例失败: " + err.Error())
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetXX(ctx, key, payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &instance
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var domainErr *errs.Error
			if errors.As(err, &domainErr) {
				return nil, err
			}
			return nil, errs.NewStoreError("更新服务实例失败: " + err.Error())
		}
		return updated, nil
	}
	return nil, errs.NewStoreError("更新服务实例失败: 并发冲突重试次数耗尽")
}

// UpdateHeartbeat 更新服务心跳并按键合并元数据，记录TTL随心跳一并刷新
// 整个读改写在乐观事务内完成：并发心跳的不相交元数据键互不丢失，
// 与注销竞争时心跳返回 NotFound 而不是复活已删除的记录
func (s *Store) UpdateHeartbeat(ctx context.Context, id string, status model.ServiceStatus, metadata map[string]string) (*model.ServiceInstance, error) {
	return s.updateExisting(ctx, id, s.recordTTL, func(instance *model.ServiceInstance) {
		instance.LastHeartbeat = time.Now()
		instance.Status = status
		for k, v := range metadata {
			instance.Metadata[k] = v
		}
	})
}

// UpdateStatus 更新探测得出的服务状态
// 保留记录已有的TTL，健康探测不刷新任何过期时钟
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.ServiceStatus) error {
	_, err := s.updateExisting(ctx, id, redis.KeepTTL, func(instance *model.ServiceInstance) {
		instance.Status = status
	})
	return err
}

// CleanupStale 删除最后心跳早于 olderThan 的实例，并回收索引中的悬空ID
func (s *Store) CleanupStale(ctx context.Context, olderThan time.Time) (int, error) {
	names, err := s.client.SMembers(ctx, s.servicesKey()).Result()
	if err != nil {
		return 0, errs.NewStoreError("读取服务名集合失败: " + err.Error())
	}

	removed := 0
	for _, name := range names {
		ids, err := s.client.SMembers(ctx, s.serviceKey(name)).Result()
		if err != nil {
			return removed, errs.NewStoreError("读取服务名称索引失败: " + err.Error())
		}

		for _, id := range ids {
			instance, err := s.readInstance(ctx, id)
			if err != nil {
				return removed, err
			}

			// 记录已因兜底TTL过期，只需回收索引中的悬空ID
			if instance == nil {
				if err := s.removeFromIndex(ctx, name, id); err != nil {
					return removed, err
				}
				removed++
				continue
			}

			if instance.LastHeartbeat.Before(olderThan) {
				if err := s.client.Del(ctx, s.instanceKey(id)).Err(); err != nil {
					return removed, errs.NewStoreError("删除服务实例失败: " + err.Error())
				}
				if err := s.removeFromIndex(ctx, name, id); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}
