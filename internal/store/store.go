package store

import (
	"context"
	"time"

	"github.com/hewenyu/mirage-discovery/internal/core/model"
)

// Store 定义服务实例存储接口
// 所有实现必须支持并发读写，读操作返回的实例均为拷贝，
// 调用方修改返回值不会影响存储中的记录
type Store interface {
	// Put 插入或按ID整体覆盖服务实例
	Put(ctx context.Context, instance *model.ServiceInstance) error

	// Get 按ID获取服务实例，不存在时返回 (nil, nil)
	Get(ctx context.Context, id string) (*model.ServiceInstance, error)

	// GetAll 获取所有服务实例的点时快照
	GetAll(ctx context.Context) ([]*model.ServiceInstance, error)

	// GetByName 获取指定名称的全部服务实例
	// 结果集为空时返回 NotFound 错误，用于区分"服务从未注册"和"过滤结果为空"
	GetByName(ctx context.Context, name string) ([]*model.ServiceInstance, error)

	// Delete 按ID删除服务实例，返回记录删除前是否存在
	Delete(ctx context.Context, id string) (bool, error)

	// UpdateHeartbeat 更新服务心跳，是刷新TTL时钟的唯一路径
	// 设置 LastHeartbeat 为当前时间，覆盖状态，并按键合并元数据（不替换整个映射）
	// 实例不存在时返回 NotFound 错误，绝不重新创建已删除的记录
	UpdateHeartbeat(ctx context.Context, id string, status model.ServiceStatus, metadata map[string]string) (*model.ServiceInstance, error)

	// UpdateStatus 更新探测得出的服务状态，不触碰 LastHeartbeat
	// 健康探测永远不会延长TTL时钟
	UpdateStatus(ctx context.Context, id string, status model.ServiceStatus) error

	// CleanupStale 删除最后心跳早于 olderThan 的全部实例，返回删除数量
	CleanupStale(ctx context.Context, olderThan time.Time) (int, error)
}
