package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
)

// newTestStore 连接环境变量指定的Redis，未设置时跳过测试
func newTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("MIRAGE_DISCOVERY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("未设置环境变量MIRAGE_DISCOVERY_TEST_REDIS_ADDR，跳过Redis集成测试")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err(), "连接Redis失败")

	// 每个测试使用独立的键前缀，避免相互污染
	prefix := "mirage:discovery:test:" + t.Name()
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		iter := client.Scan(cleanupCtx, 0, prefix+"*", 0).Iterator()
		for iter.Next(cleanupCtx) {
			client.Del(cleanupCtx, iter.Val())
		}
	})

	return NewStore(client, prefix, 2*time.Minute)
}

func TestRedisStore_RegisterLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instance := model.NewServiceInstance("auth", "10.0.0.5", 8001, map[string]string{"version": "1.0"}, "")
	require.NoError(t, s.Put(ctx, instance))

	// 按ID读取
	saved, err := s.Get(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "auth", saved.Name)
	assert.Equal(t, "1.0", saved.Metadata["version"])

	// 按名称读取
	instances, err := s.GetByName(ctx, "auth")
	require.NoError(t, err)
	assert.Len(t, instances, 1)

	// 全量读取
	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// 删除后索引同步清理
	existed, err := s.Delete(ctx, instance.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = s.GetByName(ctx, "auth")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRedisStore_Heartbeat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instance := model.NewServiceInstance("auth", "10.0.0.5", 8001, map[string]string{"a": "1"}, "")
	require.NoError(t, s.Put(ctx, instance))

	updated, err := s.UpdateHeartbeat(ctx, instance.ID, model.StatusUp, map[string]string{"b": "2"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUp, updated.Status)
	assert.Equal(t, "1", updated.Metadata["a"])
	assert.Equal(t, "2", updated.Metadata["b"])

	// 不存在的实例返回 NotFound
	_, err = s.UpdateHeartbeat(ctx, "non-existent", model.StatusUp, nil)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRedisStore_HeartbeatAfterDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instance := model.NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
	require.NoError(t, s.Put(ctx, instance))

	_, err := s.Delete(ctx, instance.ID)
	require.NoError(t, err)

	// 已注销实例的心跳返回 NotFound，不会重新写回记录
	_, err = s.UpdateHeartbeat(ctx, instance.ID, model.StatusUp, nil)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	saved, err := s.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestRedisStore_ConcurrentHeartbeatAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 心跳与注销并发竞争时注销必须是终态，任何交错下记录都不会被复活
	for i := 0; i < 100; i++ {
		instance := model.NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
		require.NoError(t, s.Put(ctx, instance))

		var wg sync.WaitGroup
		var hbErr, delErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, hbErr = s.UpdateHeartbeat(ctx, instance.ID, model.StatusUp, nil)
		}()
		go func() {
			defer wg.Done()
			_, delErr = s.Delete(ctx, instance.ID)
		}()
		wg.Wait()

		require.NoError(t, delErr)
		if hbErr != nil {
			assert.True(t, errs.IsNotFound(hbErr))
		}

		saved, err := s.Get(ctx, instance.ID)
		require.NoError(t, err)
		require.Nil(t, saved, "已注销的实例被并发心跳复活")
	}
}

func TestRedisStore_ConcurrentHeartbeatsMergeDisjointKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instance := model.NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
	require.NoError(t, s.Put(ctx, instance))

	// 并发心跳携带不相交的元数据键，两个键都不能丢失
	for i := 0; i < 50; i++ {
		left := fmt.Sprintf("left-%d", i)
		right := fmt.Sprintf("right-%d", i)

		var wg sync.WaitGroup
		var leftErr, rightErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, leftErr = s.UpdateHeartbeat(ctx, instance.ID, model.StatusUp, map[string]string{"a": left})
		}()
		go func() {
			defer wg.Done()
			_, rightErr = s.UpdateHeartbeat(ctx, instance.ID, model.StatusUp, map[string]string{"b": right})
		}()
		wg.Wait()

		require.NoError(t, leftErr)
		require.NoError(t, rightErr)

		saved, err := s.Get(ctx, instance.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, left, saved.Metadata["a"])
		assert.Equal(t, right, saved.Metadata["b"])
	}
}

func TestRedisStore_UpdateStatusKeepsHeartbeat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instance := model.NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
	require.NoError(t, s.Put(ctx, instance))

	require.NoError(t, s.UpdateStatus(ctx, instance.ID, model.StatusDown))

	saved, err := s.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDown, saved.Status)
	assert.Equal(t, instance.LastHeartbeat.Unix(), saved.LastHeartbeat.Unix())
}

func TestRedisStore_CleanupStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := model.NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
	stale.LastHeartbeat = time.Now().Add(-time.Hour)
	fresh := model.NewServiceInstance("auth", "10.0.0.6", 8001, nil, "")
	require.NoError(t, s.Put(ctx, stale))
	require.NoError(t, s.Put(ctx, fresh))

	removed, err := s.CleanupStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	instances, err := s.GetByName(ctx, "auth")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, fresh.ID, instances[0].ID)
}
