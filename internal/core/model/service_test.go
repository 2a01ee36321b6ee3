package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceID_Deterministic(t *testing.T) {
	// 相同的 (name, address, port) 必须得到相同的ID
	id1 := InstanceID("auth", "10.0.0.5", 8001)
	id2 := InstanceID("auth", "10.0.0.5", 8001)
	assert.Equal(t, id1, id2)

	// 任意一个维度变化都必须得到不同的ID
	assert.NotEqual(t, id1, InstanceID("auth", "10.0.0.5", 8002))
	assert.NotEqual(t, id1, InstanceID("auth", "10.0.0.6", 8001))
	assert.NotEqual(t, id1, InstanceID("notification", "10.0.0.5", 8001))
}

func TestNewServiceInstance(t *testing.T) {
	instance := NewServiceInstance("auth", "10.0.0.5", 8001, map[string]string{"version": "1.0"}, "")

	assert.Equal(t, InstanceID("auth", "10.0.0.5", 8001), instance.ID)
	assert.Equal(t, "auth", instance.Name)
	assert.Equal(t, StatusStarting, instance.Status)
	assert.Equal(t, "1.0", instance.Metadata["version"])
	assert.False(t, instance.RegisteredAt.IsZero())
	assert.Equal(t, instance.RegisteredAt, instance.LastHeartbeat)

	// 元数据为nil时初始化为空映射，后续合并不会panic
	instance = NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
	require.NotNil(t, instance.Metadata)
}

func TestServiceInstance_HealthURL(t *testing.T) {
	// 未指定时从地址和端口推导
	instance := NewServiceInstance("auth", "10.0.0.5", 8001, nil, "")
	assert.Equal(t, "http://10.0.0.5:8001/health", instance.HealthURL())

	// 显式指定的探测地址完全权威，与注册的地址端口无关
	instance = NewServiceInstance("auth", "10.0.0.5", 8001, nil, "https://10.0.0.9:9443/status")
	assert.Equal(t, "https://10.0.0.9:9443/status", instance.HealthURL())
}

func TestServiceInstance_Clone(t *testing.T) {
	instance := NewServiceInstance("auth", "10.0.0.5", 8001, map[string]string{"zone": "a"}, "")

	dup := instance.Clone()
	dup.Status = StatusDown
	dup.Metadata["zone"] = "b"

	// 修改拷贝不影响原实例
	assert.Equal(t, StatusStarting, instance.Status)
	assert.Equal(t, "a", instance.Metadata["zone"])
}

func TestServiceInstance_Matches(t *testing.T) {
	instance := NewServiceInstance("auth", "10.0.0.5", 8001, map[string]string{"zone": "a", "version": "1.0"}, "")
	instance.Status = StatusUp

	// 空条件匹配一切
	assert.True(t, instance.Matches(nil))
	assert.True(t, instance.Matches(&ServiceQuery{}))

	// 各维度的单独匹配
	assert.True(t, instance.Matches(&ServiceQuery{Name: "auth"}))
	assert.False(t, instance.Matches(&ServiceQuery{Name: "notification"}))
	assert.True(t, instance.Matches(&ServiceQuery{Status: StatusUp}))
	assert.False(t, instance.Matches(&ServiceQuery{Status: StatusDown}))

	// 元数据匹配：只给键要求键存在，键值同时给出要求精确相等
	assert.True(t, instance.Matches(&ServiceQuery{MetadataKey: "zone"}))
	assert.False(t, instance.Matches(&ServiceQuery{MetadataKey: "region"}))
	assert.True(t, instance.Matches(&ServiceQuery{MetadataKey: "zone", MetadataValue: "a"}))
	assert.False(t, instance.Matches(&ServiceQuery{MetadataKey: "zone", MetadataValue: "b"}))

	// 所有条件为与关系
	assert.True(t, instance.Matches(&ServiceQuery{Name: "auth", Status: StatusUp, MetadataKey: "zone", MetadataValue: "a"}))
	assert.False(t, instance.Matches(&ServiceQuery{Name: "auth", Status: StatusDown, MetadataKey: "zone", MetadataValue: "a"}))
}

func TestServiceStatus_IsValid(t *testing.T) {
	assert.True(t, StatusUp.IsValid())
	assert.True(t, StatusDown.IsValid())
	assert.True(t, StatusStarting.IsValid())
	assert.True(t, StatusStopping.IsValid())
	assert.True(t, StatusUnknown.IsValid())
	assert.False(t, ServiceStatus("healthy").IsValid())
	assert.False(t, ServiceStatus("").IsValid())
}
