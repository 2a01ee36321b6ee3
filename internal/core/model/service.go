package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServiceStatus 表示服务实例的运行状态
type ServiceStatus string

const (
	// StatusUp 服务正常运行
	StatusUp ServiceStatus = "up"
	// StatusDown 服务不可用
	StatusDown ServiceStatus = "down"
	// StatusStarting 服务正在启动
	StatusStarting ServiceStatus = "starting"
	// StatusStopping 服务正在停止
	StatusStopping ServiceStatus = "stopping"
	// StatusUnknown 服务状态未知
	StatusUnknown ServiceStatus = "unknown"
)

// IsValid 判断状态值是否合法
func (s ServiceStatus) IsValid() bool {
	switch s {
	case StatusUp, StatusDown, StatusStarting, StatusStopping, StatusUnknown:
		return true
	}
	return false
}

// instanceNamespace 用于生成确定性实例ID的命名空间
// 相同的 (name, address, port) 永远得到相同的ID，保证重复注册幂等
var instanceNamespace = uuid.MustParse("9c5f43e2-7c6a-4b7e-9f1d-3a8b6c2e4d01")

// InstanceID 根据服务名、地址和端口计算确定性的实例ID
func InstanceID(name, address string, port int) string {
	key := fmt.Sprintf("%s:%s:%d", name, address, port)
	return uuid.NewSHA1(instanceNamespace, []byte(key)).String()
}

// ServiceInstance 表示一个已注册的服务实例
type ServiceInstance struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Address        string            `json:"address"`
	Port           int               `json:"port"`
	Status         ServiceStatus     `json:"status"`
	Metadata       map[string]string `json:"metadata"`
	HealthCheckURL string            `json:"health_check_url,omitempty"`
	RegisteredAt   time.Time         `json:"registered_at"`
	LastHeartbeat  time.Time         `json:"last_heartbeat"`
}

// NewServiceInstance 创建一个新的服务实例
// 初始状态为 starting，注册时间和心跳时间为当前时间
func NewServiceInstance(name, address string, port int, metadata map[string]string, healthCheckURL string) *ServiceInstance {
	now := time.Now()
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &ServiceInstance{
		ID:             InstanceID(name, address, port),
		Name:           name,
		Address:        address,
		Port:           port,
		Status:         StatusStarting,
		Metadata:       metadata,
		HealthCheckURL: healthCheckURL,
		RegisteredAt:   now,
		LastHeartbeat:  now,
	}
}

// URL 返回服务实例的基础访问地址
func (s *ServiceInstance) URL() string {
	return fmt.Sprintf("http://%s:%d", s.Address, s.Port)
}

// HealthURL 返回健康检查探测地址
// 注册时显式指定的 health_check_url 具有最高优先级，否则从地址和端口推导
func (s *ServiceInstance) HealthURL() string {
	if s.HealthCheckURL != "" {
		return s.HealthCheckURL
	}
	return s.URL() + "/health"
}

// Clone 返回服务实例的深拷贝，调用方修改拷贝不会影响存储中的记录
func (s *ServiceInstance) Clone() *ServiceInstance {
	dup := *s
	dup.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		dup.Metadata[k] = v
	}
	return &dup
}

// Matches 判断服务实例是否满足查询条件，所有条件为与关系
func (s *ServiceInstance) Matches(query *ServiceQuery) bool {
	if query == nil {
		return true
	}

	if query.Name != "" && s.Name != query.Name {
		return false
	}

	if query.Status != "" && s.Status != query.Status {
		return false
	}

	if query.MetadataKey != "" {
		value, ok := s.Metadata[query.MetadataKey]
		if !ok {
			return false
		}
		if query.MetadataValue != "" && value != query.MetadataValue {
			return false
		}
	}

	return true
}

// ServiceRegistrationRequest 表示服务注册请求
type ServiceRegistrationRequest struct {
	Name           string            `json:"name"`
	Address        string            `json:"address"`
	Port           int               `json:"port"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	HealthCheckURL string            `json:"health_check_url,omitempty"`
}

// ServiceHeartbeatRequest 表示服务心跳请求
// Metadata 为增量合并语义：只覆盖请求中出现的键，不替换整个映射
type ServiceHeartbeatRequest struct {
	Status   ServiceStatus     `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ServiceQuery 表示服务查询条件，所有字段均为可选
type ServiceQuery struct {
	Name          string        `json:"name,omitempty"`
	Status        ServiceStatus `json:"status,omitempty"`
	MetadataKey   string        `json:"metadata_key,omitempty"`
	MetadataValue string        `json:"metadata_value,omitempty"`
}

// ServiceRegistry 表示一次查询返回的服务实例集合快照
type ServiceRegistry struct {
	Services  []*ServiceInstance `json:"services"`
	Count     int                `json:"count"`
	Timestamp time.Time          `json:"timestamp"`
}

// HealthCheckResult 表示某个服务实例最近一次健康探测的结果
// 由健康检查器独占维护，连续失败和连续成功计数不会同时非零
type HealthCheckResult struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Status               ServiceStatus `json:"status"`
	Timestamp            time.Time     `json:"timestamp"`
	ResponseTimeMs       int64         `json:"response_time_ms"`
	Error                string        `json:"error,omitempty"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
}

// Clone 返回探测结果的拷贝
func (r *HealthCheckResult) Clone() *HealthCheckResult {
	dup := *r
	return &dup
}

// HealthSummary 表示全部服务实例的健康状态统计
type HealthSummary struct {
	Total   int `json:"total"`
	Up      int `json:"up"`
	Down    int `json:"down"`
	Unknown int `json:"unknown"`
}
