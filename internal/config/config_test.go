package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// 不指定配置文件时全部使用默认值
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err) // 显式指定但不存在的文件是错误

	cfg, err = LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddress)
	assert.Equal(t, 8500, cfg.Server.Port)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, 60*time.Second, cfg.Service.TTL)
	assert.Equal(t, 30*time.Second, cfg.Service.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.HealthCheck.Interval)
	assert.Equal(t, 5*time.Second, cfg.HealthCheck.Timeout)
	assert.Equal(t, 3, cfg.HealthCheck.FailureThreshold)
	assert.Equal(t, 2, cfg.HealthCheck.SuccessThreshold)
	assert.Equal(t, "mirage:discovery", cfg.Redis.KeyPrefix)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Etcd.Endpoints)
}

func TestLoadConfig_FromFile(t *testing.T) {
	content := `
server:
  listen_address: "127.0.0.1"
  port: 9500
store:
  backend: "redis"
redis:
  addr: "redis.internal:6379"
service:
  ttl: "90s"
  sweep_interval: "15s"
health_check:
  interval: "10s"
  timeout: "2s"
  failure_threshold: 5
  success_threshold: 3
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.ListenAddress)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Service.TTL)
	assert.Equal(t, 15*time.Second, cfg.Service.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.HealthCheck.Interval)
	assert.Equal(t, 5, cfg.HealthCheck.FailureThreshold)

	// 未出现在文件中的配置项保持默认值
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MIRAGE_DISCOVERY_SERVER_PORT", "9600")
	t.Setenv("MIRAGE_DISCOVERY_STORE_BACKEND", "etcd")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Server.Port)
	assert.Equal(t, StoreBackendEtcd, cfg.Store.Backend)
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	content := `
store:
  backend: "cassandra"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "无效的存储后端")
}

func TestLoadConfig_InvalidTunables(t *testing.T) {
	content := `
health_check:
  failure_threshold: 0
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
