package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 存储后端类型
const (
	// StoreBackendMemory 进程内存储
	StoreBackendMemory = "memory"
	// StoreBackendRedis Redis存储
	StoreBackendRedis = "redis"
	// StoreBackendEtcd etcd存储
	StoreBackendEtcd = "etcd"
)

// Config 应用程序配置结构
type Config struct {
	// HTTP服务配置
	Server struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	// 存储配置
	Store struct {
		// Backend 取值 memory、redis 或 etcd
		Backend string `mapstructure:"backend"`
	} `mapstructure:"store"`

	// Redis存储配置
	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	// etcd存储配置
	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		KeyPrefix   string        `mapstructure:"key_prefix"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"etcd"`

	// 服务实例生命周期配置
	Service struct {
		// TTL 心跳静默超过该时长后实例被清扫
		TTL time.Duration `mapstructure:"ttl"`
		// SweepInterval 清扫周期
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"service"`

	// 健康检查配置
	HealthCheck struct {
		Interval         time.Duration `mapstructure:"interval"`
		Timeout          time.Duration `mapstructure:"timeout"`
		FailureThreshold int           `mapstructure:"failure_threshold"`
		SuccessThreshold int           `mapstructure:"success_threshold"`
	} `mapstructure:"health_check"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")              // 配置文件名（无扩展名）
		v.AddConfigPath(".")                   // 当前目录
		v.AddConfigPath("./configs")           // configs目录
		v.AddConfigPath("/etc/mirage-discovery") // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，使用默认值；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("MIRAGE_DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// HTTP服务默认配置
	v.SetDefault("server.listen_address", "0.0.0.0")
	v.SetDefault("server.port", 8500)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)

	// 存储默认配置
	v.SetDefault("store.backend", StoreBackendMemory)

	// Redis默认配置
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "mirage:discovery")

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.key_prefix", "/mirage/discovery")
	v.SetDefault("etcd.dial_timeout", "5s")

	// 服务实例生命周期默认配置
	v.SetDefault("service.ttl", "60s")
	v.SetDefault("service.sweep_interval", "30s")

	// 健康检查默认配置
	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("health_check.failure_threshold", 3)
	v.SetDefault("health_check.success_threshold", 2)
}

// validate 校验关键配置项
func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendEtcd:
	default:
		return fmt.Errorf("无效的存储后端: %s", cfg.Store.Backend)
	}

	if cfg.Service.TTL <= 0 {
		return fmt.Errorf("服务TTL必须大于零: %s", cfg.Service.TTL)
	}
	if cfg.Service.SweepInterval <= 0 {
		return fmt.Errorf("清扫周期必须大于零: %s", cfg.Service.SweepInterval)
	}
	if cfg.HealthCheck.Interval <= 0 {
		return fmt.Errorf("健康检查周期必须大于零: %s", cfg.HealthCheck.Interval)
	}
	if cfg.HealthCheck.Timeout <= 0 {
		return fmt.Errorf("健康检查超时必须大于零: %s", cfg.HealthCheck.Timeout)
	}
	if cfg.HealthCheck.FailureThreshold <= 0 {
		return fmt.Errorf("失败阈值必须大于零: %d", cfg.HealthCheck.FailureThreshold)
	}
	if cfg.HealthCheck.SuccessThreshold <= 0 {
		return fmt.Errorf("成功阈值必须大于零: %d", cfg.HealthCheck.SuccessThreshold)
	}
	return nil
}
