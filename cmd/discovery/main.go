package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/hewenyu/mirage-discovery/internal/apihandler"
	"github.com/hewenyu/mirage-discovery/internal/config"
	"github.com/hewenyu/mirage-discovery/internal/discovery"
	"github.com/hewenyu/mirage-discovery/internal/store"
	etcdstore "github.com/hewenyu/mirage-discovery/internal/store/etcd"
	"github.com/hewenyu/mirage-discovery/internal/store/memory"
	redisstore "github.com/hewenyu/mirage-discovery/internal/store/redis"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 创建日志记录器
	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("创建日志记录器失败: %v", err)
	}

	// 创建存储后端
	registryStore, cleanup, err := newStore(cfg)
	if err != nil {
		logger.Fatal("创建存储后端失败", zap.Error(err))
	}
	defer cleanup()
	logger.Info("存储后端已就绪", zap.String("backend", cfg.Store.Backend))

	// 创建服务发现服务
	discoveryService := discovery.NewService(registryStore)

	// 创建健康检查器
	healthChecker := discovery.NewHealthChecker(registryStore, discovery.HealthCheckConfig{
		Interval:         cfg.HealthCheck.Interval,
		Timeout:          cfg.HealthCheck.Timeout,
		FailureThreshold: cfg.HealthCheck.FailureThreshold,
		SuccessThreshold: cfg.HealthCheck.SuccessThreshold,
	}, logger)

	// 创建过期清扫器
	sweeper := discovery.NewSweeper(registryStore, cfg.Service.TTL, cfg.Service.SweepInterval, logger)

	// 启动后台任务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go healthChecker.Run(ctx)
	go sweeper.Run(ctx)

	// 启动HTTP服务
	handler := apihandler.NewHandler(discoveryService, healthChecker, logger)
	server := apihandler.NewServer(cfg, handler, logger)
	server.Start()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，开始优雅关闭")

	// 先停止后台任务，再关闭HTTP服务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭HTTP服务失败", zap.Error(err))
	}

	logger.Info("服务已退出")
}

// newStore 按配置创建存储后端，返回存储实例和资源清理函数
func newStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return memory.NewStore(), func() {}, nil

	case config.StoreBackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("连接Redis失败: %w", err)
		}
		// 记录TTL取服务TTL的两倍，作为清扫器之外的兜底过期
		s := redisstore.NewStore(client, cfg.Redis.KeyPrefix, 2*cfg.Service.TTL)
		return s, func() { client.Close() }, nil

	case config.StoreBackendEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("连接etcd失败: %w", err)
		}
		s := etcdstore.NewStore(client, cfg.Etcd.KeyPrefix)
		return s, func() { client.Close() }, nil
	}

	return nil, nil, fmt.Errorf("无效的存储后端: %s", cfg.Store.Backend)
}
