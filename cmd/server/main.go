// Package main 是服务端程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketai-go/internal/config"
	"marketai-go/internal/handler"
	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/internal/service"
	"marketai-go/pkg/database"
	"marketai-go/pkg/es"
	"marketai-go/pkg/kafka"
	"marketai-go/pkg/llm"
	"marketai-go/pkg/log"
	"marketai-go/pkg/storage"
	"marketai-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("数据库初始化失败", err)
	}
	if err := database.Migrate(db, &model.User{}, &model.HistoryItem{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	rdb, err := database.OpenRedis(cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	defer rdb.Close()

	// 可选组件：未配置时对应功能降级，不阻止启动
	var publisher service.EventPublisher
	if cfg.Kafka.Brokers != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publisher = producer
		log.Infof("用量事件写入 Kafka topic %s", cfg.Kafka.Topic)
	}
	var index service.HistoryIndex
	if cfg.Elasticsearch.Addresses != "" {
		x, err := es.NewHistoryIndex(context.Background(), cfg.Elasticsearch)
		if err != nil {
			log.Warnf("Elasticsearch 初始化失败，历史搜索回退到数据库: %v", err)
		} else {
			index = x
		}
	}
	var store service.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		s, err := storage.NewMinioStore(context.Background(), cfg.MinIO)
		if err != nil {
			log.Warnf("MinIO 初始化失败，分享功能不可用: %v", err)
		} else {
			store = s
		}
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	tokenRepo := repository.NewTokenRepository(rdb)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	if cfg.LLM.APIKey == "" {
		log.Warnf("llm.api_key 未配置，生成接口将返回 configuration 错误")
	}
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepo, tokenRepo, jwtManager, service.LogResetNotifier{}, service.AuthPolicy{
		LoginRateLimit:  cfg.Auth.LoginRateLimit,
		LoginRateWindow: time.Duration(cfg.Auth.LoginRateWindowSecs) * time.Second,
		ResetTokenTTL:   time.Duration(cfg.Auth.ResetTokenTTLMinutes) * time.Minute,
	})
	historyService := service.NewHistoryService(historyRepo, index)
	generationService := service.NewGenerationService(llmClient, service.NewUsageRecorder(publisher))
	shareService := service.NewShareService(historyService, store, time.Duration(cfg.MinIO.LinkExpiryMinutes)*time.Minute)

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Services{
		JWT:        jwtManager,
		Users:      userService,
		History:    historyService,
		Generation: generationService,
		Share:      shareService,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 生成请求最长 30 秒，留出余量
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
