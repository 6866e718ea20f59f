package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mushroom-automation/common/logger"
	"mushroom-automation/internal/config"
	"mushroom-automation/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "mushroom-automation")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 创建服务
	automationService, err := service.NewAutomationService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create automation service",
			zap.Error(err),
		)
	}

	// 5. 启动服务
	if err := automationService.Start(ctx); err != nil {
		automationService.Stop()
		log.Fatal("Failed to start automation service",
			zap.Error(err),
		)
	}

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()

	if err := automationService.Stop(); err != nil {
		log.Error("Failed to stop automation service", zap.Error(err))
	}
	log.Info("Automation service stopped")
}
