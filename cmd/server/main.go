package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/config"
	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
)

func main() {
	// 解析命令行參數（旗標覆寫環境配置）
	var (
		port      = flag.Int("port", 0, "服務器端口（覆寫 PORT 環境變數）")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 載入配置
	cfg, err := config.Load()
	if err != nil {
		logger.Error("載入配置失敗", "error", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}

	// 創建房間註冊表
	registry := relay.NewRegistry(logger, cfg.EmptyRoomTTL, cfg.RoomTTL)

	// 創建 WebSocket Hub 與會話協議
	hub := relay.NewHub(logger, cfg.AllowedOrigins)
	hub.Bind(relay.NewProtocol(registry, hub, logger))

	// 創建 HTTP 處理器
	handler := relay.NewHandler(registry, hub, logger)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("乒乓中繼服務器啟動",
			"port", cfg.Port,
			"allowed_origins", cfg.AllowedOrigins,
			"room_ttl", cfg.RoomTTL,
			"empty_room_ttl", cfg.EmptyRoomTTL)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止 WebSocket Hub 與註冊表
	hub.Stop()
	registry.Stop()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
