// Package config 提供服務器配置載入。
//
// 配置來源優先序：環境變數 > .env 檔案 > 預設值。
// 命令行旗標的覆寫在 cmd/server 處理。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 預設值
const (
	DefaultPort         = 8080
	DefaultRoomTTL      = 2 * time.Hour
	DefaultEmptyRoomTTL = time.Minute
)

// Config 服務器配置
type Config struct {
	// Port HTTP/WebSocket 監聽端口
	Port int

	// AllowedOrigins WebSocket 升級允許的來源列表；
	// 空列表表示不檢查來源（開發模式）
	AllowedOrigins []string

	// RoomTTL 房間最長存活時間
	RoomTTL time.Duration

	// EmptyRoomTTL 空房間的回收等待時間
	EmptyRoomTTL time.Duration
}

// Load 載入配置。
//
// 先嘗試載入工作目錄下的 .env（不存在時靜默忽略），
// 再從環境變數讀取，缺漏的欄位使用預設值。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         DefaultPort,
		RoomTTL:      DefaultRoomTTL,
		EmptyRoomTTL: DefaultEmptyRoomTTL,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("無效的 PORT: %q", v)
		}
		cfg.Port = port
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if v := os.Getenv("ROOM_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("無效的 ROOM_TTL: %q", v)
		}
		cfg.RoomTTL = d
	}

	if v := os.Getenv("EMPTY_ROOM_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("無效的 EMPTY_ROOM_TTL: %q", v)
		}
		cfg.EmptyRoomTTL = d
	}

	return cfg, nil
}
