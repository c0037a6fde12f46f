// 命令行對局客戶端：創建或加入房間，自動準備並以簡單的追球
// 策略操作球拍。用於對打測試與協議驗證，渲染只是定期印出
// 對局視圖。
//
// 用法：
//
//	go run ./cmd/client -server ws://localhost:8080/ws            # 創建房間
//	go run ./cmd/client -server ws://localhost:8080/ws -join ABC123
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/client"
	"github.com/koopa0/system-design/14-pong-relay/internal/game"
)

func main() {
	var (
		server      = flag.String("server", "ws://localhost:8080/ws", "服務器 WebSocket 地址")
		join        = flag.String("join", "", "要加入的房間代碼（留空則創建新房間）")
		sessionPath = flag.String("session", defaultSessionPath(), "會話記錄檔路徑")
		logLevel    = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	logger := setupLogger(*logLevel)

	c := client.NewClient(*server, client.NewFileStore(*sessionPath), logger)

	c.OnTerminal = func(err error) {
		logger.Error("會話終止", "error", err)
	}
	c.OnRoomError = func(message string) {
		logger.Warn("房間錯誤", "message", message)
	}
	// 對打測試客戶端一律接受再戰
	c.OnRematchRequest = func(roomID string) {
		logger.Info("對方請求再戰，自動接受", "room_id", roomID)
		c.RespondRematch(true)
	}

	if err := c.Connect(context.Background()); err != nil {
		logger.Error("連接失敗", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	// 已有持久化會話時 Connect 會自動重回原房間
	switch {
	case c.RoomID() != "":
	case *join != "":
		c.JoinRoom(*join)
	default:
		c.CreateRoom()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	play := time.NewTicker(100 * time.Millisecond)
	defer play.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	readied := false
	cfg := game.DefaultConfig()

	for {
		select {
		case <-sigChan:
			// 不呼叫 Exit：會話保留，重啟後可重回房間
			logger.Info("關閉客戶端")
			return

		case now := <-play.C:
			session := c.Game()
			switch session.Phase() {
			case client.PhaseReadyCheck:
				if !readied {
					logger.Info("房間滿員，送出準備", "room_id", c.RoomID())
					c.ToggleReady()
					readied = true
				}

			case client.PhasePlaying:
				readied = false
				// 追球：把拍心對準球的縱向位置
				view := session.View(now)
				session.MovePaddle(view.Ball.Y - cfg.PaddleHeight/2)

			case client.PhaseEnded:
				if winner, ok := session.Winner(); ok && winner == session.Role().PaddleSide() {
					// 勝方發起再戰
					session.RequestRematch(c.RoomID())
				}
			}

		case now := <-report.C:
			view := c.Game().View(now)
			fmt.Printf("[%s] 比分 %d:%d 球 (%.0f, %.0f)",
				view.Phase, view.Score.Left, view.Score.Right, view.Ball.X, view.Ball.Y)
			if view.Countdown > 0 {
				fmt.Printf(" 倒數 %d", view.Countdown)
			}
			fmt.Println()
		}
	}
}

// defaultSessionPath 會話記錄的預設位置
func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pong-session.json"
	}
	return filepath.Join(home, ".pong-relay", "session.json")
}

// setupLogger 設置日誌
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
