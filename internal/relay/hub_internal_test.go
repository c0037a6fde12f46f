package relay

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestHub_SendDuringDisconnect 發送與註銷的互斥：斷開潮進行中
// 的高頻發送不得寫入已關閉的通道。以 -race 運行時同時驗證
// Send 與 close 之間沒有數據競爭。
func TestHub_SendDuringDisconnect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := NewRegistry(logger, time.Minute, time.Hour)
	defer registry.Stop()

	hub := NewHub(logger, nil)
	hub.Bind(NewProtocol(registry, hub, logger))
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	const connCount = 8
	sockets := make([]*websocket.Conn, 0, connCount)
	for i := 0; i < connCount; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		sockets = append(sockets, ws)
	}

	// 升級完成後服務端才入表，等全部連接可見
	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == connCount
	}, 2*time.Second, 10*time.Millisecond)

	hub.mu.RLock()
	ids := make([]string, 0, len(hub.conns))
	for id := range hub.conns {
		ids = append(ids, id)
	}
	hub.mu.RUnlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < connCount; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, id := range ids {
					hub.Send(id, EventGameReady, nil)
				}
			}
		}()
	}

	// 發送風暴中逐一斷開客戶端，觸發併發的註銷與通道關閉
	for _, ws := range sockets {
		_ = ws.Close()
	}

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	close(stop)
	wg.Wait()
}
