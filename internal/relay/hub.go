package relay

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 心跳參數：54 秒 Ping 避開常見的 60 秒代理超時，
// 讀取期限 60 秒留 6 秒余量
const (
	pingInterval  = 54 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

// Hub WebSocket 連接中心。
//
// 與房間註冊表解耦：連接在進入任何房間之前就已存在，所以
// 連接表只以連接 ID 為鍵；房間到成員的路由走註冊表。
//
// 併發：廣播頻繁（讀鎖）、註冊/註銷少（寫鎖），用 RWMutex。
// 每連接的發送走緩衝 channel，慢客戶端不阻塞業務邏輯。
// 鎖紀律：往 send 通道寫入只在持讀鎖時發生，關閉通道只在
// 持寫鎖時發生，兩者互斥，不可能對已關閉的通道發送。
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	protocol *Protocol

	mu    sync.RWMutex
	conns map[string]*conn
}

// conn 單一 WebSocket 連接
type conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// NewHub 創建連接中心。
//
// allowedOrigins 為空時不檢查來源（開發模式）；否則升級請求的
// Origin 必須在允許列表內。
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	hub := &Hub{
		logger: logger,
		conns:  make(map[string]*conn),
	}

	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	return hub
}

// Bind 綁定協議處理器（Hub 與 Protocol 互相引用，分兩步構造）
func (hub *Hub) Bind(protocol *Protocol) {
	hub.protocol = protocol
}

// ServeWS 處理 WebSocket 升級請求，為連接分配臨時 ID
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		hub:  hub,
	}

	hub.mu.Lock()
	hub.conns[c.id] = c
	hub.mu.Unlock()

	hub.logger.Info("WebSocket 連接建立", "conn_id", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// Send 編碼並送出一則消息；連接不存在或緩衝滿時丟棄。
//
// 即發即忘：沒有應用層確認，可靠性依賴傳輸本身的有序投遞。
func (hub *Hub) Send(connID string, kind EventKind, payload any) {
	data, err := Encode(kind, payload)
	if err != nil {
		hub.logger.Error("編碼消息失敗", "event", kind, "error", err)
		return
	}

	// 讀鎖覆蓋整個發送：與持寫鎖的通道關閉互斥
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	c, exists := hub.conns[connID]
	if !exists {
		return
	}

	select {
	case c.send <- data:
	default:
		hub.logger.Warn("連接發送緩衝已滿，丟棄消息", "conn_id", connID, "event", kind)
	}
}

// ConnectionCount 目前連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for _, c := range hub.conns {
		c.close()
	}
	hub.conns = make(map[string]*conn)

	hub.logger.Info("WebSocket Hub 已停止")
}

// unregister 移除連接並觸發協議層的斷線清理
func (hub *Hub) unregister(c *conn) {
	hub.mu.Lock()
	current, exists := hub.conns[c.id]
	if exists && current == c {
		delete(hub.conns, c.id)
	}
	// 通道關閉必須在寫鎖內：Send 持讀鎖期間不可能有通道被關閉
	c.close()
	hub.mu.Unlock()

	if !exists {
		return
	}

	// 斷線視為隱式退出；協議層保證冪等
	if hub.protocol != nil {
		hub.protocol.HandleDisconnect(c.id)
	}

	hub.logger.Info("WebSocket 連接關閉", "conn_id", c.id)
}

// close 關閉發送通道與底層連接（只執行一次）。
// 調用方必須持有 hub.mu 寫鎖。
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
}

// readPump 讀取進站消息並交給協議層。
//
// 心跳（讀取端）：60 秒內沒有任何消息（含 Pong）就視為死連接。
func (c *conn) readPump() {
	defer c.hub.unregister(c)

	if err := c.ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤", "conn_id", c.id, "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.hub.protocol.HandleMessage(c.id, message)
		}
	}
}

// writePump 送出隊列中的消息並維持心跳（發送端）
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，送出關閉幀後結束
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出隊列中剩餘的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.ws.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
