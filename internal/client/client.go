package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-pong-relay/internal/game"
	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/koopa0/system-design/14-pong-relay/pkg/clock"
)

// ConnState 連接狀態機的狀態
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

const (
	// 重連上限：固定次數、固定退避，絕不無限重試
	maxReconnectAttempts = 5
	reconnectBackoff     = 2 * time.Second

	// timeSyncInterval 時鐘偏移探測的節奏
	timeSyncInterval = 30 * time.Second

	// tickInterval 對局會話的推進節奏
	tickInterval = StepInterval
)

// ErrSessionLost 會話終局失效：房間已不存在，重連放棄。
// 呼叫方應回到大廳，不應繼續重試。
var ErrSessionLost = errors.New("session lost: room no longer exists")

// Client 對局客戶端的連接核心。
//
// 狀態機：Disconnected → Connecting → Connected ⇄ Reconnecting
// → Disconnected。對局中的意外斷線自動觸發重連：以持久化的
// 會話令牌嘗試回到原房間；房間已消失則浮出終局的會話遺失錯誤。
//
// 會話持久化失敗靜默降級：記錄保留在內存，對局不受影響，
// 只是進程重啟後回不了房間。
type Client struct {
	url    string
	logger *slog.Logger
	store  SessionStore
	clock  *clock.Estimator
	game   *GameSession

	mu         sync.Mutex
	state      ConnState
	ws         *websocket.Conn
	session    Session
	hasSession bool

	writeMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// OnTerminal 終局錯誤通知（會話遺失、重連耗盡）
	OnTerminal func(err error)

	// OnRoomError 範圍化房間錯誤（加入失敗等非終局錯誤）
	OnRoomError func(message string)

	// OnRematchRequest 對方發起再戰；回應用 RespondRematch
	OnRematchRequest func(roomID string)
}

// NewClient 創建客戶端
func NewClient(url string, store SessionStore, logger *slog.Logger) *Client {
	c := &Client{
		url:    url,
		logger: logger,
		store:  store,
		clock:  clock.NewEstimator(0),
		state:  StateDisconnected,
		stopCh: make(chan struct{}),
	}
	c.game = NewGameSession(game.DefaultConfig(), c, c.clock, logger)
	return c
}

// Game 對局會話
func (c *Client) Game() *GameSession {
	return c.game
}

// State 目前連接狀態
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect 建立連接並啟動讀取、推進與時鐘同步循環。
//
// 本地若有持久化會話，連上後自動嘗試重回原房間。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("連接狀態不允許重複連接: %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := *websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("連接服務器失敗: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("已連接服務器", "url", c.url)

	c.wg.Add(3)
	go c.readLoop(ws)
	go c.tickLoop()
	go c.timeSyncLoop()

	// 頁面重載式的靜默重連
	if session, ok := c.store.Load(); ok {
		c.mu.Lock()
		c.session = session
		c.hasSession = true
		c.mu.Unlock()

		c.SendEvent(relay.EventRejoinRoom, relay.RejoinRoomPayload{
			RoomID:       session.RoomID,
			SessionToken: session.SessionToken,
		})
	}

	return nil
}

// Close 關閉客戶端
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.state = StateDisconnected
		c.mu.Unlock()
	})
	c.wg.Wait()
}

// SendEvent 編碼並送出一則消息（實現 Outbound）
func (c *Client) SendEvent(kind relay.EventKind, payload any) {
	data, err := relay.Encode(kind, payload)
	if err != nil {
		c.logger.Error("編碼消息失敗", "event", kind, "error", err)
		return
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("送出消息失敗", "event", kind, "error", err)
	}
}

// CreateRoom 請求創建房間
func (c *Client) CreateRoom() {
	c.SendEvent(relay.EventCreateRoom, nil)
}

// JoinRoom 請求加入房間
func (c *Client) JoinRoom(roomID string) {
	c.SendEvent(relay.EventJoinRoom, relay.JoinRoomPayload{RoomID: roomID})
}

// ToggleReady 翻轉準備旗標
func (c *Client) ToggleReady() {
	c.mu.Lock()
	roomID := c.session.RoomID
	c.mu.Unlock()

	c.SendEvent(relay.EventToggleReady, relay.ToggleReadyPayload{RoomID: roomID})
}

// RespondRematch 回應對方的再戰請求
func (c *Client) RespondRematch(accepted bool) {
	c.mu.Lock()
	roomID := c.session.RoomID
	c.mu.Unlock()

	c.SendEvent(relay.EventRematchResponse, relay.RematchResponsePayload{
		RoomID:   roomID,
		Accepted: accepted,
	})
}

// RoomID 目前所在房間（無會話時為空）
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.RoomID
}

// Exit 主動退出房間：通知服務器並清除持久化會話
func (c *Client) Exit() {
	c.mu.Lock()
	roomID := c.session.RoomID
	c.session = Session{}
	c.hasSession = false
	c.mu.Unlock()

	if roomID != "" {
		c.SendEvent(relay.EventPlayerExit, relay.PlayerExitPayload{RoomID: roomID})
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Debug("清除會話記錄失敗", "error", err)
	}
	c.game.OnOpponentGone()
}

// adoptSession 記下新會話並持久化；持久化失敗靜默降級到內存
func (c *Client) adoptSession(session Session) {
	c.mu.Lock()
	c.session = session
	c.hasSession = true
	c.mu.Unlock()

	c.game.SetRole(session.Role)

	if err := c.store.Save(session); err != nil {
		c.logger.Debug("持久化會話失敗，降級為內存記錄", "error", err)
	}
}

// adoptRole 套用服務器回報的有效角色。
//
// 對手離開後倖存端可能升格為主機；角色變更同步進對局會話
// 與持久化的會話記錄，重載後的重連沿用升格後的身份。
func (c *Client) adoptRole(role relay.Role) {
	c.mu.Lock()
	changed := c.hasSession && c.session.Role != role
	if changed {
		c.session.Role = role
	}
	session := c.session
	c.mu.Unlock()

	if !changed {
		return
	}

	c.logger.Info("角色已變更", "role", role)
	c.game.SetRole(role)
	if err := c.store.Save(session); err != nil {
		c.logger.Debug("持久化會話失敗，降級為內存記錄", "error", err)
	}
}

// readLoop 讀取並分發服務器消息
func (c *Client) readLoop(ws *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.logger.Warn("連接中斷", "error", err)
			c.reconnect()
			return
		}

		env, err := relay.Decode(raw)
		if err != nil {
			c.logger.Debug("丟棄無法解析的消息", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch 服務器事件的封閉分發
func (c *Client) dispatch(env relay.Envelope) {
	switch env.Event {
	case relay.EventRoomCreated:
		var p relay.RoomCreatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.adoptSession(Session{RoomID: p.RoomID, SessionToken: p.SessionToken, Role: p.Role})
		c.game.OnRoomUpdate(p.ReadyState)
		c.logger.Info("房間已創建", "room_id", p.RoomID)

	case relay.EventRoomJoined:
		var p relay.RoomJoinedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.adoptSession(Session{RoomID: p.RoomID, SessionToken: p.SessionToken, Role: p.Role})
		c.game.OnRoomUpdate(p.ReadyState)
		c.logger.Info("已加入房間", "room_id", p.RoomID, "role", p.Role)

	case relay.EventRoomRejoined:
		var p relay.RoomRejoinedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		// 角色可能在斷線期間改變（對方升格），以服務器回報為準
		c.mu.Lock()
		c.session.Role = p.Role
		session := c.session
		c.mu.Unlock()
		c.adoptSession(session)
		c.game.OnRoomUpdate(p.ReadyState)
		c.logger.Info("已重回房間", "room_id", p.RoomID, "role", p.Role)

	case relay.EventRoomError:
		var p relay.RoomErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.handleRoomError(p.Message)

	case relay.EventPlayerJoined:
		var p relay.PlayerJoinedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.game.OnRoomUpdate(p.ReadyState)

	case relay.EventReadyStateUpdate:
		var p relay.ReadyStateUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.game.OnRoomUpdate(p.ReadyState)

	case relay.EventGameReady:
		c.game.OnGameReady()

	case relay.EventPaddleUpdate:
		var p relay.PaddleMovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.game.OnPaddleUpdate(p)

	case relay.EventBallUpdate:
		var p relay.BallMovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.game.OnBallUpdate(p)

	case relay.EventScoreUpdate:
		var p relay.ScoreUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.game.OnScoreUpdate(p)

	case relay.EventPauseUpdate:
		var p relay.PauseUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.game.OnPauseUpdate(p)

	case relay.EventPlayerExited, relay.EventPlayerDisconnected:
		var p relay.PlayerExitedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.logger.Info("對手離開", "event", env.Event, "role", p.Role)
		c.adoptRole(p.Role)
		c.game.OnOpponentGone()

	case relay.EventRematchRequest:
		var p relay.RematchRequestPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.OnRematchRequest != nil {
			c.OnRematchRequest(p.RoomID)
		}

	case relay.EventRematchAccepted:
		c.game.OnRematchAccepted()

	case relay.EventRematchDeclined:
		c.game.OnRematchDeclined()

	case relay.EventTimeSyncResult:
		var p relay.TimeSyncResultPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.clock.Observe(time.UnixMilli(p.ClientTime), time.UnixMilli(p.ServerTime), time.Now())

	default:
		c.logger.Debug("丟棄未知事件", "event", env.Event)
	}
}

// handleRoomError 區分終局與範圍化錯誤。
//
// 持有會話時收到「Room not found」代表重連目標已消失：
// 清除會話、通知終局，絕不無限重試。
func (c *Client) handleRoomError(message string) {
	c.mu.Lock()
	lost := c.hasSession && message == "Room not found"
	if lost {
		c.session = Session{}
		c.hasSession = false
	}
	c.mu.Unlock()

	if lost {
		c.logger.Warn("會話已失效", "reason", message)
		if err := c.store.Clear(); err != nil {
			c.logger.Debug("清除會話記錄失敗", "error", err)
		}
		c.game.OnOpponentGone()
		if c.OnTerminal != nil {
			c.OnTerminal(ErrSessionLost)
		}
		return
	}

	c.logger.Info("房間錯誤", "message", message)
	if c.OnRoomError != nil {
		c.OnRoomError(message)
	}
}

// reconnect 對局中斷線的自動重連：固定次數、固定退避。
//
// 成功後以會話令牌請求重回原房間；全部失敗則轉為斷開並通知
// 終局錯誤。
func (c *Client) reconnect() {
	c.mu.Lock()
	hasSession := c.hasSession
	session := c.session
	if hasSession {
		c.state = StateReconnecting
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if !hasSession {
		return
	}

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-c.stopCh:
			return
		case <-time.After(reconnectBackoff):
		}

		c.logger.Info("嘗試重連", "attempt", attempt, "max", maxReconnectAttempts)

		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("重連失敗", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.state = StateConnected
		c.mu.Unlock()

		c.wg.Add(1)
		go c.readLoop(ws)

		c.SendEvent(relay.EventRejoinRoom, relay.RejoinRoomPayload{
			RoomID:       session.RoomID,
			SessionToken: session.SessionToken,
		})
		return
	}

	c.setState(StateDisconnected)
	c.logger.Error("重連次數耗盡", "attempts", maxReconnectAttempts)
	if c.OnTerminal != nil {
		c.OnTerminal(fmt.Errorf("重連 %d 次後放棄", maxReconnectAttempts))
	}
}

// tickLoop 以固定節奏推進對局會話
func (c *Client) tickLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.game.Advance(now)
		case <-c.stopCh:
			return
		}
	}
}

// timeSyncLoop 定期探測時鐘偏移
func (c *Client) timeSyncLoop() {
	defer c.wg.Done()

	sync := func() {
		c.SendEvent(relay.EventTimeSync, relay.TimeSyncPayload{
			ClientTime: time.Now().UnixMilli(),
		})
	}
	sync()

	ticker := time.NewTicker(timeSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sync()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
