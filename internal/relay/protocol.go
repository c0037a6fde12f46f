package relay

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Sender 把消息送往指定連接的出口。
//
// 由 WebSocket Hub 實現；協議測試用記錄型假實現替換。
type Sender interface {
	Send(connID string, kind EventKind, payload any)
}

// Protocol 會話協議狀態機。
//
// 每則進站消息由單一 goroutine 處理到完成（Hub 的讀取泵逐則
// 調用），房間變更在一次同步調用內讀-改-寫完成。廣播即發即忘，
// 傳輸層保證單連接內有序；跨連接的到達順序沒有保證，所以球與
// 比分的權威固定綁在 members[0]，不靠到達順序裁決。
//
// 失敗語義：房間不存在、未授權發送者都是非致命的，記日誌後
// 丟棄，或只對肇事連接回覆範圍化的錯誤事件，絕不波及房間內
// 其他成員或其他房間。
type Protocol struct {
	registry *Registry
	sender   Sender
	logger   *slog.Logger
}

// NewProtocol 創建協議處理器
func NewProtocol(registry *Registry, sender Sender, logger *slog.Logger) *Protocol {
	return &Protocol{
		registry: registry,
		sender:   sender,
		logger:   logger,
	}
}

// HandleMessage 分發一則進站消息。
//
// 封閉分發：事件種類的單一 switch，未知種類記日誌後丟棄。
func (p *Protocol) HandleMessage(connID string, raw []byte) {
	env, err := Decode(raw)
	if err != nil {
		p.logger.Warn("丟棄無法解析的消息", "conn_id", connID, "error", err)
		return
	}

	switch env.Event {
	case EventCreateRoom:
		p.handleCreateRoom(connID)
	case EventJoinRoom:
		p.handleJoinRoom(connID, env.Data)
	case EventRejoinRoom:
		p.handleRejoinRoom(connID, env.Data)
	case EventToggleReady:
		p.handleToggleReady(connID)
	case EventPaddleMove:
		p.handlePaddleMove(connID, env.Data)
	case EventBallMove:
		p.handleBallMove(connID, env.Data)
	case EventScore:
		p.handleScore(connID, env.Data)
	case EventPauseGame:
		p.handlePauseGame(connID, env.Data)
	case EventPlayerExit:
		p.handleExit(connID, EventPlayerExited)
	case EventRematchRequest:
		p.handleRematchRequest(connID)
	case EventRematchResponse:
		p.handleRematchResponse(connID, env.Data)
	case EventTimeSync:
		p.handleTimeSync(connID, env.Data)
	default:
		p.logger.Debug("丟棄未知事件", "conn_id", connID, "event", env.Event)
	}
}

// HandleDisconnect 處理傳輸層斷線：等同 playerExit，但通知事件
// 為 playerDisconnected。冪等：房間已清理時是無操作。
func (p *Protocol) HandleDisconnect(connID string) {
	p.handleExit(connID, EventPlayerDisconnected)
}

// handleCreateRoom 創建房間
func (p *Protocol) handleCreateRoom(connID string) {
	room, token := p.registry.CreateRoom(connID)

	p.sender.Send(connID, EventRoomCreated, RoomCreatedPayload{
		RoomID:       room.ID,
		SessionToken: token,
		Role:         RoleHost,
		ReadyState:   room.ReadySnapshot(),
	})
}

// handleJoinRoom 加入房間
func (p *Protocol) handleJoinRoom(connID string, data json.RawMessage) {
	var req JoinRoomPayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendRoomError(connID, wireJoinFailed)
		return
	}

	room, token, err := p.registry.JoinRoom(connID, req.RoomID)
	if err != nil {
		p.logger.Info("加入房間被拒", "conn_id", connID, "room_id", req.RoomID, "error", err)
		p.sendRoomError(connID, wireMessage(err))
		return
	}

	snapshot := room.ReadySnapshot()

	p.sender.Send(connID, EventRoomJoined, RoomJoinedPayload{
		RoomID:       room.ID,
		SessionToken: token,
		Role:         RoleGuest,
		ReadyState:   snapshot,
	})

	// 通知既有成員有人加入，並廣播完整快照讓所有端對齊
	if other, ok := room.Other(connID); ok {
		p.sender.Send(other, EventPlayerJoined, PlayerJoinedPayload{
			PlayerID:   connID,
			ReadyState: snapshot,
		})
	}
	p.broadcast(room, EventReadyStateUpdate, ReadyStateUpdatePayload{ReadyState: snapshot})
}

// handleRejoinRoom 令牌重連
func (p *Protocol) handleRejoinRoom(connID string, data json.RawMessage) {
	var req RejoinRoomPayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendRoomError(connID, wireJoinFailed)
		return
	}

	room, role, err := p.registry.RejoinRoom(connID, req.RoomID, req.SessionToken)
	if err != nil {
		p.logger.Info("重連被拒", "conn_id", connID, "room_id", req.RoomID, "error", err)
		p.sendRoomError(connID, wireMessage(err))
		return
	}

	snapshot := room.ReadySnapshot()
	p.sender.Send(connID, EventRoomRejoined, RoomRejoinedPayload{
		RoomID:     room.ID,
		Role:       role,
		ReadyState: snapshot,
	})
	p.broadcast(room, EventReadyStateUpdate, ReadyStateUpdatePayload{ReadyState: snapshot})
}

// handleToggleReady 翻轉準備旗標；全員準備且滿員時發出 gameReady
func (p *Protocol) handleToggleReady(connID string) {
	room, ok := p.registry.RoomOf(connID)
	if !ok {
		p.logger.Debug("非房間成員的 toggleReady", "conn_id", connID)
		return
	}

	snapshot, allReady, err := room.ToggleReady(connID)
	if err != nil {
		p.logger.Debug("toggleReady 失敗", "conn_id", connID, "error", err)
		return
	}

	p.broadcast(room, EventReadyStateUpdate, ReadyStateUpdatePayload{ReadyState: snapshot})

	// 開局倒數由客戶端驅動，服務器只發出就緒信號
	if allReady {
		p.broadcast(room, EventGameReady, nil)
	}
}

// handlePaddleMove 轉發球拍位置給另一名成員。
//
// 加固：side 由服務器綁定到發送者的角色（主機=左，訪客=右），
// 客戶端提供的 side 不被信任，惡意訪客無法偽冒主機的球拍。
func (p *Protocol) handlePaddleMove(connID string, data json.RawMessage) {
	var req PaddleMovePayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Debug("丟棄格式錯誤的 paddleMove", "conn_id", connID, "error", err)
		return
	}

	room, ok := p.registry.RoomOf(connID)
	if !ok {
		return
	}
	role, ok := room.RoleOf(connID)
	if !ok {
		return
	}

	if owned := role.PaddleSide(); req.PaddleSide != owned {
		p.logger.Warn("修正球拍 side 與角色不符",
			"conn_id", connID,
			"claimed", req.PaddleSide,
			"bound", owned)
		req.PaddleSide = owned
	}

	if other, ok := room.Other(connID); ok {
		p.sender.Send(other, EventPaddleUpdate, req)
	}
}

// handleBallMove 轉發球狀態給訪客。只接受主機的球更新；
// 其他發送者靜默丟棄（只記日誌，不回錯誤，不洩漏權威細節）。
func (p *Protocol) handleBallMove(connID string, data json.RawMessage) {
	room, ok := p.registry.RoomOf(connID)
	if !ok {
		return
	}

	if !room.IsHost(connID) {
		p.logger.Info("丟棄非主機的球更新", "conn_id", connID, "room_id", room.ID)
		return
	}

	var req BallMovePayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Debug("丟棄格式錯誤的 ballMove", "conn_id", connID, "error", err)
		return
	}

	if other, ok := room.Other(connID); ok {
		p.sender.Send(other, EventBallUpdate, req)
	}
}

// handleScore 廣播比分給整個房間（含發送者），附服務器時間戳。
// 只接受主機；勝負判定是客戶端的責任，服務器不評估。
func (p *Protocol) handleScore(connID string, data json.RawMessage) {
	room, ok := p.registry.RoomOf(connID)
	if !ok {
		return
	}

	if !room.IsHost(connID) {
		p.logger.Info("丟棄非主機的比分更新", "conn_id", connID, "room_id", room.ID)
		return
	}

	var req ScorePayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Debug("丟棄格式錯誤的 score", "conn_id", connID, "error", err)
		return
	}

	p.broadcast(room, EventScoreUpdate, ScoreUpdatePayload{
		Score:     req.Score,
		Scorer:    req.Scorer,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handlePauseGame 廣播暫停狀態。
//
// 任一成員都可以暫停或恢復（寬鬆策略，與原始 UX 一致）；
// 廣播帶上發起者與服務器時間戳供客戶端歸因。
func (p *Protocol) handlePauseGame(connID string, data json.RawMessage) {
	var req PauseGamePayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Debug("丟棄格式錯誤的 pauseGame", "conn_id", connID, "error", err)
		return
	}

	room, ok := p.registry.RoomOf(connID)
	if !ok {
		return
	}

	p.broadcast(room, EventPauseUpdate, PauseUpdatePayload{
		IsPaused:       req.IsPaused,
		CountdownValue: req.CountdownValue,
		Timestamp:      time.Now().UnixMilli(),
		From:           connID,
	})
}

// handleExit 離開房間：通知留下的成員並清理。
// notifyKind 區分主動退出（playerExited）與斷線（playerDisconnected）。
func (p *Protocol) handleExit(connID string, notifyKind EventKind) {
	for _, result := range p.registry.LeaveAll(connID) {
		for _, remaining := range result.Remaining {
			// 附上收件方的新有效角色：主機離開時訪客遞補為
			// members[0]，升格必須隨通知送達
			role, _ := result.Room.RoleOf(remaining)
			p.sender.Send(remaining, notifyKind, PlayerExitedPayload{Role: role})
		}
		if !result.Deleted {
			// 留下的成員拿到更新後的快照；準備旗標保留不強制重置
			p.broadcast(result.Room, EventReadyStateUpdate, ReadyStateUpdatePayload{
				ReadyState: result.Room.ReadySnapshot(),
			})
		}
	}
}

// handleRematchRequest 再戰請求：重置準備旗標並轉發給對方
func (p *Protocol) handleRematchRequest(connID string) {
	room, ok := p.registry.RoomOf(connID)
	if !ok {
		return
	}

	snapshot := room.ResetReady()
	p.broadcast(room, EventReadyStateUpdate, ReadyStateUpdatePayload{ReadyState: snapshot})

	if other, ok := room.Other(connID); ok {
		p.sender.Send(other, EventRematchRequest, RematchRequestPayload{RoomID: room.ID})
	}
}

// handleRematchResponse 再戰回應：接受則廣播 rematchAccepted，
// 拒絕則只通知請求方
func (p *Protocol) handleRematchResponse(connID string, data json.RawMessage) {
	var req RematchResponsePayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Debug("丟棄格式錯誤的 rematchResponse", "conn_id", connID, "error", err)
		return
	}

	room, ok := p.registry.RoomOf(connID)
	if !ok {
		return
	}

	if req.Accepted {
		snapshot := room.ResetReady()
		p.broadcast(room, EventReadyStateUpdate, ReadyStateUpdatePayload{ReadyState: snapshot})
		p.broadcast(room, EventRematchAccepted, nil)
		return
	}

	if other, ok := room.Other(connID); ok {
		p.sender.Send(other, EventRematchDeclined, nil)
	}
}

// handleTimeSync 時間戳往返：回傳客戶端時間與服務器時間，
// 客戶端據此估算時鐘偏移
func (p *Protocol) handleTimeSync(connID string, data json.RawMessage) {
	var req TimeSyncPayload
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Debug("丟棄格式錯誤的 timeSync", "conn_id", connID, "error", err)
		return
	}

	p.sender.Send(connID, EventTimeSyncResult, TimeSyncResultPayload{
		ClientTime: req.ClientTime,
		ServerTime: time.Now().UnixMilli(),
	})
}

// broadcast 發送給房間全部成員
func (p *Protocol) broadcast(room *Room, kind EventKind, payload any) {
	for _, id := range room.MemberIDs() {
		p.sender.Send(id, kind, payload)
	}
}

// sendRoomError 對單一連接回覆範圍化的房間錯誤
func (p *Protocol) sendRoomError(connID, message string) {
	p.sender.Send(connID, EventRoomError, RoomErrorPayload{Message: message})
}
