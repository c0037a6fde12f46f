package relay

import (
	"encoding/json"
	"fmt"

	"github.com/koopa0/system-design/14-pong-relay/internal/game"
)

// EventKind 消息種類。
//
// 封閉集合設計：所有線上事件都列舉在這裡，協議分發是對種類的
// 單一 switch，而不是開放的字串鍵處理表：新增事件時漏接分支
// 會在 code review 直接可見。
type EventKind string

// 客戶端 → 服務器
const (
	EventCreateRoom      EventKind = "createRoom"
	EventJoinRoom        EventKind = "joinRoom"
	EventRejoinRoom      EventKind = "rejoinRoom"
	EventToggleReady     EventKind = "toggleReady"
	EventPaddleMove      EventKind = "paddleMove"
	EventBallMove        EventKind = "ballMove"
	EventScore           EventKind = "score"
	EventPauseGame       EventKind = "pauseGame"
	EventPlayerExit      EventKind = "playerExit"
	EventRematchRequest  EventKind = "rematchRequest"
	EventRematchResponse EventKind = "rematchResponse"
	EventTimeSync        EventKind = "timeSync"
)

// 服務器 → 客戶端
const (
	EventRoomCreated        EventKind = "roomCreated"
	EventRoomJoined         EventKind = "roomJoined"
	EventRoomRejoined       EventKind = "roomRejoined"
	EventRoomError          EventKind = "roomError"
	EventPlayerJoined       EventKind = "playerJoined"
	EventReadyStateUpdate   EventKind = "readyStateUpdate"
	EventGameReady          EventKind = "gameReady"
	EventPaddleUpdate       EventKind = "paddleUpdate"
	EventBallUpdate         EventKind = "ballUpdate"
	EventScoreUpdate        EventKind = "scoreUpdate"
	EventPauseUpdate        EventKind = "pauseUpdate"
	EventPlayerExited       EventKind = "playerExited"
	EventPlayerDisconnected EventKind = "playerDisconnected"
	EventRematchAccepted    EventKind = "rematchAccepted"
	EventRematchDeclined    EventKind = "rematchDeclined"
	EventTimeSyncResult     EventKind = "timeSyncResult"
)

// Role 房間成員角色：members[0] 為主機，是球與比分的唯一權威
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// PaddleSide 角色對應的球拍側：主機控制左拍，訪客控制右拍
func (r Role) PaddleSide() game.Side {
	if r == RoleHost {
		return game.SideLeft
	}
	return game.SideRight
}

// Envelope 線上消息信封
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 編碼一則消息
func Encode(kind EventKind, payload any) ([]byte, error) {
	env := Envelope{Event: kind}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("編碼 %s 負載失敗: %w", kind, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

// Decode 解碼信封；負載留在 Data 由各處理器解析
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("解碼消息信封失敗: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("消息缺少事件種類")
	}
	return env, nil
}

// ReadyEntry 準備狀態快照中的一項，序列化為 [connectionId, ready] 對
type ReadyEntry struct {
	ID    string
	Ready bool
}

// MarshalJSON 實現 [id, ready] 對的序列化
func (e ReadyEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.ID, e.Ready})
}

// UnmarshalJSON 解析 [id, ready] 對
func (e *ReadyEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.ID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &e.Ready)
}

// ReadyState 插入序的準備狀態快照。
//
// 每次成員或準備狀態變更都廣播完整快照，客戶端不需要先前狀態
// 即可對齊。
type ReadyState []ReadyEntry

// AllReady 是否全員準備完成
func (rs ReadyState) AllReady() bool {
	for _, e := range rs {
		if !e.Ready {
			return false
		}
	}
	return len(rs) > 0
}

// 負載定義

type RoomCreatedPayload struct {
	RoomID       string     `json:"roomId"`
	SessionToken string     `json:"sessionToken"`
	Role         Role       `json:"role"`
	ReadyState   ReadyState `json:"readyState"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type RoomJoinedPayload struct {
	RoomID       string     `json:"roomId"`
	SessionToken string     `json:"sessionToken"`
	Role         Role       `json:"role"`
	ReadyState   ReadyState `json:"readyState"`
}

type RejoinRoomPayload struct {
	RoomID       string `json:"roomId"`
	SessionToken string `json:"sessionToken"`
}

type RoomRejoinedPayload struct {
	RoomID     string     `json:"roomId"`
	Role       Role       `json:"role"`
	ReadyState ReadyState `json:"readyState"`
}

type RoomErrorPayload struct {
	Message string `json:"message"`
}

type PlayerJoinedPayload struct {
	PlayerID   string     `json:"playerId"`
	ReadyState ReadyState `json:"readyState"`
}

type ToggleReadyPayload struct {
	RoomID string `json:"roomId"`
}

type ReadyStateUpdatePayload struct {
	ReadyState ReadyState `json:"readyState"`
}

type PaddleMovePayload struct {
	Position   float64   `json:"position"`
	PaddleSide game.Side `json:"paddleSide"`
	Timestamp  int64     `json:"timestamp"`
}

type BallMovePayload struct {
	Position  game.Vec `json:"position"`
	Velocity  game.Vec `json:"velocity"`
	Timestamp int64    `json:"timestamp"`
}

type ScorePayload struct {
	Score  game.Score `json:"score"`
	Scorer game.Side  `json:"scorer"`
}

type ScoreUpdatePayload struct {
	Score     game.Score `json:"score"`
	Scorer    game.Side  `json:"scorer"`
	Timestamp int64      `json:"timestamp"`
}

type PauseGamePayload struct {
	IsPaused       bool `json:"isPaused"`
	CountdownValue int  `json:"countdownValue"`
}

type PauseUpdatePayload struct {
	IsPaused       bool   `json:"isPaused"`
	CountdownValue int    `json:"countdownValue"`
	Timestamp      int64  `json:"timestamp"`
	From           string `json:"from"`
}

type PlayerExitPayload struct {
	RoomID string `json:"roomId"`
}

// PlayerExitedPayload 對手離開的通知（playerExited 與
// playerDisconnected 共用）。Role 是收件成員在成員縮減後的
// 有效角色：主機離開時倖存的訪客升格為主機，必須得知升格
// 才能在下一局接手權威模擬。
type PlayerExitedPayload struct {
	Role Role `json:"role"`
}

type RematchRequestPayload struct {
	RoomID string `json:"roomId"`
}

type RematchResponsePayload struct {
	RoomID   string `json:"roomId"`
	Accepted bool   `json:"accepted"`
}

type TimeSyncPayload struct {
	ClientTime int64 `json:"clientTime"`
}

type TimeSyncResultPayload struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}
