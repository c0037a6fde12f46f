package relay

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 房間代碼參數：6 位大寫字母數字，代碼空間約 21 億，
// 碰撞實務上幾乎不可能，仍以重新生成處理
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// Registry 活躍房間的內存註冊表。
//
// 這是整個服務器唯一的共享可變資源：只有協議處理器會變更它，
// 而且每次變更都在單次同步處理調用內完成讀-改-寫。
//
// 顯式構造、顯式注入：註冊表在進程啟動時構造一次，以引用傳給
// 各處理器。不是包級單例，測試可以建立多個互相隔離的實例。
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room  // 房間代碼 -> 房間
	memberRoom map[string]string // 連接 ID -> 房間代碼

	logger   *slog.Logger
	emptyTTL time.Duration
	roomTTL  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry 創建註冊表並啟動過期房間清理循環
func NewRegistry(logger *slog.Logger, emptyTTL, roomTTL time.Duration) *Registry {
	reg := &Registry{
		rooms:      make(map[string]*Room),
		memberRoom: make(map[string]string),
		logger:     logger,
		emptyTTL:   emptyTTL,
		roomTTL:    roomTTL,
		stopCh:     make(chan struct{}),
	}

	reg.wg.Add(1)
	go reg.cleanupLoop()

	return reg
}

// CreateRoom 創建房間並把連接註冊為唯一成員（主機）。
//
// 永遠成功：代碼碰撞以重新生成解決。
func (reg *Registry) CreateRoom(connID string) (*Room, string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var code string
	for {
		code = generateCode()
		if _, exists := reg.rooms[code]; !exists {
			break
		}
	}

	room := NewRoom(code)
	token := uuid.NewString()
	// 空房間加入首名成員不可能失敗
	_, _ = room.AddMember(connID, token)

	reg.rooms[code] = room
	reg.memberRoom[connID] = code

	reg.logger.Info("房間已創建", "room_id", code, "host", connID)
	return room, token
}

// JoinRoom 把連接加入既有房間（訪客）
func (reg *Registry) JoinRoom(connID, roomID string) (*Room, string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, exists := reg.rooms[roomID]
	if !exists {
		return nil, "", ErrRoomNotFound
	}

	token := uuid.NewString()
	if _, err := room.AddMember(connID, token); err != nil {
		return nil, "", err
	}

	reg.memberRoom[connID] = roomID

	reg.logger.Info("玩家加入房間", "room_id", roomID, "conn_id", connID)
	return room, token, nil
}

// RejoinRoom 以會話令牌把新連接重新綁定到原成員槽位。
//
// 房間已被刪除時回傳 ErrRoomNotFound，客戶端據此放棄重連，
// 呈現終局性的「會話遺失」而不是無限重試。
func (reg *Registry) RejoinRoom(connID, roomID, token string) (*Room, Role, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, exists := reg.rooms[roomID]
	if !exists {
		return nil, "", ErrRoomNotFound
	}

	role, err := room.Rebind(token, connID)
	if err != nil {
		return nil, "", err
	}

	// 清掉舊連接的索引，綁定新連接
	for id, rid := range reg.memberRoom {
		if rid == roomID {
			if _, stillMember := room.RoleOf(id); !stillMember {
				delete(reg.memberRoom, id)
			}
		}
	}
	reg.memberRoom[connID] = roomID

	reg.logger.Info("玩家重連回房間", "room_id", roomID, "conn_id", connID, "role", role)
	return room, role, nil
}

// Room 以代碼查詢房間
func (reg *Registry) Room(roomID string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, exists := reg.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RoomOf 查詢連接所在的房間
func (reg *Registry) RoomOf(connID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	roomID, exists := reg.memberRoom[connID]
	if !exists {
		return nil, false
	}
	room, exists := reg.rooms[roomID]
	return room, exists
}

// LeaveResult 離開操作的結果，供協議層決定要通知誰
type LeaveResult struct {
	Room      *Room
	Remaining []string // 留在房間的成員
	Deleted   bool     // 房間因清空而被刪除
}

// LeaveAll 把連接從所有包含它的房間移除。
//
// 防禦性掃描：一個連接預期最多屬於一個房間，但清理仍然遍歷
// 全表，確保索引不一致時也能收斂。冪等：已清理過的連接再次
// 調用是無操作。
func (reg *Registry) LeaveAll(connID string) []LeaveResult {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.memberRoom, connID)

	var results []LeaveResult
	for code, room := range reg.rooms {
		if !room.RemoveMember(connID) {
			continue
		}

		result := LeaveResult{Room: room, Remaining: room.MemberIDs()}
		if room.Len() == 0 {
			delete(reg.rooms, code)
			result.Deleted = true
			reg.logger.Info("空房間已刪除", "room_id", code)
		} else {
			reg.logger.Info("玩家離開房間", "room_id", code, "conn_id", connID)
		}
		results = append(results, result)
	}

	return results
}

// Stats 註冊表統計
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	phaseCount := make(map[Phase]int)
	totalMembers := 0
	for _, room := range reg.rooms {
		phaseCount[room.Phase()]++
		totalMembers += room.Len()
	}

	return map[string]any{
		"total_rooms":   len(reg.rooms),
		"total_members": totalMembers,
		"by_phase":      phaseCount,
	}
}

// Cleanup 立即執行一次過期回收（供測試使用）
func (reg *Registry) Cleanup() {
	reg.cleanup()
}

// cleanupLoop 定期回收過期房間
func (reg *Registry) cleanupLoop() {
	defer reg.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reg.cleanup()
		case <-reg.stopCh:
			return
		}
	}
}

func (reg *Registry) cleanup() {
	now := time.Now()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	for code, room := range reg.rooms {
		if !room.IsExpired(now, reg.emptyTTL, reg.roomTTL) {
			continue
		}

		for _, id := range room.MemberIDs() {
			delete(reg.memberRoom, id)
		}
		delete(reg.rooms, code)
		reg.logger.Info("過期房間已回收", "room_id", code)
	}
}

// Stop 停止清理循環
func (reg *Registry) Stop() {
	reg.stopOnce.Do(func() {
		close(reg.stopCh)
	})
	reg.wg.Wait()
}

// generateCode 生成 6 位大寫字母數字房間代碼
func generateCode() string {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		// 隨機源失敗時退回時間戳派生
		ns := time.Now().UnixNano()
		for i := range b {
			b[i] = codeAlphabet[int(ns>>uint(i*5))%len(codeAlphabet)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
