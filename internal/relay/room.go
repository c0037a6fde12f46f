package relay

import (
	"slices"
	"sync"
	"time"
)

// MaxMembers 每房間成員上限：恰好兩名玩家
const MaxMembers = 2

// Phase 房間所處的會話階段。
//
// 服務器只追蹤成員與準備狀態能推導的階段；Starting 之後的
// 對局流程（倒數、進行、暫停、結束）由客戶端驅動，服務器
// 僅在全員準備時發出 gameReady 信號。
type Phase string

const (
	PhaseLobby      Phase = "lobby"       // 少於兩名成員
	PhaseReadyCheck Phase = "ready_check" // 兩名成員，尚未全員準備
	PhaseReady      Phase = "ready"       // 全員準備完成
)

// member 房間成員：連接 ID、重連令牌與準備旗標
type member struct {
	id    string
	token string
	ready bool
}

// Room 一場雙人對戰會話。
//
// 設計不變量：
//   - members 的順序決定角色：members[0] 為主機（權威），
//     members[1] 為訪客
//   - 準備旗標與成員一一對應（同一結構持有），不可能出現
//     孤兒準備項
//   - len(members) <= 2
//
// 併發控制：RWMutex。協議處理器的讀-改-寫都在單次同步調用內
// 完成，鎖只防止跨連接 goroutine 的交錯。
type Room struct {
	ID string

	mu         sync.RWMutex
	members    []*member
	departed   map[string]bool // 已離開成員的會話令牌，供重連重新入座
	createdAt  time.Time
	lastActive time.Time
}

// NewRoom 創建房間
func NewRoom(id string) *Room {
	now := time.Now()
	return &Room{
		ID:         id,
		departed:   make(map[string]bool),
		createdAt:  now,
		lastActive: now,
	}
}

// AddMember 加入成員，回傳分配的角色
func (r *Room) AddMember(connID, token string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) >= MaxMembers {
		return "", ErrRoomFull
	}

	r.members = append(r.members, &member{id: connID, token: token})
	r.touch()

	if len(r.members) == 1 {
		return RoleHost, nil
	}
	return RoleGuest, nil
}

// RemoveMember 移除成員；成員不存在時回傳 false（冪等）
func (r *Room) RemoveMember(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.members, func(m *member) bool { return m.id == connID })
	if idx < 0 {
		return false
	}

	// 令牌留存：斷線等同退出會移除成員，但頁面重載的重連
	// 仍需憑令牌回到房間
	r.departed[r.members[idx].token] = true
	r.members = slices.Delete(r.members, idx, idx+1)
	r.touch()
	return true
}

// Rebind 用會話令牌把新連接重新綁定回房間（頁面重載後重連）。
//
// 兩種情況：斷線尚未被處理時成員槽位還在，直接換綁連接 ID；
// 斷線清理已移除成員時，憑留存的令牌重新入座。角色一律由
// 入座後的位置決定：原主機斷線期間若訪客已升格，重連者以
// 訪客身份回來，由 roomRejoined 告知新角色。
func (r *Room) Rebind(token, newConnID string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.members {
		if m.token == token {
			m.id = newConnID
			r.touch()
			if i == 0 {
				return RoleHost, nil
			}
			return RoleGuest, nil
		}
	}

	if !r.departed[token] {
		return "", ErrInvalidToken
	}
	if len(r.members) >= MaxMembers {
		return "", ErrRoomFull
	}

	delete(r.departed, token)
	r.members = append(r.members, &member{id: newConnID, token: token})
	r.touch()

	if len(r.members) == 1 {
		return RoleHost, nil
	}
	return RoleGuest, nil
}

// ToggleReady 翻轉成員的準備旗標，回傳新快照與是否可以開局
// （全員準備且滿員）
func (r *Room) ToggleReady(connID string) (ReadyState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.members, func(m *member) bool { return m.id == connID })
	if idx < 0 {
		return nil, false, ErrNotMember
	}

	r.members[idx].ready = !r.members[idx].ready
	r.touch()

	snapshot := r.snapshotLocked()
	return snapshot, len(r.members) == MaxMembers && snapshot.AllReady(), nil
}

// ResetReady 把全部準備旗標歸零（再戰協商時使用）
func (r *Room) ResetReady() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		m.ready = false
	}
	r.touch()
	return r.snapshotLocked()
}

// ReadySnapshot 取得插入序的準備狀態快照
func (r *Room) ReadySnapshot() ReadyState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() ReadyState {
	snapshot := make(ReadyState, len(r.members))
	for i, m := range r.members {
		snapshot[i] = ReadyEntry{ID: m.id, Ready: m.ready}
	}
	return snapshot
}

// RoleOf 查詢連接在房間中的角色
func (r *Room) RoleOf(connID string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, m := range r.members {
		if m.id == connID {
			if i == 0 {
				return RoleHost, true
			}
			return RoleGuest, true
		}
	}
	return "", false
}

// IsHost 連接是否為主機（members[0]）
func (r *Room) IsHost(connID string) bool {
	role, ok := r.RoleOf(connID)
	return ok && role == RoleHost
}

// Other 取得另一名成員的連接 ID
func (r *Room) Other(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.id != connID {
			return m.id, true
		}
	}
	return "", false
}

// MemberIDs 目前成員的連接 ID（插入序）
func (r *Room) MemberIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.id
	}
	return ids
}

// Len 成員數
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Phase 目前會話階段
func (r *Room) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.members) < MaxMembers {
		return PhaseLobby
	}
	if r.snapshotLocked().AllReady() {
		return PhaseReady
	}
	return PhaseReadyCheck
}

// IsExpired 房間是否應被回收：空房超過 emptyTTL，或存活超過 roomTTL
func (r *Room) IsExpired(now time.Time, emptyTTL, roomTTL time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if now.Sub(r.createdAt) > roomTTL {
		return true
	}
	return len(r.members) == 0 && now.Sub(r.lastActive) > emptyTTL
}

// touch 更新活動時間（需持有寫鎖）
func (r *Room) touch() {
	r.lastActive = time.Now()
}
