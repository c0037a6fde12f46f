// Package client 實現對局客戶端：連接狀態機、會話持久化、
// 對手狀態的和解（reconciliation）與對局流程控制。
//
// 客戶端與服務器的分工：服務器只做房間管理與消息中繼，
// 對局邏輯（物理、倒數、勝負）全部在客戶端。主機端跑權威
// 模擬，訪客端以插值與時鐘對齊重建近似狀態。
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
)

// Session 可重連的會話記錄。
//
// 持久化到客戶端本地，頁面重載（進程重啟）後憑令牌靜默回到
// 原房間；令牌只在房間仍存在時有效。
type Session struct {
	RoomID       string     `json:"roomId"`
	SessionToken string     `json:"sessionToken"`
	Role         relay.Role `json:"role"`
}

// SessionStore 會話記錄的持久化介面
type SessionStore interface {
	Load() (Session, bool)
	Save(session Session) error
	Clear() error
}

// FileStore 以單一 JSON 檔保存會話記錄
type FileStore struct {
	path string
}

// NewFileStore 創建檔案存儲；路徑上的目錄會在保存時建立
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load 讀取會話記錄；檔案不存在或無法解析視為沒有會話
func (s *FileStore) Load() (Session, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Session{}, false
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, false
	}
	if session.RoomID == "" || session.SessionToken == "" {
		return Session{}, false
	}
	return session, true
}

// Save 寫入會話記錄
func (s *FileStore) Save(session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("編碼會話記錄失敗: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("建立會話目錄失敗: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("寫入會話記錄失敗: %w", err)
	}
	return nil
}

// Clear 刪除會話記錄；檔案不存在是無操作
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("刪除會話記錄失敗: %w", err)
	}
	return nil
}

// MemStore 內存會話存儲。
//
// 兩種用途：測試替身，以及檔案存儲故障時的靜默降級。持久化
// 失敗絕不阻擋對局，只是重載後回不了房間。
type MemStore struct {
	mu      sync.Mutex
	session Session
	ok      bool
}

// NewMemStore 創建內存存儲
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Load() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.ok
}

func (s *MemStore) Save(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.ok = true
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = Session{}
	s.ok = false
	return nil
}
