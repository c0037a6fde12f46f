package relay_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *relay.Registry {
	t.Helper()
	reg := relay.NewRegistry(testLogger(), time.Minute, 2*time.Hour)
	t.Cleanup(reg.Stop)
	return reg
}

// TestRegistry_CreateRoom 測試房間創建
func TestRegistry_CreateRoom(t *testing.T) {
	reg := newTestRegistry(t)

	room, token := reg.CreateRoom("conn_1")
	require.NotNil(t, room)
	assert.Len(t, room.ID, 6)
	assert.NotEmpty(t, token)
	assert.True(t, room.IsHost("conn_1"))

	// 索引已建立
	found, ok := reg.RoomOf("conn_1")
	require.True(t, ok)
	assert.Equal(t, room.ID, found.ID)
}

// TestRegistry_CreateRoomUniqueCodes 測試代碼不重複
func TestRegistry_CreateRoomUniqueCodes(t *testing.T) {
	reg := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		room, _ := reg.CreateRoom("conn_creator")
		assert.False(t, seen[room.ID], "房間代碼重複: %s", room.ID)
		seen[room.ID] = true
	}
}

// TestRegistry_JoinRoom 測試加入房間
func TestRegistry_JoinRoom(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(reg *relay.Registry) string // 回傳要加入的房間代碼
		connID    string
		expectErr error
	}{
		{
			name: "join existing room",
			setup: func(reg *relay.Registry) string {
				room, _ := reg.CreateRoom("conn_host")
				return room.ID
			},
			connID: "conn_guest",
		},
		{
			name: "room not found",
			setup: func(reg *relay.Registry) string {
				return "NOPE00"
			},
			connID:    "conn_guest",
			expectErr: relay.ErrRoomNotFound,
		},
		{
			name: "room full",
			setup: func(reg *relay.Registry) string {
				room, _ := reg.CreateRoom("conn_host")
				_, _, err := reg.JoinRoom("conn_guest", room.ID)
				require.NoError(t, err)
				return room.ID
			},
			connID:    "conn_third",
			expectErr: relay.ErrRoomFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			roomID := tt.setup(reg)

			room, token, err := reg.JoinRoom(tt.connID, roomID)
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
				// 失敗的加入不建立索引
				_, ok := reg.RoomOf(tt.connID)
				assert.False(t, ok)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, token)
			role, ok := room.RoleOf(tt.connID)
			require.True(t, ok)
			assert.Equal(t, relay.RoleGuest, role)
		})
	}
}

// TestRegistry_RejoinRoom 測試令牌重連
func TestRegistry_RejoinRoom(t *testing.T) {
	t.Run("live slot rebinds in place", func(t *testing.T) {
		reg := newTestRegistry(t)
		room, hostToken := reg.CreateRoom("conn_host")
		_, _, err := reg.JoinRoom("conn_guest", room.ID)
		require.NoError(t, err)

		// 斷線清理尚未發生，成員槽位還在：原地換綁，角色不變
		rejoined, role, err := reg.RejoinRoom("conn_host_2", room.ID, hostToken)
		require.NoError(t, err)
		assert.Equal(t, relay.RoleHost, role)
		assert.True(t, rejoined.IsHost("conn_host_2"))

		// 新連接的索引已建立
		found, ok := reg.RoomOf("conn_host_2")
		require.True(t, ok)
		assert.Equal(t, room.ID, found.ID)
	})

	t.Run("removed member readmitted by token", func(t *testing.T) {
		reg := newTestRegistry(t)
		room, hostToken := reg.CreateRoom("conn_host")
		_, _, err := reg.JoinRoom("conn_guest", room.ID)
		require.NoError(t, err)

		// 主機斷線清理已完成，訪客升格為 members[0]
		results := reg.LeaveAll("conn_host")
		require.Len(t, results, 1)
		require.False(t, results[0].Deleted)

		// 憑令牌重新入座，以新位置的角色回來
		rejoined, role, err := reg.RejoinRoom("conn_host_2", room.ID, hostToken)
		require.NoError(t, err)
		assert.Equal(t, relay.RoleGuest, role)
		assert.True(t, rejoined.IsHost("conn_guest"))
		assert.Equal(t, 2, rejoined.Len())
	})

	t.Run("deleted room is terminal", func(t *testing.T) {
		reg := newTestRegistry(t)
		room, token := reg.CreateRoom("conn_host")

		// 唯一成員離開，房間被刪除
		results := reg.LeaveAll("conn_host")
		require.Len(t, results, 1)
		assert.True(t, results[0].Deleted)

		_, _, err := reg.RejoinRoom("conn_host_2", room.ID, token)
		assert.ErrorIs(t, err, relay.ErrRoomNotFound)
	})

	t.Run("invalid token", func(t *testing.T) {
		reg := newTestRegistry(t)
		room, _ := reg.CreateRoom("conn_host")

		_, _, err := reg.RejoinRoom("conn_x", room.ID, "bogus")
		assert.ErrorIs(t, err, relay.ErrInvalidToken)
	})
}

// TestRegistry_LeaveAll 測試離開與冪等
func TestRegistry_LeaveAll(t *testing.T) {
	reg := newTestRegistry(t)
	room, _ := reg.CreateRoom("conn_host")
	_, _, err := reg.JoinRoom("conn_guest", room.ID)
	require.NoError(t, err)

	// 主機離開：房間保留，訪客留下
	results := reg.LeaveAll("conn_host")
	require.Len(t, results, 1)
	assert.False(t, results[0].Deleted)
	assert.Equal(t, []string{"conn_guest"}, results[0].Remaining)

	// 再次離開是無操作
	assert.Empty(t, reg.LeaveAll("conn_host"))

	// 最後一人離開：房間刪除
	results = reg.LeaveAll("conn_guest")
	require.Len(t, results, 1)
	assert.True(t, results[0].Deleted)

	_, err = reg.Room(room.ID)
	assert.ErrorIs(t, err, relay.ErrRoomNotFound)
}

// TestRegistry_Stats 測試統計
func TestRegistry_Stats(t *testing.T) {
	reg := newTestRegistry(t)
	room, _ := reg.CreateRoom("conn_1")
	_, _, err := reg.JoinRoom("conn_2", room.ID)
	require.NoError(t, err)
	reg.CreateRoom("conn_3")

	stats := reg.Stats()
	assert.Equal(t, 2, stats["total_rooms"])
	assert.Equal(t, 3, stats["total_members"])
}

// TestRegistry_Cleanup 測試過期房間回收
func TestRegistry_Cleanup(t *testing.T) {
	// roomTTL 取毫秒級：房間存活片刻即過期
	reg := relay.NewRegistry(testLogger(), time.Minute, time.Millisecond)
	t.Cleanup(reg.Stop)

	room, _ := reg.CreateRoom("conn_host")

	time.Sleep(10 * time.Millisecond)
	reg.Cleanup()

	_, err := reg.Room(room.ID)
	assert.ErrorIs(t, err, relay.ErrRoomNotFound)

	// 成員索引一併清除
	_, ok := reg.RoomOf("conn_host")
	assert.False(t, ok)
}
