package relay_test

import (
	"testing"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoom_AddMember 測試成員加入與角色分配
func TestRoom_AddMember(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(r *relay.Room)
		connID    string
		expectErr error
		validate  func(t *testing.T, r *relay.Room, role relay.Role)
	}{
		{
			name:   "first member becomes host",
			setup:  func(r *relay.Room) {},
			connID: "conn_1",
			validate: func(t *testing.T, r *relay.Room, role relay.Role) {
				assert.Equal(t, relay.RoleHost, role)
				assert.Equal(t, 1, r.Len())
				assert.True(t, r.IsHost("conn_1"))
			},
		},
		{
			name: "second member becomes guest",
			setup: func(r *relay.Room) {
				_, err := r.AddMember("conn_1", "tok_1")
				require.NoError(t, err)
			},
			connID: "conn_2",
			validate: func(t *testing.T, r *relay.Room, role relay.Role) {
				assert.Equal(t, relay.RoleGuest, role)
				assert.Equal(t, 2, r.Len())
				assert.False(t, r.IsHost("conn_2"))
			},
		},
		{
			name: "third member rejected",
			setup: func(r *relay.Room) {
				_, err := r.AddMember("conn_1", "tok_1")
				require.NoError(t, err)
				_, err = r.AddMember("conn_2", "tok_2")
				require.NoError(t, err)
			},
			connID:    "conn_3",
			expectErr: relay.ErrRoomFull,
			validate: func(t *testing.T, r *relay.Room, _ relay.Role) {
				// 滿房間保持不變
				assert.Equal(t, 2, r.Len())
				assert.Equal(t, []string{"conn_1", "conn_2"}, r.MemberIDs())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := relay.NewRoom("ABC123")
			tt.setup(room)

			role, err := room.AddMember(tt.connID, "tok_x")
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
			} else {
				require.NoError(t, err)
			}
			tt.validate(t, room, role)
		})
	}
}

// TestRoom_ReadyStateMatchesMembers 測試準備快照與成員一致
func TestRoom_ReadyStateMatchesMembers(t *testing.T) {
	room := relay.NewRoom("ABC123")

	check := func() {
		snapshot := room.ReadySnapshot()
		ids := room.MemberIDs()
		require.Len(t, snapshot, len(ids))
		for i, entry := range snapshot {
			assert.Equal(t, ids[i], entry.ID)
		}
	}

	room.AddMember("conn_1", "tok_1")
	check()
	room.AddMember("conn_2", "tok_2")
	check()
	room.RemoveMember("conn_1")
	check()
	room.RemoveMember("conn_2")
	check()
	assert.Empty(t, room.ReadySnapshot())
}

// TestRoom_RemoveMember 測試移除冪等
func TestRoom_RemoveMember(t *testing.T) {
	room := relay.NewRoom("ABC123")
	room.AddMember("conn_1", "tok_1")
	room.AddMember("conn_2", "tok_2")

	assert.True(t, room.RemoveMember("conn_1"))
	assert.Equal(t, 1, room.Len())

	// 第二次移除同一成員是無操作
	assert.False(t, room.RemoveMember("conn_1"))
	assert.Equal(t, 1, room.Len())

	// 留下的成員升格：原訪客現在是 members[0]
	assert.True(t, room.IsHost("conn_2"))
}

// TestRoom_RemoveMemberPreservesReady 測試離開不強制重置留存者的準備旗標
func TestRoom_RemoveMemberPreservesReady(t *testing.T) {
	room := relay.NewRoom("ABC123")
	room.AddMember("conn_1", "tok_1")
	room.AddMember("conn_2", "tok_2")

	_, _, err := room.ToggleReady("conn_2")
	require.NoError(t, err)

	room.RemoveMember("conn_1")

	snapshot := room.ReadySnapshot()
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].Ready, "留存成員的準備旗標應保留")
	// 但房間不再滿員，準備無法觸發開局
	assert.Equal(t, relay.PhaseLobby, room.Phase())
}

// TestRoom_ToggleReady 測試準備旗標翻轉
func TestRoom_ToggleReady(t *testing.T) {
	room := relay.NewRoom("ABC123")
	room.AddMember("conn_1", "tok_1")
	room.AddMember("conn_2", "tok_2")

	t.Run("round trip restores original value", func(t *testing.T) {
		snapshot, _, err := room.ToggleReady("conn_1")
		require.NoError(t, err)
		assert.True(t, snapshot[0].Ready)

		snapshot, _, err = room.ToggleReady("conn_1")
		require.NoError(t, err)
		assert.False(t, snapshot[0].Ready)
	})

	t.Run("all ready only when both toggled", func(t *testing.T) {
		_, allReady, err := room.ToggleReady("conn_1")
		require.NoError(t, err)
		assert.False(t, allReady)

		_, allReady, err = room.ToggleReady("conn_2")
		require.NoError(t, err)
		assert.True(t, allReady)
		assert.Equal(t, relay.PhaseReady, room.Phase())
	})

	t.Run("non member error", func(t *testing.T) {
		_, _, err := room.ToggleReady("conn_999")
		assert.ErrorIs(t, err, relay.ErrNotMember)
	})
}

// TestRoom_ResetReady 測試再戰時的準備重置
func TestRoom_ResetReady(t *testing.T) {
	room := relay.NewRoom("ABC123")
	room.AddMember("conn_1", "tok_1")
	room.AddMember("conn_2", "tok_2")
	room.ToggleReady("conn_1")
	room.ToggleReady("conn_2")

	snapshot := room.ResetReady()
	require.Len(t, snapshot, 2)
	for _, entry := range snapshot {
		assert.False(t, entry.Ready)
	}
	assert.Equal(t, relay.PhaseReadyCheck, room.Phase())
}

// TestRoom_Rebind 測試令牌重連保留角色
func TestRoom_Rebind(t *testing.T) {
	room := relay.NewRoom("ABC123")
	room.AddMember("conn_1", "tok_host")
	room.AddMember("conn_2", "tok_guest")

	role, err := room.Rebind("tok_host", "conn_1b")
	require.NoError(t, err)
	assert.Equal(t, relay.RoleHost, role)
	assert.True(t, room.IsHost("conn_1b"))

	// 原連接 ID 不再是成員
	_, ok := room.RoleOf("conn_1")
	assert.False(t, ok)

	// 無效令牌
	_, err = room.Rebind("tok_bogus", "conn_x")
	assert.ErrorIs(t, err, relay.ErrInvalidToken)
}

// TestRoom_Other 測試取得對方成員
func TestRoom_Other(t *testing.T) {
	room := relay.NewRoom("ABC123")
	room.AddMember("conn_1", "tok_1")

	_, ok := room.Other("conn_1")
	assert.False(t, ok)

	room.AddMember("conn_2", "tok_2")
	other, ok := room.Other("conn_1")
	require.True(t, ok)
	assert.Equal(t, "conn_2", other)
}

// TestRoom_IsExpired 測試過期判斷
func TestRoom_IsExpired(t *testing.T) {
	room := relay.NewRoom("ABC123")
	now := time.Now()

	assert.False(t, room.IsExpired(now, time.Minute, time.Hour))

	// 空房間超過 emptyTTL
	assert.True(t, room.IsExpired(now.Add(2*time.Minute), time.Minute, time.Hour))

	// 有成員的房間不因 emptyTTL 過期
	room.AddMember("conn_1", "tok_1")
	assert.False(t, room.IsExpired(now.Add(2*time.Minute), time.Minute, time.Hour))

	// 超過 roomTTL 一律過期
	assert.True(t, room.IsExpired(now.Add(2*time.Hour), time.Minute, time.Hour))
}
