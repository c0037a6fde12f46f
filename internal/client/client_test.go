package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRelay 啟動完整的中繼服務器，回傳 WebSocket URL
func newTestRelay(t *testing.T) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := relay.NewRegistry(logger, time.Minute, 2*time.Hour)
	hub := relay.NewHub(logger, nil)
	hub.Bind(relay.NewProtocol(registry, hub, logger))
	handler := relay.NewHandler(registry, hub, logger)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
		registry.Stop()
	})

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func newTestClient(t *testing.T, url string, store SessionStore) *Client {
	t.Helper()

	c := NewClient(url, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(c.Close)
	return c
}

// TestClient_LobbyFlow 端到端：創建、加入、準備到開局倒數
func TestClient_LobbyFlow(t *testing.T) {
	url := newTestRelay(t)

	host := newTestClient(t, url, NewMemStore())
	require.NoError(t, host.Connect(context.Background()))
	assert.Equal(t, StateConnected, host.State())

	host.CreateRoom()
	require.Eventually(t, func() bool { return host.RoomID() != "" },
		2*time.Second, 10*time.Millisecond, "等待 roomCreated")

	guest := newTestClient(t, url, NewMemStore())
	require.NoError(t, guest.Connect(context.Background()))

	guest.JoinRoom(host.RoomID())
	require.Eventually(t, func() bool { return guest.Game().Phase() == PhaseReadyCheck },
		2*time.Second, 10*time.Millisecond, "等待 roomJoined")
	assert.Equal(t, relay.RoleGuest, guest.Game().Role())

	host.ToggleReady()
	guest.ToggleReady()

	// 雙方都收到 gameReady，進入倒數
	for name, c := range map[string]*Client{"host": host, "guest": guest} {
		require.Eventually(t, func() bool { return c.Game().Phase() == PhaseStarting },
			2*time.Second, 10*time.Millisecond, "%s 未進入倒數", name)
	}
}

// TestClient_SessionLostIsTerminal 端到端：重連目標已消失
// → 終局錯誤，不無限重試
func TestClient_SessionLostIsTerminal(t *testing.T) {
	url := newTestRelay(t)

	store := NewMemStore()
	require.NoError(t, store.Save(Session{
		RoomID:       "GONE00",
		SessionToken: "tok_stale",
		Role:         relay.RoleHost,
	}))

	c := newTestClient(t, url, store)

	terminal := make(chan error, 1)
	c.OnTerminal = func(err error) { terminal <- err }

	require.NoError(t, c.Connect(context.Background()))

	select {
	case err := <-terminal:
		assert.ErrorIs(t, err, ErrSessionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("等待終局錯誤超時")
	}

	// 失效會話已清除
	_, ok := store.Load()
	assert.False(t, ok)
}

// TestClient_ExitClearsSession 端到端：主動退出清除持久化會話
func TestClient_ExitClearsSession(t *testing.T) {
	url := newTestRelay(t)

	store := NewMemStore()
	c := newTestClient(t, url, store)
	require.NoError(t, c.Connect(context.Background()))

	c.CreateRoom()
	require.Eventually(t, func() bool {
		_, ok := store.Load()
		return ok
	}, 2*time.Second, 10*time.Millisecond, "等待會話持久化")

	c.Exit()

	_, ok := store.Load()
	assert.False(t, ok)
	assert.Empty(t, c.RoomID())
	assert.Equal(t, PhaseLobby, c.Game().Phase())
}

// TestClient_HostLeavePromotesGuest 端到端：主機退出後倖存的
// 訪客升格為主機，補位的新玩家以訪客身份一起開局，權威模擬
// 落在升格端
func TestClient_HostLeavePromotesGuest(t *testing.T) {
	url := newTestRelay(t)

	host := newTestClient(t, url, NewMemStore())
	require.NoError(t, host.Connect(context.Background()))
	host.CreateRoom()
	require.Eventually(t, func() bool { return host.RoomID() != "" },
		2*time.Second, 10*time.Millisecond, "等待 roomCreated")
	roomID := host.RoomID()

	guestStore := NewMemStore()
	guest := newTestClient(t, url, guestStore)
	require.NoError(t, guest.Connect(context.Background()))
	guest.JoinRoom(roomID)
	require.Eventually(t, func() bool { return guest.Game().Phase() == PhaseReadyCheck },
		2*time.Second, 10*time.Millisecond, "等待 roomJoined")

	host.Exit()

	// 升格同步進對局會話與持久化的會話記錄
	require.Eventually(t, func() bool { return guest.Game().Role() == relay.RoleHost },
		2*time.Second, 10*time.Millisecond, "倖存者未升格")
	assert.Equal(t, PhaseLobby, guest.Game().Phase())
	saved, ok := guestStore.Load()
	require.True(t, ok)
	assert.Equal(t, relay.RoleHost, saved.Role)

	// 補位的新玩家是訪客
	refill := newTestClient(t, url, NewMemStore())
	require.NoError(t, refill.Connect(context.Background()))
	refill.JoinRoom(roomID)
	require.Eventually(t, func() bool { return refill.Game().Phase() == PhaseReadyCheck },
		2*time.Second, 10*time.Millisecond, "補位加入失敗")
	assert.Equal(t, relay.RoleGuest, refill.Game().Role())

	guest.ToggleReady()
	refill.ToggleReady()

	for name, c := range map[string]*Client{"promoted": guest, "refill": refill} {
		require.Eventually(t, func() bool { return c.Game().Phase() == PhaseStarting },
			2*time.Second, 10*time.Millisecond, "%s 未進入倒數", name)
	}

	// 恰好一端持有權威模擬：升格端跑模擬，補位端做和解
	promoted := guest.Game()
	promoted.mu.Lock()
	hasSim := promoted.sim != nil
	promoted.mu.Unlock()
	assert.True(t, hasSim, "升格端未建立權威模擬")

	follower := refill.Game()
	follower.mu.Lock()
	hasRecon := follower.recon != nil
	follower.mu.Unlock()
	assert.True(t, hasRecon, "補位端未建立和解器")
}

// TestClient_TimeSync 端到端：連上後時鐘偏移探測收斂
func TestClient_TimeSync(t *testing.T) {
	url := newTestRelay(t)

	c := newTestClient(t, url, NewMemStore())
	require.NoError(t, c.Connect(context.Background()))

	// 同機往返：偏移應落在很小的範圍內
	require.Eventually(t, func() bool {
		offset := c.clock.Offset()
		return offset > -time.Second && offset < time.Second && c.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}
