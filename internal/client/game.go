package client

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/game"
	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/koopa0/system-design/14-pong-relay/pkg/clock"
)

// Phase 對局階段
type Phase string

const (
	PhaseLobby          Phase = "lobby"           // 不在房間或等待對手
	PhaseReadyCheck     Phase = "ready_check"     // 房間滿員，等待雙方準備
	PhaseStarting       Phase = "starting"        // 開局倒數中
	PhasePlaying        Phase = "playing"         // 對局進行
	PhasePaused         Phase = "paused"          // 暫停
	PhaseEnded          Phase = "ended"           // 有人達到勝利分數
	PhaseRematchPending Phase = "rematch_pending" // 已送出再戰請求，等待回應
)

const (
	// WinningScore 勝利分數：勝負判定完全在客戶端
	WinningScore = 10

	// StepInterval 物理模擬的固定步長
	StepInterval = 16 * time.Millisecond

	// BroadcastInterval 主機廣播球狀態的節奏
	BroadcastInterval = 50 * time.Millisecond

	// CountdownDuration 開局倒數
	CountdownDuration = 3 * time.Second
)

// Active 階段是否屬於對局中（倒數、進行或暫停）
func (p Phase) Active() bool {
	return p == PhaseStarting || p == PhasePlaying || p == PhasePaused
}

// Outbound 對局會話送出消息的出口（由連接層實現）
type Outbound interface {
	SendEvent(kind relay.EventKind, payload any)
}

// GameSession 客戶端的對局會話狀態機。
//
// 系統設計問題：
//   服務器只做中繼，對局流程（倒數、物理、暫停、勝負、再戰）
//   全在客戶端。兩端角色不同：主機跑權威模擬並廣播，訪客和解
//   收到的快照。如何用同一個狀態機承載兩種角色？
//
// 設計方案：
//   - 時間由外部以 Advance(now) 驅動，會話內不起計時器：
//     倒數是對 Advance 累積時間的推導，任何階段轉換天然清除
//     被取代的倒數，不存在孤兒計時器
//   - 網路更新先入隊，Advance 時在物理步進前一次套用，
//     模擬步進與狀態套用不交錯
//   - 主機以固定步長推進模擬（累積器模式），按節奏廣播球狀態
type GameSession struct {
	mu     sync.Mutex
	logger *slog.Logger

	role  relay.Role
	phase Phase
	cfg   game.Config
	out   Outbound
	clock *clock.Estimator

	sim   *game.Simulation // 只有主機持有
	recon *Reconciler      // 只有訪客持有

	ownPaddleY float64
	score      game.Score
	winner     game.Side
	hasWinner  bool

	countdownLeft  time.Duration
	accumulator    time.Duration
	sinceBroadcast time.Duration
	lastTick       time.Time
	hasTick        bool

	pending []func()
}

// NewGameSession 創建對局會話，初始在大廳階段
func NewGameSession(cfg game.Config, out Outbound, estimator *clock.Estimator, logger *slog.Logger) *GameSession {
	return &GameSession{
		logger: logger,
		phase:  PhaseLobby,
		cfg:    cfg,
		out:    out,
		clock:  estimator,
	}
}

// Phase 目前階段
func (g *GameSession) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// SetRole 設定本端角色（進房或重連時由連接層呼叫）
func (g *GameSession) SetRole(role relay.Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.role = role
}

// Role 本端角色
func (g *GameSession) Role() relay.Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.role
}

// OnRoomUpdate 套用準備狀態快照：房間滿員進入準備確認，
// 否則回到大廳（對局中收到的快照不打斷對局）
func (g *GameSession) OnRoomUpdate(state relay.ReadyState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase.Active() {
		return
	}

	if len(state) == relay.MaxMembers {
		if g.phase == PhaseLobby {
			g.phase = PhaseReadyCheck
		}
	} else {
		g.phase = PhaseLobby
	}
}

// OnGameReady 雙方準備完成：進入開局倒數。
// 主機建立權威模擬，訪客建立和解器。
func (g *GameSession) OnGameReady() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.score = game.Score{}
	g.hasWinner = false
	g.ownPaddleY = (g.cfg.FieldHeight - g.cfg.PaddleHeight) / 2

	if g.role == relay.RoleHost {
		g.sim = game.NewSimulation(g.cfg, g.reportScore)
		g.recon = nil
	} else {
		g.recon = NewReconciler(g.cfg, g.clock)
		g.sim = nil
	}

	g.startCountdown()
}

// startCountdown 進入倒數；清空步進累積（需持有鎖）
func (g *GameSession) startCountdown() {
	g.phase = PhaseStarting
	g.countdownLeft = CountdownDuration
	g.accumulator = 0
	g.sinceBroadcast = 0
	g.hasTick = false
}

// reportScore 模擬的得分回調：只向服務器報分。
// 本地比分在 scoreUpdate 回流時更新，兩端看到同一條權威路徑。
func (g *GameSession) reportScore(scorer game.Side, score game.Score) {
	g.out.SendEvent(relay.EventScore, relay.ScorePayload{Score: score, Scorer: scorer})
}

// OnBallUpdate 訪客收到權威球快照（入隊，Advance 時套用）
func (g *GameSession) OnBallUpdate(update relay.BallMovePayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = append(g.pending, func() {
		if g.recon != nil {
			g.recon.ApplyBall(update, time.Now())
		}
	})
}

// OnPaddleUpdate 收到對方球拍快照。
// 主機把它餵進權威模擬；訪客交給和解器插值。
func (g *GameSession) OnPaddleUpdate(update relay.PaddleMovePayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = append(g.pending, func() {
		if g.sim != nil {
			g.sim.SetPaddle(update.PaddleSide, update.Position)
		}
		if g.recon != nil {
			g.recon.ApplyPaddle(update)
		}
	})
}

// OnScoreUpdate 收到權威比分：更新本地比分並判定勝負
func (g *GameSession) OnScoreUpdate(update relay.ScoreUpdatePayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.score = update.Score

	var winner game.Side
	switch {
	case update.Score.Left >= WinningScore:
		winner = game.SideLeft
	case update.Score.Right >= WinningScore:
		winner = game.SideRight
	default:
		return
	}

	g.winner = winner
	g.hasWinner = true
	g.phase = PhaseEnded
	g.countdownLeft = 0
	g.hasTick = false
	g.logger.Info("對局結束", "winner", winner, "score", update.Score)
}

// OnPauseUpdate 套用暫停廣播。
//
// 恢復時若帶倒數值則重新倒數，否則直接回到進行中；
// 暫停清除進行中的開局倒數（被取代的轉換不留殘餘）。
func (g *GameSession) OnPauseUpdate(update relay.PauseUpdatePayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.phase.Active() {
		return
	}

	if update.IsPaused {
		g.phase = PhasePaused
		g.countdownLeft = 0
		g.hasTick = false
		return
	}

	if update.CountdownValue > 0 {
		g.phase = PhaseStarting
		g.countdownLeft = time.Duration(update.CountdownValue) * time.Second
		g.accumulator = 0
		g.hasTick = false
	} else {
		g.phase = PhasePlaying
		g.hasTick = false
	}
}

// OnOpponentGone 對手退出或斷線：對局中止，回到大廳
func (g *GameSession) OnOpponentGone() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.phase = PhaseLobby
	g.sim = nil
	g.recon = nil
	g.countdownLeft = 0
	g.hasTick = false
	g.pending = nil
}

// RequestRematch 送出再戰請求
func (g *GameSession) RequestRematch(roomID string) {
	g.mu.Lock()
	if g.phase == PhaseEnded {
		g.phase = PhaseRematchPending
	}
	g.mu.Unlock()

	g.out.SendEvent(relay.EventRematchRequest, relay.RematchRequestPayload{RoomID: roomID})
}

// OnRematchAccepted 再戰成立：清空比分，回到準備確認
// （gameReady 會在雙方重新準備後到達）
func (g *GameSession) OnRematchAccepted() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.score = game.Score{}
	g.hasWinner = false
	g.sim = nil
	g.recon = nil
	g.pending = nil
	g.phase = PhaseReadyCheck
}

// OnRematchDeclined 再戰被拒：停在結束畫面
func (g *GameSession) OnRematchDeclined() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == PhaseRematchPending {
		g.phase = PhaseEnded
	}
}

// MovePaddle 移動本方球拍並送出快照。
// side 由角色決定（主機=左，訪客=右），不接受外部指定。
func (g *GameSession) MovePaddle(y float64) {
	g.mu.Lock()

	y = math.Max(0, math.Min(y, g.cfg.FieldHeight-g.cfg.PaddleHeight))
	g.ownPaddleY = y

	side := g.role.PaddleSide()
	if g.sim != nil {
		g.sim.SetPaddle(side, y)
	}
	timestamp := g.clock.ToServer(time.Now()).UnixMilli()
	g.mu.Unlock()

	g.out.SendEvent(relay.EventPaddleMove, relay.PaddleMovePayload{
		Position:   y,
		PaddleSide: side,
		Timestamp:  timestamp,
	})
}

// TogglePause 請求暫停或恢復（恢復帶三秒倒數）
func (g *GameSession) TogglePause() {
	g.mu.Lock()
	paused := g.phase == PhasePaused
	g.mu.Unlock()

	payload := relay.PauseGamePayload{IsPaused: !paused}
	if paused {
		payload.CountdownValue = int(CountdownDuration / time.Second)
	}
	g.out.SendEvent(relay.EventPauseGame, payload)
}

// Advance 把會話推進到 now。
//
// 先套用入隊的網路更新，再處理倒數與物理步進。冪等於時間：
// now 未前進時是無操作。
func (g *GameSession) Advance(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// 網路更新先於物理
	for _, apply := range g.pending {
		apply()
	}
	g.pending = g.pending[:0]

	if !g.hasTick {
		g.lastTick = now
		g.hasTick = true
		return
	}

	dt := now.Sub(g.lastTick)
	if dt <= 0 {
		return
	}
	g.lastTick = now

	switch g.phase {
	case PhaseStarting:
		g.countdownLeft -= dt
		if g.countdownLeft <= 0 {
			g.countdownLeft = 0
			g.phase = PhasePlaying
		}

	case PhasePlaying:
		if g.sim == nil {
			return
		}

		g.accumulator += dt
		for g.accumulator >= StepInterval {
			g.sim.Step(StepInterval)
			g.accumulator -= StepInterval
		}

		g.sinceBroadcast += dt
		if g.sinceBroadcast >= BroadcastInterval {
			g.sinceBroadcast = 0
			g.broadcastBall()
		}
	}
}

// broadcastBall 主機廣播球狀態，時間戳換算到服務器基準。
// 需持有鎖；Outbound 不得回呼會話，否則死鎖。
func (g *GameSession) broadcastBall() {
	g.out.SendEvent(relay.EventBallMove, relay.BallMovePayload{
		Position:  g.sim.Ball,
		Velocity:  g.sim.Velocity,
		Timestamp: g.clock.ToServer(time.Now()).UnixMilli(),
	})
}

// Countdown 目前倒數值（秒，向上取整；非倒數階段為 0）
func (g *GameSession) Countdown() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseStarting {
		return 0
	}
	return int(math.Ceil(g.countdownLeft.Seconds()))
}

// Winner 勝方（對局結束前 ok 為 false）
func (g *GameSession) Winner() (game.Side, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner, g.hasWinner
}

// RenderState 渲染層需要的完整視圖
type RenderState struct {
	Phase     Phase
	Ball      game.Vec
	LeftY     float64
	RightY    float64
	Score     game.Score
	Countdown int
}

// View 取得 now 時刻的渲染視圖。
// 主機直接讀模擬；訪客讀和解器的插值輸出。
func (g *GameSession) View(now time.Time) RenderState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := RenderState{Phase: g.phase, Score: g.score}
	if g.phase == PhaseStarting {
		state.Countdown = int(math.Ceil(g.countdownLeft.Seconds()))
	}

	switch {
	case g.sim != nil:
		state.Ball = g.sim.Ball
		state.LeftY = g.sim.LeftY
		state.RightY = g.sim.RightY

	case g.recon != nil:
		if ball, ok := g.recon.Ball(now); ok {
			state.Ball = ball
		}
		state.RightY = g.ownPaddleY
		if y, ok := g.recon.OpponentPaddle(now); ok {
			state.LeftY = y
		}

	default:
		if g.role.PaddleSide() == game.SideLeft {
			state.LeftY = g.ownPaddleY
		} else {
			state.RightY = g.ownPaddleY
		}
	}

	return state
}
