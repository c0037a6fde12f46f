package client

import (
	"math"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/game"
	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/koopa0/system-design/14-pong-relay/pkg/clock"
	"github.com/koopa0/system-design/14-pong-relay/pkg/interp"
)

// DivergenceThreshold 本地預測與權威狀態的容許距離（像素）。
// 超過即丟棄預測緩衝、直接對齊權威狀態：產生一次可見的修正，
// 但絕不累積漂移。
const DivergenceThreshold = 50.0

// Reconciler 訪客端的對手狀態和解器。
//
// 系統設計問題：
//   權威狀態在主機端，訪客只收到間隔不定的快照。
//   如何渲染出平滑的球與對方球拍，又不偏離權威太遠？
//
// 設計方案：
//   - 進站快照的時間戳先換算到本地時間基準（時鐘偏移估算）
//   - 球與對方球拍各有一個抖動緩衝，渲染時在樣本間插值
//   - 同時以最後權威速度做本地外推；權威快照到達時比對外推
//     位置，偏差超閾值就重置緩衝重新對齊
//
// 非併發安全：網路事件與渲染查詢預期在同一邏輯執行緒交錯。
type Reconciler struct {
	clock    *clock.Estimator
	ball     *interp.Buffer
	opponent *interp.Buffer

	// 本地外推用的最後權威球狀態
	lastBall game.Vec
	lastVel  game.Vec
	lastAt   time.Time
	hasBall  bool

	// Resnaps 偏差修正次數（除錯與測試觀測用）
	Resnaps int
}

// NewReconciler 創建和解器；球的輸出夾在場地範圍內
func NewReconciler(cfg game.Config, estimator *clock.Estimator) *Reconciler {
	ball := interp.NewBuffer()
	ball.SetBounds(interp.Bounds{
		MinX: 0, MaxX: cfg.FieldWidth,
		MinY: 0, MaxY: cfg.FieldHeight,
	})

	opponent := interp.NewBuffer()
	opponent.SetBounds(interp.Bounds{
		MinX: 0, MaxX: cfg.FieldWidth,
		MinY: 0, MaxY: cfg.FieldHeight - cfg.PaddleHeight,
	})

	return &Reconciler{
		clock:    estimator,
		ball:     ball,
		opponent: opponent,
	}
}

// ApplyBall 套用一筆權威球快照。
//
// now 為本地接收時間，快照時間戳換算到本地基準後入緩衝；
// 先與本地外推比對，偏差超閾值時重置緩衝重新對齊。
func (r *Reconciler) ApplyBall(update relay.BallMovePayload, now time.Time) {
	at := r.clock.ToLocal(time.UnixMilli(update.Timestamp))

	if predicted, ok := r.Predict(at); ok {
		dx := predicted.X - update.Position.X
		dy := predicted.Y - update.Position.Y
		if math.Hypot(dx, dy) > DivergenceThreshold {
			r.ball.Reset()
			r.Resnaps++
		}
	}

	r.ball.Push(interp.Sample{X: update.Position.X, Y: update.Position.Y, At: at})

	r.lastBall = update.Position
	r.lastVel = update.Velocity
	r.lastAt = at
	r.hasBall = true
}

// ApplyPaddle 套用對方球拍快照
func (r *Reconciler) ApplyPaddle(update relay.PaddleMovePayload) {
	at := r.clock.ToLocal(time.UnixMilli(update.Timestamp))
	r.opponent.Push(interp.Sample{Y: update.Position, At: at})
}

// Ball 回傳 now 時刻的插值球位置
func (r *Reconciler) Ball(now time.Time) (game.Vec, bool) {
	x, y, ok := r.ball.Pos(now)
	return game.Vec{X: x, Y: y}, ok
}

// OpponentPaddle 回傳 now 時刻的對方球拍縱向位置
func (r *Reconciler) OpponentPaddle(now time.Time) (float64, bool) {
	_, y, ok := r.opponent.Pos(now)
	return y, ok
}

// Predict 以最後權威速度把球外推到 at 時刻
func (r *Reconciler) Predict(at time.Time) (game.Vec, bool) {
	if !r.hasBall {
		return game.Vec{}, false
	}

	dt := at.Sub(r.lastAt).Seconds()
	return game.Vec{
		X: r.lastBall.X + r.lastVel.X*dt,
		Y: r.lastBall.Y + r.lastVel.Y*dt,
	}, true
}

// Reset 清空全部緩衝與預測狀態（重連或再戰時使用）
func (r *Reconciler) Reset() {
	r.ball.Reset()
	r.opponent.Reset()
	r.hasBall = false
}
