package client

import (
	"testing"
	"time"

	"github.com/koopa0/system-design/14-pong-relay/internal/game"
	"github.com/koopa0/system-design/14-pong-relay/internal/relay"
	"github.com/koopa0/system-design/14-pong-relay/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(game.DefaultConfig(), clock.NewEstimator(0))
}

func ballUpdate(x, y, vx, vy float64, at time.Time) relay.BallMovePayload {
	return relay.BallMovePayload{
		Position:  game.Vec{X: x, Y: y},
		Velocity:  game.Vec{X: vx, Y: vy},
		Timestamp: at.UnixMilli(),
	}
}

// TestReconciler_BallInterpolation 測試球在兩筆快照間插值
func TestReconciler_BallInterpolation(t *testing.T) {
	r := newTestReconciler()
	// 時間戳以毫秒上線，基準先對齊毫秒避免截斷誤差
	base := time.Now().Truncate(time.Millisecond)

	r.ApplyBall(ballUpdate(100, 100, 100, 0, base), base)
	r.ApplyBall(ballUpdate(110, 100, 100, 0, base.Add(100*time.Millisecond)), base.Add(100*time.Millisecond))

	// 兩筆快照的中點
	ball, ok := r.Ball(base.Add(50 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 105, ball.X, 0.01)
	assert.InDelta(t, 100, ball.Y, 0.01)

	// 超過最新快照時間：飽和於最新位置，不外插
	ball, ok = r.Ball(base.Add(time.Second))
	require.True(t, ok)
	assert.InDelta(t, 110, ball.X, 0.01)
}

// TestReconciler_DivergenceResnap 測試預測偏差過大時的重對齊
func TestReconciler_DivergenceResnap(t *testing.T) {
	r := newTestReconciler()
	// 時間戳以毫秒上線，基準先對齊毫秒避免截斷誤差
	base := time.Now().Truncate(time.Millisecond)

	r.ApplyBall(ballUpdate(100, 100, 100, 0, base), base)

	// 下一筆與外推位置一致：不觸發修正
	r.ApplyBall(ballUpdate(110, 100, 100, 0, base.Add(100*time.Millisecond)), base.Add(100*time.Millisecond))
	assert.Equal(t, 0, r.Resnaps)

	// 權威位置跳到遠處（例如得分後重新發球）：重置並對齊
	r.ApplyBall(ballUpdate(400, 300, -100, 0, base.Add(200*time.Millisecond)), base.Add(200*time.Millisecond))
	assert.Equal(t, 1, r.Resnaps)

	// 重對齊後的輸出以權威位置為準
	ball, ok := r.Ball(base.Add(300 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 400, ball.X, 0.01)
	assert.InDelta(t, 300, ball.Y, 0.01)
}

// TestReconciler_Predict 測試本地外推
func TestReconciler_Predict(t *testing.T) {
	r := newTestReconciler()
	// 時間戳以毫秒上線，基準先對齊毫秒避免截斷誤差
	base := time.Now().Truncate(time.Millisecond)

	_, ok := r.Predict(base)
	assert.False(t, ok, "沒有權威狀態時不可外推")

	r.ApplyBall(ballUpdate(100, 200, 50, -20, base), base)

	predicted, ok := r.Predict(base.Add(time.Second))
	require.True(t, ok)
	assert.InDelta(t, 150, predicted.X, 0.01)
	assert.InDelta(t, 180, predicted.Y, 0.01)
}

// TestReconciler_OpponentPaddle 測試對方球拍插值
func TestReconciler_OpponentPaddle(t *testing.T) {
	r := newTestReconciler()
	// 時間戳以毫秒上線，基準先對齊毫秒避免截斷誤差
	base := time.Now().Truncate(time.Millisecond)

	_, ok := r.OpponentPaddle(base)
	assert.False(t, ok)

	r.ApplyPaddle(relay.PaddleMovePayload{Position: 200, Timestamp: base.UnixMilli()})
	r.ApplyPaddle(relay.PaddleMovePayload{Position: 300, Timestamp: base.Add(100 * time.Millisecond).UnixMilli()})

	y, ok := r.OpponentPaddle(base.Add(50 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 250, y, 0.01)
}

// TestReconciler_Reset 測試重置
func TestReconciler_Reset(t *testing.T) {
	r := newTestReconciler()
	// 時間戳以毫秒上線，基準先對齊毫秒避免截斷誤差
	base := time.Now().Truncate(time.Millisecond)

	r.ApplyBall(ballUpdate(100, 100, 50, 0, base), base)
	r.Reset()

	_, ok := r.Predict(base)
	assert.False(t, ok)
	_, ok = r.Ball(base)
	assert.False(t, ok)
}
