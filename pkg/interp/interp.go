// Package interp 提供網路抖動緩衝插值。
//
// 系統設計問題：
//   如何把到達時間不規律的位置快照，渲染成平滑且單調前進的畫面？
//
// 核心挑戰：
//   1. 網路抖動：快照間隔不固定（20ms~200ms 都有可能）
//   2. 亂序到達：舊快照可能晚於新快照抵達
//   3. 記憶體上限：緩衝只保留插值所需的最少樣本
//
// 設計方案：
//   - 小型 FIFO 緩衝（最近 2~3 個樣本）
//   - 在最新兩個樣本之間做線性插值，進度夾在 [0,1]
//   - 亂序樣本不插值，保持上次輸出（永不倒退）
//   - 超過保留窗口（100ms）的樣本在緩衝超過 2 筆時淘汰
package interp

import "time"

const (
	// DefaultCapacity 緩衝保留的最大樣本數
	DefaultCapacity = 3
	// DefaultRetention 樣本保留窗口
	DefaultRetention = 100 * time.Millisecond
)

// Sample 一筆帶時間戳的位置樣本
type Sample struct {
	X, Y float64
	At   time.Time
}

// Bounds 輸出位置的夾取範圍（場地邊界）
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Buffer 單一實體的插值緩衝。
//
// 非併發安全：設計上由同一個邏輯執行緒寫入與讀取
// （網路處理與渲染在同一個協作回合內交錯執行）。
type Buffer struct {
	samples   []Sample
	capacity  int
	retention time.Duration

	bounds    *Bounds
	lastX     float64
	lastY     float64
	hasOutput bool
}

// NewBuffer 創建插值緩衝，使用預設容量與保留窗口
func NewBuffer() *Buffer {
	return &Buffer{
		capacity:  DefaultCapacity,
		retention: DefaultRetention,
	}
}

// SetBounds 設定輸出夾取範圍
func (b *Buffer) SetBounds(bounds Bounds) {
	b.bounds = &bounds
}

// Push 加入一筆樣本。
//
// 樣本按到達順序保留；亂序問題在讀取端處理。
// 緩衝超過 2 筆時，淘汰比最新樣本早於保留窗口的舊樣本。
func (b *Buffer) Push(s Sample) {
	b.samples = append(b.samples, s)

	if len(b.samples) > b.capacity {
		b.samples = b.samples[len(b.samples)-b.capacity:]
	}

	// 以最新樣本的時間為基準淘汰過期樣本
	newest := b.samples[len(b.samples)-1].At
	for len(b.samples) > 2 && newest.Sub(b.samples[0].At) > b.retention {
		b.samples = b.samples[1:]
	}
}

// Reset 清空緩衝與上次輸出（權威狀態重對齊時使用）
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
	b.hasOutput = false
}

// Len 目前緩衝的樣本數
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Pos 回傳 now 時刻的插值位置。
//
// 插值規則：
//   - 無樣本：回傳上次輸出（若有）
//   - 單一樣本：直接對齊該樣本
//   - 兩筆以上：在最新兩筆之間以 progress = (now-a)/(b-a) 插值，
//     progress 夾在 [0,1]，超過最新樣本時間則飽和於 1（不外插）
//   - 亂序（b.At <= a.At）：跳過插值，保持上次輸出
func (b *Buffer) Pos(now time.Time) (x, y float64, ok bool) {
	switch len(b.samples) {
	case 0:
		return b.lastX, b.lastY, b.hasOutput
	case 1:
		return b.output(b.samples[0].X, b.samples[0].Y)
	}

	older := b.samples[len(b.samples)-2]
	newer := b.samples[len(b.samples)-1]

	// 永不倒退：亂序樣本不插值
	if !newer.At.After(older.At) {
		return b.lastX, b.lastY, b.hasOutput
	}

	progress := float64(now.Sub(older.At)) / float64(newer.At.Sub(older.At))
	progress = clamp(progress, 0, 1)

	return b.output(
		older.X+(newer.X-older.X)*progress,
		older.Y+(newer.Y-older.Y)*progress,
	)
}

// output 夾取邊界並記錄上次輸出
func (b *Buffer) output(x, y float64) (float64, float64, bool) {
	if b.bounds != nil {
		x = clamp(x, b.bounds.MinX, b.bounds.MaxX)
		y = clamp(y, b.bounds.MinY, b.bounds.MaxY)
	}
	b.lastX, b.lastY = x, y
	b.hasOutput = true
	return x, y, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
