// Package clock 提供客戶端與服務器之間的時鐘偏移估算。
//
// 客戶端定期與服務器交換時間戳往返：記下發送時間、服務器時間與
// 接收時間，假設往返延遲對稱，估算 offset = server - (send + rtt/2)。
// 插值窗口據此換算到共享時間基準，兩端時鐘獨立也不影響插值。
package clock

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow 保留的往返觀測數
const DefaultWindow = 5

// Estimator 時鐘偏移估算器。
//
// 保留最近數筆觀測並回報中位數偏移，單筆慢探測（RTT 突刺）
// 不會拉偏估算結果。
type Estimator struct {
	mu      sync.Mutex
	window  int
	offsets []time.Duration
}

// NewEstimator 創建估算器，window <= 0 時使用預設窗口
func NewEstimator(window int) *Estimator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Estimator{window: window}
}

// Observe 記錄一次時間戳往返。
//
// clientSend 為發出探測的本地時間，serverTime 為服務器回覆中的
// 服務器時間，clientRecv 為收到回覆的本地時間。
func (e *Estimator) Observe(clientSend, serverTime, clientRecv time.Time) {
	rtt := clientRecv.Sub(clientSend)
	if rtt < 0 {
		// 本地時鐘回撥，丟棄這筆觀測
		return
	}

	offset := serverTime.Sub(clientSend.Add(rtt / 2))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.offsets = append(e.offsets, offset)
	if len(e.offsets) > e.window {
		e.offsets = e.offsets[len(e.offsets)-e.window:]
	}
}

// Offset 目前估算的偏移（server - client），無觀測時為 0
func (e *Estimator) Offset() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.offsets) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(e.offsets))
	copy(sorted, e.offsets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted[len(sorted)/2]
}

// ToLocal 把服務器時間換算成本地時間基準
func (e *Estimator) ToLocal(serverTime time.Time) time.Time {
	return serverTime.Add(-e.Offset())
}

// ToServer 把本地時間換算成服務器時間基準
func (e *Estimator) ToServer(localTime time.Time) time.Time {
	return localTime.Add(e.Offset())
}
