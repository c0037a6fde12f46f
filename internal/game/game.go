// Package game 實現主機端的權威乒乓球物理。
//
// 只有主機（members[0]）運行這個模擬；訪客端透過插值呈現主機
// 廣播的球狀態。模擬是純同步計算，由客戶端核心以固定步長驅動，
// 內部不起任何 goroutine。
package game

import (
	"math"
	"time"
)

// Side 得分方
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Vec 2D 向量（像素 / 像素每秒）
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Score 比分
type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Total 總得分（用於球速縮放）
func (s Score) Total() int {
	return s.Left + s.Right
}

// Config 場地與物理參數
type Config struct {
	FieldWidth   float64
	FieldHeight  float64
	PaddleWidth  float64
	PaddleHeight float64
	BallSize     float64

	BaseSpeed   float64 // 發球速度（像素/秒）
	SpeedGrowth float64 // 每一總分增加的速度
	MaxSpeed    float64 // 速度上限

	// ScoreCooldown 得分閂鎖的冷卻時間：球重置前若有多個物理步長
	// 偵測到同一次越界，閂鎖保證只記一分
	ScoreCooldown time.Duration
}

// DefaultConfig 預設參數
func DefaultConfig() Config {
	return Config{
		FieldWidth:    800,
		FieldHeight:   600,
		PaddleWidth:   10,
		PaddleHeight:  100,
		BallSize:      10,
		BaseSpeed:     300,
		SpeedGrowth:   15,
		MaxSpeed:      600,
		ScoreCooldown: 500 * time.Millisecond,
	}
}

// ScoreFunc 得分回調：scorer 為得分方，score 為更新後比分
type ScoreFunc func(scorer Side, score Score)

// Simulation 權威球物理模擬。
//
// 座標系：原點在左上角，球以左上角定位的正方形表示，
// 球拍貼在左右邊界（左拍 x ∈ [0, PaddleWidth]）。
type Simulation struct {
	cfg Config

	Ball     Vec
	Velocity Vec
	LeftY    float64 // 左拍頂端 Y
	RightY   float64
	Score    Score

	onScore ScoreFunc

	// 得分閂鎖與冷卻（重入保護）
	latched  bool
	cooldown time.Duration
}

// NewSimulation 創建模擬並發出第一球
func NewSimulation(cfg Config, onScore ScoreFunc) *Simulation {
	s := &Simulation{cfg: cfg, onScore: onScore}
	s.Reset()
	return s
}

// Reset 重置球、比分與球拍到初始狀態（再戰接受時呼叫）
func (s *Simulation) Reset() {
	s.Score = Score{}
	s.LeftY = (s.cfg.FieldHeight - s.cfg.PaddleHeight) / 2
	s.RightY = s.LeftY
	s.latched = false
	s.cooldown = 0
	s.serve(SideLeft)
}

// serve 從場地中央向 toward 方發球
func (s *Simulation) serve(toward Side) {
	s.Ball = Vec{
		X: (s.cfg.FieldWidth - s.cfg.BallSize) / 2,
		Y: (s.cfg.FieldHeight - s.cfg.BallSize) / 2,
	}

	speed := s.speed()
	// 固定 45 度分量，方向朝向剛失分的一方
	component := speed / math.Sqrt2
	if toward == SideLeft {
		s.Velocity = Vec{X: -component, Y: component}
	} else {
		s.Velocity = Vec{X: component, Y: -component}
	}
}

// speed 當前球速：隨總分單調遞增，封頂於 MaxSpeed
func (s *Simulation) speed() float64 {
	v := s.cfg.BaseSpeed + s.cfg.SpeedGrowth*float64(s.Score.Total())
	return math.Min(v, s.cfg.MaxSpeed)
}

// SetPaddle 設定球拍位置（夾在場地內）
func (s *Simulation) SetPaddle(side Side, y float64) {
	y = math.Max(0, math.Min(y, s.cfg.FieldHeight-s.cfg.PaddleHeight))
	if side == SideLeft {
		s.LeftY = y
	} else {
		s.RightY = y
	}
}

// Step 推進一個物理步長
func (s *Simulation) Step(dt time.Duration) {
	if s.latched {
		s.cooldown -= dt
		if s.cooldown <= 0 {
			s.latched = false
		}
	}

	sec := dt.Seconds()
	s.Ball.X += s.Velocity.X * sec
	s.Ball.Y += s.Velocity.Y * sec

	s.reflectWalls()
	s.reflectPaddles()
	s.checkGoal()
}

// reflectWalls 上下牆反彈
func (s *Simulation) reflectWalls() {
	if s.Ball.Y <= 0 {
		s.Ball.Y = 0
		s.Velocity.Y = math.Abs(s.Velocity.Y)
	}
	if s.Ball.Y+s.cfg.BallSize >= s.cfg.FieldHeight {
		s.Ball.Y = s.cfg.FieldHeight - s.cfg.BallSize
		s.Velocity.Y = -math.Abs(s.Velocity.Y)
	}
}

// reflectPaddles 球拍 AABB 反彈。
//
// 只在球朝向球拍移動時反轉，球與拍盒重疊的後續步長不會再次反彈。
func (s *Simulation) reflectPaddles() {
	// 左拍
	if s.Velocity.X < 0 &&
		s.Ball.X <= s.cfg.PaddleWidth &&
		s.Ball.X+s.cfg.BallSize >= 0 &&
		s.overlapsY(s.LeftY) {
		s.Ball.X = s.cfg.PaddleWidth
		s.Velocity.X = math.Abs(s.Velocity.X)
	}

	// 右拍
	rightX := s.cfg.FieldWidth - s.cfg.PaddleWidth
	if s.Velocity.X > 0 &&
		s.Ball.X+s.cfg.BallSize >= rightX &&
		s.Ball.X <= s.cfg.FieldWidth &&
		s.overlapsY(s.RightY) {
		s.Ball.X = rightX - s.cfg.BallSize
		s.Velocity.X = -math.Abs(s.Velocity.X)
	}
}

func (s *Simulation) overlapsY(paddleY float64) bool {
	return s.Ball.Y+s.cfg.BallSize >= paddleY && s.Ball.Y <= paddleY+s.cfg.PaddleHeight
}

// checkGoal 球越過底線時記分。
//
// 閂鎖保證同一次越界只記一分：記分後立即重新發球，但若冷卻內
// 其他步長再次偵測到越界（例如步長堆積），不會重複記分。
func (s *Simulation) checkGoal() {
	if s.latched {
		return
	}

	var scorer Side
	switch {
	case s.Ball.X+s.cfg.BallSize < 0:
		scorer = SideRight
	case s.Ball.X > s.cfg.FieldWidth:
		scorer = SideLeft
	default:
		return
	}

	s.latched = true
	s.cooldown = s.cfg.ScoreCooldown

	if scorer == SideLeft {
		s.Score.Left++
		s.serve(SideRight)
	} else {
		s.Score.Right++
		s.serve(SideLeft)
	}

	if s.onScore != nil {
		s.onScore(scorer, s.Score)
	}
}
