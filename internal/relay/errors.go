package relay

import "errors"

// 房間操作的哨兵錯誤。
//
// 錯誤只回報給發起請求的連接，永遠不影響房間內其他成員；
// 線上錯誤訊息在協議層由 wireMessage 統一映射。
var (
	// ErrRoomNotFound 房間不存在（或已被回收）
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull 房間已有兩名成員
	ErrRoomFull = errors.New("room is full")

	// ErrNotMember 連接不是該房間成員
	ErrNotMember = errors.New("connection is not a room member")

	// ErrInvalidToken 會話令牌與任何成員不符
	ErrInvalidToken = errors.New("invalid session token")
)

// 消息目錄固定的線上錯誤字串
const (
	wireRoomNotFound = "Room not found"
	wireRoomFull     = "Room is full"
	wireJoinFailed   = "Failed to join room"
)

// wireMessage 把內部錯誤映射為發給客戶端的訊息。
//
// 未知錯誤一律回報通用的加入失敗訊息，不洩漏內部細節。
func wireMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return wireRoomNotFound
	case errors.Is(err, ErrRoomFull):
		return wireRoomFull
	default:
		return wireJoinFailed
	}
}
