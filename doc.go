// Package pongrelay 實現了一個雙人即時對戰遊戲的會話中繼系統。
//
// 系統將兩位遠端玩家配對進入同一個房間，在兩端之間以低延遲轉發權威
// 遊戲狀態（球、球拍、比分），並管理完整的會話生命週期：準備確認、
// 暫停/恢復、斷線清理與再戰協商。
//
// 核心組件
//
// 服務端（internal/relay）：
//   - 連接層：WebSocket 雙向消息連接，分配臨時連接 ID
//   - 房間註冊表：以短代碼索引的內存房間表，管理成員與準備狀態
//   - 會話協議狀態機：封閉的事件分發，主機權威模型的服務端強制
//
// 客戶端（internal/client）：
//   - 狀態同步/協調：抖動緩衝插值、時鐘偏移估算、發散重對齊
//   - 連接狀態機：有界自動重連，會話令牌持久化
//
// 權威模型
//
// members[0] 為主機（host），是球物理與比分的唯一權威來源；訪客
// （guest）只接收插值後的狀態。服務端拒絕非主機發送的球/比分更新，
// 並將球拍更新的 side 綁定到發送者的角色。
//
// 啟動服務器：
//
//	go run ./cmd/server -port 8080
//
// 啟動無頭客戶端（創建房間或以代碼加入）：
//
//	go run ./cmd/client -server ws://localhost:8080/ws
//	go run ./cmd/client -server ws://localhost:8080/ws -join ABC123
package pongrelay
