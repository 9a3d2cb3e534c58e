// 文件: pkg/stream/events.go
// 变更事件定义
//
// 核心层的契约: 每个提交成功的事务之后发布一个事件，
// 投递与扇出是协作方 (UI/通知系统) 的事情。
// 事件只在事务提交后发布，永远不在事务内发布。

package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// NATS Subject / Kafka Topic
// =============================================================================

const (
	SubjectOrderPlaced    = "order.placed"
	SubjectOrderFilled    = "order.filled"
	SubjectOrderCancelled = "order.cancelled"
	SubjectTradeExecuted  = "trade.executed"
	SubjectWagerPlaced    = "wager.placed"
	SubjectWagerSettled   = "wager.settled"
	SubjectBalanceChanged = "balance.changed"

	// 请求类 subject: API 网关投递，引擎侧队列订阅 (单实例消费)
	SubjectOrderSubmit = "order.submit"
	SubjectOrderCancel = "order.cancel"
	SubjectWagerSubmit = "wager.submit"
	SubjectWagerRule   = "wager.rule" // 管理员人工裁定

	// SubjectPriceUpdated 行情服务发布的标的最新价，触发止损单检查
	SubjectPriceUpdated = "price.updated"

	// SubjectPairDirty 撮合触发信号，撮合 worker 用队列订阅消费
	// (队列组内只有一个实例收到，天然串行化同一交易对的撮合)
	SubjectPairDirty = "pair.dirty"

	TopicJournalEvents    = "ledger_journal_events"
	TopicSettlementEvents = "wager_settlement_events"
)

// =============================================================================
// 事件结构
// =============================================================================

// OrderEvent 订单状态事件 (placed / filled / cancelled)
type OrderEvent struct {
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	PairID  int64  `json:"pair_id"`
	Status  string `json:"status"`
	Filled  int64  `json:"filled"`
	At      int64  `json:"at"` // Unix 毫秒
}

// TradeEvent 成交事件
type TradeEvent struct {
	ExecutionID int64 `json:"execution_id"`
	PairID      int64 `json:"pair_id"`
	BuyOrderID  int64 `json:"buy_order_id"`
	SellOrderID int64 `json:"sell_order_id"`
	Price       int64 `json:"price"`
	Amount      int64 `json:"amount"`
	At          int64 `json:"at"`
}

// WagerEvent 二元期权事件 (placed / settled)
type WagerEvent struct {
	WagerID    int64  `json:"wager_id"`
	UserID     int64  `json:"user_id"`
	Asset      string `json:"asset"`
	Status     string `json:"status"`
	FinalPrice int64  `json:"final_price,omitempty"`
	Payout     int64  `json:"payout,omitempty"`
	At         int64  `json:"at"`
}

// BalanceEvent 余额变更事件
type BalanceEvent struct {
	UserID    int64  `json:"user_id"`
	Asset     string `json:"asset"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
	At        int64  `json:"at"`
}

// PairDirtyEvent 交易对待撮合信号
type PairDirtyEvent struct {
	PairID int64 `json:"pair_id"`
}

// PriceEvent 标的最新价事件 (行情服务发布)
type PriceEvent struct {
	Symbol string `json:"symbol"`
	Price  int64  `json:"price"` // 定点数 (×1e8)
	At     int64  `json:"at"`
}

// =============================================================================
// Kafka Message 接口与实现
// =============================================================================

// Message Kafka 消息接口
type Message interface {
	Topic() string          // 目标 topic
	Key() string            // 分区 key (相同 key 保证顺序)
	Value() ([]byte, error) // 序列化后的消息体
}

// JournalMessage 账本流水 → Kafka (下游数仓消费)
// 按 UserID 分区，同一用户的流水保持顺序
type JournalMessage struct {
	UserID  int64           `json:"user_id"`
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

func NewJournalMessage(userID int64, eventID string, payload []byte) *JournalMessage {
	return &JournalMessage{UserID: userID, EventID: eventID, Payload: payload}
}

func (m *JournalMessage) Topic() string { return TopicJournalEvents }
func (m *JournalMessage) Key() string   { return fmt.Sprintf("%d", m.UserID) }
func (m *JournalMessage) Value() ([]byte, error) {
	return json.Marshal(m)
}

// SettlementMessage 结算审计记录 → Kafka
// 按 WagerID 分区
type SettlementMessage struct {
	WagerID    int64  `json:"wager_id"`
	Outcome    string `json:"outcome"`
	FinalPrice int64  `json:"final_price"`
	AdminID    *int64 `json:"admin_id,omitempty"` // null = 自动结算
	SettledAt  int64  `json:"settled_at"`
}

func (m *SettlementMessage) Topic() string { return TopicSettlementEvents }
func (m *SettlementMessage) Key() string   { return fmt.Sprintf("%d", m.WagerID) }
func (m *SettlementMessage) Value() ([]byte, error) {
	return json.Marshal(m)
}

// now 事件时间戳 (Unix 毫秒)
func now() int64 {
	return time.Now().UnixMilli()
}
