// 文件: pkg/spot/model.go
// 现货订单模型

package spot

import (
	"math/big"
	"time"

	"hbx.com/pkg/wallet"
)

// =============================================================================
// 订单方向
// =============================================================================

type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// =============================================================================
// 订单类型
// =============================================================================

type OrderType int8

const (
	OrderTypeLimit     OrderType = iota + 1 // 限价单
	OrderTypeMarket                         // 市价单
	OrderTypeStopLimit                      // 止损限价单 (触发前不参与撮合)
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	}
	return "UNKNOWN"
}

// =============================================================================
// 订单状态
// =============================================================================

// 状态机: Open → Partial → Filled / Cancelled
// Filled 和 Cancelled 为终态，不再变更
type OrderStatus int8

const (
	StatusOpen      OrderStatus = iota + 1 // 挂单中
	StatusPartial                          // 部分成交
	StatusFilled                           // 完全成交
	StatusCancelled                        // 已撤销
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusPartial:
		return "PARTIAL"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// =============================================================================
// Order - 订单表
// =============================================================================

// Order 现货订单
// 价格/数量为定点数 (1e8)
// 不变量: 0 <= Filled <= Amount
type Order struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	OrderID int64 `gorm:"column:order_id;uniqueIndex"` // 雪花ID

	UserID int64 `gorm:"column:user_id;index"`
	PairID int64 `gorm:"column:pair_id;index"`

	Side      Side      `gorm:"column:side"`
	OrderType OrderType `gorm:"column:order_type"`
	Price     int64     `gorm:"column:price"` // 市价单为 0

	// 止损限价单: 触发价。到价前 Triggered=false，不进撮合
	TriggerPrice int64 `gorm:"column:trigger_price"`
	Triggered    bool  `gorm:"column:triggered"`

	Amount int64       `gorm:"column:amount"`
	Filled int64       `gorm:"column:filled"`
	Status OrderStatus `gorm:"column:status;index"`

	// LockedRemaining 本订单尚未消耗的冻结额
	// 买单为报价资产，卖单为基础资产
	// 成交逐笔扣减，完全成交/撤单时余量解冻
	LockedRemaining int64 `gorm:"column:locked_remaining"`

	CreatedAt int64 `gorm:"column:created_at;index"` // Unix 毫秒
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Remaining 剩余未成交数量
func (o *Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// IsActive 是否还在盘口
func (o *Order) IsActive() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// Eligible 是否参与撮合 (止损单需先触发)
func (o *Order) Eligible() bool {
	if !o.IsActive() {
		return false
	}
	if o.OrderType == OrderTypeStopLimit && !o.Triggered {
		return false
	}
	return true
}

// =============================================================================
// Execution - 成交表
// =============================================================================

// Execution 成交记录，创建后不可变
// 由买卖双方订单共同拥有
type Execution struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	ExecutionID int64 `gorm:"column:execution_id;uniqueIndex"` // 雪花ID

	PairID      int64 `gorm:"column:pair_id;index"`
	BuyOrderID  int64 `gorm:"column:buy_order_id;index"`
	SellOrderID int64 `gorm:"column:sell_order_id;index"`

	Price  int64 `gorm:"column:price"`
	Amount int64 `gorm:"column:amount"`

	ExecutedAt int64 `gorm:"column:executed_at;index"` // Unix 毫秒
}

func (Execution) TableName() string {
	return "executions"
}

// =============================================================================
// 定点数运算
// =============================================================================

// QuoteCost 计算报价资产金额: price × amount / 1e8
// 中间积可能超出 int64，走 big.Int
func QuoteCost(price, amount int64) int64 {
	var x big.Int
	x.Mul(big.NewInt(price), big.NewInt(amount))
	x.Div(&x, big.NewInt(wallet.Precision))
	return x.Int64()
}

// BaseAmount 反算基础资产数量: cost × 1e8 / price
func BaseAmount(cost, price int64) int64 {
	if price <= 0 {
		return 0
	}
	var x big.Int
	x.Mul(big.NewInt(cost), big.NewInt(wallet.Precision))
	x.Div(&x, big.NewInt(price))
	return x.Int64()
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
