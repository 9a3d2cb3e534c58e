// 文件: pkg/binary/model.go
// 二元期权 (涨跌对赌) - 数据模型
//
// 玩法: 用户押某个标的到期价相对开仓价 (strike) 涨还是跌。
// 到期价高于 strike 押涨赢，低于 strike 押跌赢，
// 恰好等于 strike 算庄家赢 (双方向都判 LOSS)。
// 赢家拿回本金 + 本金 × 赔付率。

package binary

import (
	"math/big"
	"time"
)

// =============================================================================
// 枚举
// =============================================================================

// Direction 押注方向
type Direction int8

const (
	DirectionUp   Direction = 1 // 押涨
	DirectionDown Direction = 2 // 押跌
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "UP"
	case DirectionDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// Status 期权单状态
// OPEN 是唯一可结算状态，翻转后永不回退
type Status int8

const (
	StatusOpen Status = 1
	StatusWin  Status = 2
	StatusLoss Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusWin:
		return "WIN"
	case StatusLoss:
		return "LOSS"
	default:
		return "UNKNOWN"
	}
}

// ParseOutcome 解析人工裁定的结算结果
// 空串表示未指定 (按价格规则判定)，返回零值
func ParseOutcome(s string) (Status, bool) {
	switch s {
	case "":
		return 0, true
	case "WIN":
		return StatusWin, true
	case "LOSS":
		return StatusLoss, true
	default:
		return 0, false
	}
}

// =============================================================================
// Wager 期权单
// =============================================================================

// Wager 一笔涨跌对赌
// Symbol 是定价标的 (如 BTC_USDT)，本金和赔付都用结算币种
// Stake/StrikePrice/FinalPrice 为定点数 (×1e8)
type Wager struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	WagerID int64 `gorm:"column:wager_id;uniqueIndex"`
	UserID  int64 `gorm:"column:user_id;index:idx_user_status"`

	Symbol      string    `gorm:"column:symbol;type:varchar(32);index"`
	Direction   Direction `gorm:"column:direction"`
	Stake       int64     `gorm:"column:stake"`
	StrikePrice int64     `gorm:"column:strike_price"`
	PayoutRate  int64     `gorm:"column:payout_rate"` // 百分比，85 表示赢家赚 85%

	Status     Status `gorm:"column:status;index:idx_user_status;index:idx_status_end"`
	FinalPrice int64  `gorm:"column:final_price"`

	EndTime   int64      `gorm:"column:end_time;index:idx_status_end"` // 到期时刻 (毫秒)
	SettledAt *time.Time `gorm:"column:settled_at"`
	CreatedAt int64      `gorm:"column:created_at"`
}

func (Wager) TableName() string {
	return "wagers"
}

// Expired 是否已到期
func (w *Wager) Expired(nowMs int64) bool {
	return w.EndTime <= nowMs
}

// Payout 赢家入账总额 = 本金 + 本金 × 赔付率 / 100
// 中间积可能超出 int64，走 big.Int
func (w *Wager) Payout() int64 {
	var x big.Int
	x.Mul(big.NewInt(w.Stake), big.NewInt(w.PayoutRate))
	x.Div(&x, big.NewInt(100))
	x.Add(&x, big.NewInt(w.Stake))
	return x.Int64()
}

// =============================================================================
// 输赢判定
// =============================================================================

// ResolveOutcome 按到期价判定输赢
// 平盘 (final == strike) 两个方向都判 LOSS
func ResolveOutcome(direction Direction, finalPrice, strikePrice int64) Status {
	switch {
	case direction == DirectionUp && finalPrice > strikePrice:
		return StatusWin
	case direction == DirectionDown && finalPrice < strikePrice:
		return StatusWin
	default:
		return StatusLoss
	}
}
