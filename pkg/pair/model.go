// 文件: pkg/pair/model.go
// 交易对注册表 - 数据模型

package pair

import (
	"errors"
	"strings"
	"time"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrPairNotFound = errors.New("trading pair not found")
	ErrPairExists   = errors.New("trading pair already exists")
	ErrPairDisabled = errors.New("trading pair is disabled")
)

// =============================================================================
// Pair - 交易对
// =============================================================================

// Status 交易对状态
type Status int8

const (
	StatusTrading  Status = 1 // 可交易
	StatusDisabled Status = 2 // 停用 (不接受新订单)
)

// Pair 交易对
// 核心层只用 ID 引用交易对，符号解析只发生在入口处
type Pair struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	Symbol string `gorm:"column:symbol;type:varchar(32);uniqueIndex"` // "BTC_USDT"
	Base   string `gorm:"column:base;type:varchar(16)"`               // "BTC"
	Quote  string `gorm:"column:quote;type:varchar(16)"`              // "USDT"
	Status Status `gorm:"column:status"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Pair) TableName() string {
	return "pairs"
}

func (p *Pair) IsTrading() bool {
	return p.Status == StatusTrading
}

// NewPair 从符号构建交易对 ("BTC_USDT")
// 符号统一转大写存储，与 Resolver 的大写匹配保持一致
func NewPair(symbol string) (*Pair, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base, quote, ok := strings.Cut(symbol, "_")
	if !ok || base == "" || quote == "" {
		return nil, errors.New("invalid symbol format, expected BASE_QUOTE")
	}
	now := time.Now()
	return &Pair{
		Symbol:    symbol,
		Base:      base,
		Quote:     quote,
		Status:    StatusTrading,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
