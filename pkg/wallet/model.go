// 文件: pkg/wallet/model.go
// 钱包账本 - 数据模型
//
// 每个用户每种资产一行: available (可用) + locked (冻结)
// 所有变动都在同一事务内落库，并产生一条流水 (journal)

package wallet

import (
	"encoding/json"
	"errors"
	"time"
)

// =============================================================================
// 常量定义
// =============================================================================

// Precision 定点数精度: 1 个资产单位 = 1e8
// 对标比特币最小单位 satoshi，避免浮点精度问题
const Precision = 100_000_000

// ChangeType 余额变更类型
type ChangeType uint8

const (
	ChangeTypeReserve ChangeType = 1 // 冻结 (下单/下注)
	ChangeTypeRelease ChangeType = 2 // 解冻 (撤单/溢价返还)
	ChangeTypeDebit   ChangeType = 3 // 扣除冻结 (成交/输单)
	ChangeTypeCredit  ChangeType = 4 // 入账可用 (成交收款/赢单派彩)
	ChangeTypeDeposit ChangeType = 5 // 充值
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeReserve:
		return "RESERVE"
	case ChangeTypeRelease:
		return "RELEASE"
	case ChangeTypeDebit:
		return "DEBIT"
	case ChangeTypeCredit:
		return "CREDIT"
	case ChangeTypeDeposit:
		return "DEPOSIT"
	default:
		return "UNKNOWN"
	}
}

// BizType 关联业务类型
type BizType string

const (
	BizTypeOrder   BizType = "ORDER"   // 现货订单
	BizTypeTrade   BizType = "TRADE"   // 撮合成交
	BizTypeWager   BizType = "WAGER"   // 二元期权
	BizTypeDeposit BizType = "DEPOSIT" // 充值
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInsufficientLocked  = errors.New("insufficient locked balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// =============================================================================
// Wallet - 余额表
// =============================================================================

// Wallet 用户单资产余额
// 不变量: available >= 0 且 locked >= 0，在每个提交点都成立
type Wallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;uniqueIndex:idx_user_asset"`
	Asset     string    `gorm:"column:asset;type:varchar(16);uniqueIndex:idx_user_asset"`
	Available int64     `gorm:"column:available"`
	Locked    int64     `gorm:"column:locked"`
	Version   int       `gorm:"column:version"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// =============================================================================
// JournalEntry - 流水表
// =============================================================================

// JournalEntry 余额变更流水
// 每次余额变动一条，与余额更新同事务写入
// EventID 唯一索引保证幂等
type JournalEntry struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	EventID string `gorm:"column:event_id;type:varchar(64);uniqueIndex"`

	UserID int64  `gorm:"column:user_id;index"`
	Asset  string `gorm:"column:asset;type:varchar(16)"`

	ChangeType ChangeType `gorm:"column:change_type"`
	Amount     int64      `gorm:"column:amount"` // 变动金额 (正数)

	AvailableBefore int64 `gorm:"column:available_before"`
	AvailableAfter  int64 `gorm:"column:available_after"`
	LockedBefore    int64 `gorm:"column:locked_before"`
	LockedAfter     int64 `gorm:"column:locked_after"`

	BizType BizType `gorm:"column:biz_type;type:varchar(16)"`
	BizID   string  `gorm:"column:biz_id;type:varchar(32);index"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (JournalEntry) TableName() string {
	return "wallet_journals"
}

// ToJSON 序列化 (供 Kafka 发送)
func (e *JournalEntry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
